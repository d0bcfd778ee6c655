// Package llm wraps the cloud chat-completion provider. It owns schema
// translation, rate-limit retries with backoff, minimum inter-request
// spacing, and the per-turn tool-call loop.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	ai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"fieldstack/assist/internal/config"
	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/metrics"
	"fieldstack/assist/internal/stream"
	"fieldstack/assist/internal/tools"
)

// ErrRateLimited means the provider kept rate limiting past the retry
// ceiling. The router treats it as the signal to try the local path.
var ErrRateLimited = errors.New("llm: provider rate limited")

// How many tool-continuation rounds one turn may take before the
// conversation is forced to conclude.
const maxToolRounds = 3

// Completion is the final outcome of a turn.
type Completion struct {
	Content     string
	ToolResults []tools.Result
}

type Client struct {
	client *ai.Client
	cfg    *config.AIConfig
	log    *zap.SugaredLogger

	// Spacing queue: the lock is held across the pre-request wait so
	// concurrent callers line up instead of bursting the provider.
	spacing sync.Mutex
	last    time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg *config.AIConfig) *Client {
	clientConfig := ai.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIURL != "" {
		clientConfig.BaseURL = cfg.OpenAIURL
	}
	return &Client{
		client: ai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		log:    core.GetLogger().With("component", "llm"),
		sleep:  sleepCtx,
	}
}

// Configured reports whether a cloud credential is present.
func (c *Client) Configured() bool {
	return c.cfg.OpenAIKey != ""
}

// Run drives one full turn: stream the completion, execute any tool
// calls, feed the results back, and repeat up to maxToolRounds. Tokens
// and tool-call fragments are forwarded to sink as they arrive.
func (c *Client) Run(ctx context.Context, messages []core.ChatMessage, registry *tools.Registry, executor *tools.Executor, chatCtx core.ChatContext, sink stream.Sink) (*Completion, error) {
	wire := convertMessages(messages)
	wireTools := convertTools(registry)
	completion := &Completion{}

	for round := 0; round < maxToolRounds; round++ {
		content, calls, err := c.streamOnce(ctx, wire, wireTools, sink)
		if err != nil {
			return nil, err
		}
		completion.Content += content

		if len(calls) == 0 {
			return completion, nil
		}

		results := executor.ExecuteAll(ctx, callsFromWire(calls), chatCtx)
		completion.ToolResults = append(completion.ToolResults, results...)

		wire = append(wire, ai.ChatCompletionMessage{
			Role:      ai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		for _, r := range results {
			wire = append(wire, ai.ChatCompletionMessage{
				Role:       ai.ChatMessageRoleTool,
				Content:    r.Content,
				ToolCallID: r.CallID,
			})
		}
	}

	return completion, nil
}

// streamOnce issues a single streaming completion. Each chunk is
// forwarded before the next one is read; the full response is never
// buffered first.
func (c *Client) streamOnce(ctx context.Context, wire []ai.ChatCompletionMessage, wireTools []ai.Tool, sink stream.Sink) (string, []ai.ToolCall, error) {
	timeout, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ccr := ai.ChatCompletionRequest{
		Model:               c.cfg.Model,
		Messages:            wire,
		MaxCompletionTokens: c.cfg.MaxTokens,
		Temperature:         c.cfg.Temperature,
		TopP:                c.cfg.TopP,
		Stream:              true,
	}
	if len(wireTools) > 0 {
		ccr.Tools = wireTools
	}

	start := time.Now()
	s, err := c.openStream(timeout, ccr)
	if err != nil {
		return "", nil, err
	}
	defer s.Close()

	var content string
	accumulator := newToolCallAccumulator()
	for {
		select {
		case <-ctx.Done():
			// Caller gone: abandon further chunk consumption.
			c.log.Debug("Context canceled, abandoning stream")
			return content, accumulator.calls(), ctx.Err()
		default:
		}

		response, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return content, accumulator.calls(), fmt.Errorf("stream receive: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			content += choice.Delta.Content
			sink.Send(stream.Token(choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := accumulator.add(tc)
			sink.Send(stream.ToolDelta(index, tc.Function.Name, tc.Function.Arguments))
		}
		if choice.FinishReason != "" {
			break
		}
	}

	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	return content, accumulator.calls(), nil
}

// openStream creates the provider stream, retrying on rate-limit
// signals with the provider-suggested delay or exponential backoff.
// Non-rate-limit errors are returned immediately.
func (c *Client) openStream(ctx context.Context, ccr ai.ChatCompletionRequest) (*ai.ChatCompletionStream, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(lastErr, attempt-1, c.cfg.RetryBase)
			c.log.Warnw("Provider rate limited, backing off", "attempt", attempt, "delay", delay)
			metrics.ProviderRetries.Inc()
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		s, err := c.client.CreateChatCompletionStream(ctx, ccr)
		if err == nil {
			return s, nil
		}
		if !isRateLimit(err) {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRateLimited, c.cfg.RetryAttempts, lastErr)
}

// pace enforces the minimum spacing between provider requests.
func (c *Client) pace(ctx context.Context) error {
	c.spacing.Lock()
	defer c.spacing.Unlock()

	if wait := c.cfg.MinSpacing - time.Since(c.last); wait > 0 {
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	c.last = time.Now()
	return nil
}

func isRateLimit(err error) bool {
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429
	}
	return false
}

var retryAfterPattern = regexp.MustCompile(`try again in (\d+(?:\.\d+)?)s`)

// retryDelay prefers the provider-suggested wait embedded in the error
// message, falling back to baseDelay doubled per attempt.
func retryDelay(err error, attempt int, base time.Duration) time.Duration {
	if err != nil {
		if m := retryAfterPattern.FindStringSubmatch(err.Error()); m != nil {
			if seconds, parseErr := strconv.ParseFloat(m[1], 64); parseErr == nil {
				return time.Duration(seconds * float64(time.Second))
			}
		}
	}
	return base << attempt
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// toolCallAccumulator assembles streamed tool-call fragments by index.
type toolCallAccumulator struct {
	byIndex map[int]*ai.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*ai.ToolCall)}
}

func (a *toolCallAccumulator) add(tc ai.ToolCall) int {
	index := 0
	if tc.Index != nil {
		index = *tc.Index
	}
	existing, ok := a.byIndex[index]
	if !ok {
		copied := tc
		a.byIndex[index] = &copied
		return index
	}
	if tc.ID != "" {
		existing.ID = tc.ID
	}
	existing.Function.Name += tc.Function.Name
	existing.Function.Arguments += tc.Function.Arguments
	return index
}

func (a *toolCallAccumulator) calls() []ai.ToolCall {
	indices := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	calls := make([]ai.ToolCall, 0, len(indices))
	for _, i := range indices {
		calls = append(calls, *a.byIndex[i])
	}
	return calls
}

func callsFromWire(calls []ai.ToolCall) []tools.Call {
	out := make([]tools.Call, 0, len(calls))
	for _, tc := range calls {
		out = append(out, tools.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out
}

func convertMessages(messages []core.ChatMessage) []ai.ChatCompletionMessage {
	wire := make([]ai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, ai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		})
	}
	return wire
}

// convertTools translates registry definitions into the provider's
// function-calling schema.
func convertTools(registry *tools.Registry) []ai.Tool {
	defs := registry.All()
	wire := make([]ai.Tool, 0, len(defs))
	for _, def := range defs {
		wire = append(wire, ai.Tool{
			Type: ai.ToolTypeFunction,
			Function: &ai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Schema,
			},
		})
	}
	return wire
}
