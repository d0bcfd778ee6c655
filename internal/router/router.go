// Package router decides, per request, whether the cloud adapter or
// the local sidecar handles a turn, and drives the chosen path to a
// terminal stream event.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fieldstack/assist/internal/config"
	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
	"fieldstack/assist/internal/llm"
	"fieldstack/assist/internal/resolver"
	"fieldstack/assist/internal/sidecar"
	"fieldstack/assist/internal/stream"
	"fieldstack/assist/internal/tools"
)

// ErrNoService is returned when neither the cloud adapter nor the
// local sidecar is configured.
var ErrNoService = errors.New("router: no assistant service available")

// State tracks a single turn through the routing machine.
type State int

const (
	Idle State = iota
	Routing
	CloudPath
	LocalPath
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Routing:
		return "routing"
	case CloudPath:
		return "cloud"
	case LocalPath:
		return "local"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Router struct {
	cfg      *config.Configuration
	resolver *resolver.Resolver
	sidecar  *sidecar.Adapter
	cloud    *llm.Client
	store    domain.Store
	perms    domain.Permissions
}

func New(cfg *config.Configuration, res *resolver.Resolver, side *sidecar.Adapter, cloud *llm.Client, store domain.Store, perms domain.Permissions) *Router {
	return &Router{
		cfg:      cfg,
		resolver: res,
		sidecar:  side,
		cloud:    cloud,
		store:    store,
		perms:    perms,
	}
}

// turn is the per-request state. Routers are shared; turns are not.
type turn struct {
	state State
	log   *zap.SugaredLogger
}

func (t *turn) to(next State) {
	t.log.Debugw("Route transition", "from", t.state.String(), "to", next.String())
	t.state = next
}

// Route handles one conversation turn. It trims history, resolves
// entity mentions in the latest user message, picks a path, and emits
// events into sink, ending with exactly one done or error event. The
// returned error mirrors the terminal error event, if any.
func (r *Router) Route(ctx context.Context, history []core.ChatMessage, chatCtx core.ChatContext, sink stream.Sink) error {
	t := &turn{state: Idle, log: core.WithChat(core.GetLogger(), chatCtx.UserID, chatCtx.TenantID)}
	t.to(Routing)

	history = r.prepare(ctx, history, chatCtx)

	var err error
	switch {
	case r.cloud.Configured():
		t.to(CloudPath)
		err = r.runCloud(ctx, history, chatCtx, sink)
		if err != nil && errors.Is(err, llm.ErrRateLimited) && r.cfg.AI.LocalFallback && r.localConfigured() {
			t.log.Warnw("Cloud path rate limited, falling back to sidecar")
			t.to(LocalPath)
			err = r.runLocal(ctx, history, chatCtx, sink)
		}
	case r.localConfigured():
		t.to(LocalPath)
		err = r.runLocal(ctx, history, chatCtx, sink)
	default:
		err = ErrNoService
	}

	if err != nil {
		t.to(Failed)
		t.log.Errorw("Route failed", "error", err)
		sink.Send(stream.Errorf("%s", userFacing(err)))
		return err
	}
	t.to(Completed)
	sink.Send(stream.Done())
	return nil
}

func (r *Router) localConfigured() bool {
	return r.cfg.Sidecar.URL != ""
}

// prepare bounds the history and rewrites entity mentions in the most
// recent user message. A missing system prompt is spliced in front so
// both paths see the same instructions.
func (r *Router) prepare(ctx context.Context, history []core.ChatMessage, chatCtx core.ChatContext) []core.ChatMessage {
	if r.cfg.AI.Prompt != "" && (len(history) == 0 || history[0].Role != core.RoleSystem) {
		history = append([]core.ChatMessage{{Role: core.RoleSystem, Content: r.cfg.AI.Prompt}}, history...)
	}
	history = core.TrimHistory(history, r.cfg.Session.MaxHistory)

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != core.RoleUser {
			continue
		}
		res := r.resolver.Resolve(ctx, history[i].Content, chatCtx)
		if res.Changed() {
			history[i].Content = res.Rewritten
		}
		break
	}
	return history
}

func (r *Router) runCloud(ctx context.Context, history []core.ChatMessage, chatCtx core.ChatContext, sink stream.Sink) error {
	registry, err := r.buildRegistry(ctx, chatCtx)
	if err != nil {
		return err
	}
	executor := tools.NewExecutor(registry)

	completion, err := r.cloud.Run(ctx, history, registry, executor, chatCtx, sink)
	if err != nil {
		return err
	}
	if completion.Content == "" && len(completion.ToolResults) > 0 {
		sink.Send(stream.Token(stream.SummarizeToolResults(completion.ToolResults)))
	}
	return nil
}

func (r *Router) runLocal(ctx context.Context, history []core.ChatMessage, chatCtx core.ChatContext, sink stream.Sink) error {
	original, parsed := lastUserText(history)
	if parsed == "" {
		return fmt.Errorf("router: no user message to process")
	}

	intent, err := r.sidecar.Process(ctx, original, parsed, chatCtx)
	if err != nil {
		return fmt.Errorf("local path: %w", err)
	}

	call, ok := callForIntent(intent, parsed)
	if !ok {
		sink.Send(stream.Token(unknownIntentReply(chatCtx.Language)))
		return nil
	}

	registry, err := r.buildRegistry(ctx, chatCtx)
	if err != nil {
		return err
	}
	result := tools.NewExecutor(registry).Execute(ctx, call, chatCtx)
	sink.Send(stream.Token(stream.SummarizeToolResults([]tools.Result{result})))
	return nil
}

// lastUserText returns the most recent user message from the prepared
// history as the (original, parsed) pair handed to the sidecar. The
// prepared history holds the resolver-rewritten text.
func lastUserText(history []core.ChatMessage) (string, string) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			return history[i].Content, history[i].Content
		}
	}
	return "", ""
}

func (r *Router) buildRegistry(ctx context.Context, chatCtx core.ChatContext) (*tools.Registry, error) {
	perms, err := r.perms.PermissionsFor(ctx, chatCtx)
	if err != nil {
		return nil, fmt.Errorf("fetching permissions: %w", err)
	}
	return tools.BuildRegistry(r.store, perms), nil
}

// callForIntent maps a sidecar classification onto a tool invocation.
// Unknown or low-signal intents map to nothing.
func callForIntent(intent *sidecar.IntentResult, parsedText string) (tools.Call, bool) {
	switch intent.Intent {
	case "create_task":
		title := intent.Title
		if title == "" {
			title = fallbackTitle(parsedText)
		}
		args := map[string]any{"title": title}
		putString(args, "description", intent.Description)
		putString(args, "priority", intent.Priority)
		putString(args, "work_order", intent.WorkOrder)
		putString(args, "project", intent.Project)
		putString(args, "client", intent.Client)
		putString(args, "due_date", intent.DueDate)
		putString(args, "start_date", intent.StartDate)
		if len(intent.Assignees) > 0 {
			args["assignees"] = intent.Assignees
		}
		if intent.EstimatedHours > 0 {
			args["estimated_hours"] = intent.EstimatedHours
		}
		return callFor("create_task", args), true
	case "update_task":
		taskID := ""
		for _, e := range intent.Entities {
			if e.Type == string(domain.TypeTask) {
				taskID = e.Value
				break
			}
		}
		if taskID == "" {
			return tools.Call{}, false
		}
		args := map[string]any{"id": taskID}
		putString(args, "title", intent.Title)
		putString(args, "priority", intent.Priority)
		putString(args, "due_date", intent.DueDate)
		return callFor("update_task", args), true
	}
	return tools.Call{}, false
}

func putString(args map[string]any, key, value string) {
	if value != "" {
		args[key] = value
	}
}

func callFor(name string, args any) tools.Call {
	payload, _ := json.Marshal(args)
	return tools.Call{ID: fmt.Sprintf("local-%d", time.Now().UnixNano()), Name: name, Arguments: string(payload)}
}

// fallbackTitle derives a short title from the request text when the
// sidecar extracted none.
func fallbackTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if title == "" {
		return "New Task"
	}
	return title
}

func unknownIntentReply(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "el") {
		return "Δεν κατάλαβα το αίτημα. Δοκιμάστε να περιγράψετε την εργασία με @άτομο, #εντολή ή +έργο."
	}
	return "I couldn't understand that request. Try describing the task with an @person, #work order or +project reference."
}

// userFacing strips wrapping detail down to a message safe to show.
func userFacing(err error) string {
	switch {
	case errors.Is(err, ErrNoService):
		return "no assistant service is available right now"
	case errors.Is(err, llm.ErrRateLimited):
		return "the assistant is receiving too many requests, please try again shortly"
	case errors.Is(err, sidecar.ErrUnavailable):
		return "the local assistant is unavailable, please try again shortly"
	}
	return "the assistant could not complete the request"
}
