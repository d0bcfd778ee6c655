package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/metrics"
)

// Call is a model-issued request to invoke a named tool.
type Call struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Result is the normalized outcome of one tool call. Failures are carried
// in Content, never as an error: one bad call must not abort its siblings.
type Result struct {
	CallID  string
	Name    string
	Content string
	Failed  bool
}

// Executor runs tool calls against a registry.
type Executor struct {
	registry *Registry
}

func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs a single tool call. Unknown names, malformed arguments,
// handler errors and handler panics all come back as error-content
// results.
func (e *Executor) Execute(ctx context.Context, call Call, chatCtx core.ChatContext) Result {
	def, ok := e.registry.Get(call.Name)
	if !ok {
		metrics.ToolExecutions.WithLabelValues(call.Name, "unknown").Inc()
		return Result{CallID: call.ID, Name: call.Name, Failed: true,
			Content: fmt.Sprintf("error: tool '%s' not found", call.Name)}
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			metrics.ToolExecutions.WithLabelValues(call.Name, "bad_args").Inc()
			return Result{CallID: call.ID, Name: call.Name, Failed: true,
				Content: fmt.Sprintf("error: tool '%s' arguments are not valid JSON: %v", call.Name, err)}
		}
	}
	if err := checkArgs(def.Schema, args); err != nil {
		metrics.ToolExecutions.WithLabelValues(call.Name, "bad_args").Inc()
		return Result{CallID: call.ID, Name: call.Name, Failed: true,
			Content: fmt.Sprintf("error: tool '%s': %v", call.Name, err)}
	}

	log := core.WithTool(core.WithChat(core.GetLogger(), chatCtx.UserID, chatCtx.TenantID), call.Name, args)
	log.Info("Executing tool")
	start := time.Now()

	content, err := e.run(ctx, def, args, chatCtx)
	if err != nil {
		log.With("duration_ms", time.Since(start).Milliseconds(), "error", err.Error()).Error("Tool execution failed")
		metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
		return Result{CallID: call.ID, Name: call.Name, Failed: true,
			Content: fmt.Sprintf("error: tool '%s' failed: %v", call.Name, err)}
	}

	log.With("duration_ms", time.Since(start).Milliseconds(), "result_size", len(content)).Debug("Tool execution completed")
	metrics.ToolExecutions.WithLabelValues(call.Name, "ok").Inc()
	return Result{CallID: call.ID, Name: call.Name, Content: content}
}

// run invokes the handler, converting a panic into an error.
func (e *Executor) run(ctx context.Context, def Definition, args map[string]any, chatCtx core.ChatContext) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return def.Handler(ctx, args, chatCtx)
}

// ExecuteAll runs every call in order. Sibling results are independent.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call, chatCtx core.ChatContext) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.Execute(ctx, call, chatCtx))
	}
	return results
}

// checkArgs verifies required keys are present and provided values match
// the declared property types. The schema is the contract; handlers never
// see shapes it rejects.
func checkArgs(schema jsonschema.Definition, args map[string]any) error {
	for _, required := range schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required argument %q", required)
		}
	}
	for key, value := range args {
		prop, declared := schema.Properties[key]
		if !declared {
			// Models occasionally volunteer extra fields; drop them
			// rather than failing the call.
			delete(args, key)
			continue
		}
		if value == nil {
			continue
		}
		if err := checkType(key, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(key string, prop jsonschema.Definition, value any) error {
	switch prop.Type {
	case jsonschema.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", key)
		}
		if len(prop.Enum) > 0 {
			for _, allowed := range prop.Enum {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("argument %q must be one of %v", key, prop.Enum)
		}
	case jsonschema.Number, jsonschema.Integer:
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", key)
		}
	case jsonschema.Boolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", key)
		}
	case jsonschema.Array:
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("argument %q must be an array", key)
		}
		if prop.Items != nil {
			for _, item := range items {
				if err := checkType(key, *prop.Items, item); err != nil {
					return err
				}
			}
		}
	case jsonschema.Object:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("argument %q must be an object", key)
		}
	}
	return nil
}
