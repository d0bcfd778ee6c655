package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"

	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
	"fieldstack/assist/internal/resolver"
)

// Permissions the catalogue gates on. The permission service owns their
// meaning; the registry only matches names.
const (
	PermTasksRead      = "tasks.read"
	PermTasksWrite     = "tasks.write"
	PermWorkOrdersRead = "workorders.read"
	PermPersonnelRead  = "personnel.read"
	PermProjectsRead   = "projects.read"
	PermClientsRead    = "clients.read"
	PermAnalyticsRead  = "analytics.read"
)

func stringProp(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc}
}

func objectSchema(props map[string]jsonschema.Definition, required ...string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Object, Properties: props, Required: required}
}

func asJSON(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func optFloat(args map[string]any, key string) float64 {
	f, _ := args[key].(float64)
	return f
}

// catalogue is the fixed enumeration of domain operations. Handlers close
// over the store; permission filtering happens in BuildRegistry.
func catalogue(store domain.Store) []Definition {
	return []Definition{
		{
			Name:        "list_tasks",
			Description: "List tasks in the caller's tenant, optionally filtered by status, assignee id, work order id or project id.",
			Permission:  PermTasksRead,
			Schema: objectSchema(map[string]jsonschema.Definition{
				"status":     stringProp("task status filter (open, in_progress, done)"),
				"assignee":   stringProp("personnel id to filter by"),
				"work_order": stringProp("work order id to filter by"),
				"project":    stringProp("project id to filter by"),
			}),
			Handler: func(ctx context.Context, args map[string]any, chatCtx core.ChatContext) (string, error) {
				filter := map[string]string{}
				for _, key := range []string{"status", "assignee", "work_order", "project"} {
					if v := optString(args, key); v != "" {
						filter[key] = v
					}
				}
				tasks, err := store.ListTasks(ctx, chatCtx, filter)
				if err != nil {
					return "", err
				}
				return asJSON(tasks)
			},
		},
		{
			Name:        "get_task",
			Description: "Fetch a single task by its id.",
			Permission:  PermTasksRead,
			Schema: objectSchema(map[string]jsonschema.Definition{
				"id": stringProp("task id"),
			}, "id"),
			Handler: func(ctx context.Context, args map[string]any, chatCtx core.ChatContext) (string, error) {
				task, err := store.GetTask(ctx, chatCtx, optString(args, "id"))
				if err != nil {
					return "", err
				}
				return asJSON(task)
			},
		},
		{
			Name:        "create_task",
			Description: "Create a task. Use resolved entity ids for assignees, work order, project and client. Dates are ISO 8601.",
			Permission:  PermTasksWrite,
			Schema: objectSchema(map[string]jsonschema.Definition{
				"title":           stringProp("task title"),
				"description":     stringProp("longer task description"),
				"priority":        {Type: jsonschema.String, Description: "task priority", Enum: []string{"low", "medium", "high", "urgent"}},
				"assignees":       {Type: jsonschema.Array, Description: "personnel ids to assign", Items: &jsonschema.Definition{Type: jsonschema.String}},
				"work_order":      stringProp("work order id"),
				"project":         stringProp("project id"),
				"client":          stringProp("client id"),
				"due_date":        stringProp("due date, ISO 8601"),
				"start_date":      stringProp("start date, ISO 8601"),
				"estimated_hours": {Type: jsonschema.Number, Description: "estimated effort in hours"},
			}, "title"),
			Handler: func(ctx context.Context, args map[string]any, chatCtx core.ChatContext) (string, error) {
				task, err := store.CreateTask(ctx, chatCtx, domain.TaskInput{
					Title:          optString(args, "title"),
					Description:    optString(args, "description"),
					Priority:       optString(args, "priority"),
					Assignees:      stringSlice(args["assignees"]),
					WorkOrderID:    optString(args, "work_order"),
					ProjectID:      optString(args, "project"),
					ClientID:       optString(args, "client"),
					DueDate:        optString(args, "due_date"),
					StartDate:      optString(args, "start_date"),
					EstimatedHours: optFloat(args, "estimated_hours"),
				})
				if err != nil {
					return "", err
				}
				return asJSON(task)
			},
		},
		{
			Name:        "update_task",
			Description: "Update fields of an existing task by id. Only provided fields change.",
			Permission:  PermTasksWrite,
			Schema: objectSchema(map[string]jsonschema.Definition{
				"id":              stringProp("task id"),
				"title":           stringProp("new title"),
				"description":     stringProp("new description"),
				"priority":        {Type: jsonschema.String, Description: "new priority", Enum: []string{"low", "medium", "high", "urgent"}},
				"status":          stringProp("new status"),
				"assignees":       {Type: jsonschema.Array, Description: "replacement personnel ids", Items: &jsonschema.Definition{Type: jsonschema.String}},
				"due_date":        stringProp("new due date, ISO 8601"),
				"start_date":      stringProp("new start date, ISO 8601"),
				"estimated_hours": {Type: jsonschema.Number, Description: "new estimate in hours"},
			}, "id"),
			Handler: func(ctx context.Context, args map[string]any, chatCtx core.ChatContext) (string, error) {
				task, err := store.UpdateTask(ctx, chatCtx, optString(args, "id"), domain.TaskInput{
					Title:          optString(args, "title"),
					Description:    optString(args, "description"),
					Priority:       optString(args, "priority"),
					Status:         optString(args, "status"),
					Assignees:      stringSlice(args["assignees"]),
					DueDate:        optString(args, "due_date"),
					StartDate:      optString(args, "start_date"),
					EstimatedHours: optFloat(args, "estimated_hours"),
				})
				if err != nil {
					return "", err
				}
				return asJSON(task)
			},
		},
		{
			Name:        "list_work_orders",
			Description: "List work orders in the caller's tenant, optionally filtered by status or client id.",
			Permission:  PermWorkOrdersRead,
			Schema: objectSchema(map[string]jsonschema.Definition{
				"status": stringProp("work order status filter"),
				"client": stringProp("client id to filter by"),
			}),
			Handler: func(ctx context.Context, args map[string]any, chatCtx core.ChatContext) (string, error) {
				filter := map[string]string{}
				for _, key := range []string{"status", "client"} {
					if v := optString(args, key); v != "" {
						filter[key] = v
					}
				}
				orders, err := store.ListWorkOrders(ctx, chatCtx, filter)
				if err != nil {
					return "", err
				}
				return asJSON(orders)
			},
		},
		{
			Name:        "get_work_order",
			Description: "Fetch a single work order by its id.",
			Permission:  PermWorkOrdersRead,
			Schema: objectSchema(map[string]jsonschema.Definition{
				"id": stringProp("work order id"),
			}, "id"),
			Handler: func(ctx context.Context, args map[string]any, chatCtx core.ChatContext) (string, error) {
				order, err := store.GetWorkOrder(ctx, chatCtx, optString(args, "id"))
				if err != nil {
					return "", err
				}
				return asJSON(order)
			},
		},
		{
			Name:        "list_personnel",
			Description: "List the tenant's personnel.",
			Permission:  PermPersonnelRead,
			Schema:      objectSchema(map[string]jsonschema.Definition{}),
			Handler: func(ctx context.Context, _ map[string]any, chatCtx core.ChatContext) (string, error) {
				people, err := store.ListPersonnel(ctx, chatCtx)
				if err != nil {
					return "", err
				}
				return asJSON(people)
			},
		},
		{
			Name:        "list_projects",
			Description: "List the tenant's projects.",
			Permission:  PermProjectsRead,
			Schema:      objectSchema(map[string]jsonschema.Definition{}),
			Handler: func(ctx context.Context, _ map[string]any, chatCtx core.ChatContext) (string, error) {
				projects, err := store.ListProjects(ctx, chatCtx)
				if err != nil {
					return "", err
				}
				return asJSON(projects)
			},
		},
		{
			Name:        "list_clients",
			Description: "List the tenant's clients.",
			Permission:  PermClientsRead,
			Schema:      objectSchema(map[string]jsonschema.Definition{}),
			Handler: func(ctx context.Context, _ map[string]any, chatCtx core.ChatContext) (string, error) {
				clients, err := store.ListClients(ctx, chatCtx)
				if err != nil {
					return "", err
				}
				return asJSON(clients)
			},
		},
		{
			Name:        "workload_summary",
			Description: "Cross-entity analytics: open and overdue task counts, active work orders, tasks per person.",
			Permission:  PermAnalyticsRead,
			Schema:      objectSchema(map[string]jsonschema.Definition{}),
			Handler: func(ctx context.Context, _ map[string]any, chatCtx core.ChatContext) (string, error) {
				summary, err := store.Workload(ctx, chatCtx)
				if err != nil {
					return "", err
				}
				return asJSON(summary)
			},
		},
		{
			Name:        "describe_schema",
			Description: "Describe the referenceable entity types, their mention symbols and writable task fields.",
			Schema:      objectSchema(map[string]jsonschema.Definition{}),
			Handler: func(_ context.Context, _ map[string]any, _ core.ChatContext) (string, error) {
				return asJSON(map[string]any{
					"symbols": map[string]string{
						"@": string(domain.TypePersonnel),
						"#": string(domain.TypeWorkOrder),
						"/": string(domain.TypeTask),
						"+": string(domain.TypeProject),
						"&": string(domain.TypeClient),
					},
					"reference_format": "{type}={id}, id is a 24 character hex string",
					"task_fields": []string{
						"title", "description", "priority", "status", "assignees",
						"work_order", "project", "client", "due_date", "start_date", "estimated_hours",
					},
				})
			},
		},
		{
			Name:        "lookup_names",
			Description: "Resolve entity ids of one type to their display names.",
			Permission:  PermTasksRead,
			Schema: objectSchema(map[string]jsonschema.Definition{
				"type": {Type: jsonschema.String, Description: "entity type", Enum: []string{"personnel", "work_order", "task", "project", "client"}},
				"ids":  {Type: jsonschema.Array, Description: "entity ids to resolve", Items: &jsonschema.Definition{Type: jsonschema.String}},
			}, "type", "ids"),
			Handler: func(ctx context.Context, args map[string]any, chatCtx core.ChatContext) (string, error) {
				entityType := optString(args, "type")
				if !domain.KnownType(entityType) {
					return "", fmt.Errorf("unknown entity type %q", entityType)
				}
				names, err := store.LookupNames(ctx, chatCtx, domain.EntityType(entityType), stringSlice(args["ids"]))
				if err != nil {
					return "", err
				}
				return asJSON(names)
			},
		},
		{
			Name:        "validate_references",
			Description: "Check a text for well-formed {type}={id} references and return the extracted entities.",
			Schema: objectSchema(map[string]jsonschema.Definition{
				"text": stringProp("text containing canonical references"),
			}, "text"),
			Handler: func(_ context.Context, args map[string]any, _ core.ChatContext) (string, error) {
				return asJSON(resolver.Validate(optString(args, "text")))
			},
		},
	}
}
