package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
	mocktest "fieldstack/assist/internal/testing"
)

var chatCtx = core.ChatContext{UserID: "u1", TenantID: "t1"}

func TestBuildRegistryFiltersByPermission(t *testing.T) {
	store := mocktest.NewMockStore()

	r := BuildRegistry(store, []string{PermTasksRead})
	_, hasList := r.Get("list_tasks")
	_, hasCreate := r.Get("create_task")
	_, hasSchema := r.Get("describe_schema")

	assert.True(t, hasList)
	assert.False(t, hasCreate, "caller without tasks.write must not see create_task")
	assert.True(t, hasSchema, "ungated tools are always present")
}

func TestBuildRegistryWildcard(t *testing.T) {
	store := mocktest.NewMockStore()

	r := BuildRegistry(store, []string{"owner"})
	assert.Equal(t, 13, r.Len())

	r = BuildRegistry(store, []string{"*"})
	assert.Equal(t, 13, r.Len())
}

func TestRegistryNamesUnique(t *testing.T) {
	store := mocktest.NewMockStore()
	r := BuildRegistry(store, []string{"*"})

	seen := map[string]bool{}
	for _, def := range r.All() {
		assert.False(t, seen[def.Name], "duplicate tool name %s", def.Name)
		seen[def.Name] = true
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := BuildRegistry(mocktest.NewMockStore(), []string{"*"})
	e := NewExecutor(r)

	result := e.Execute(context.Background(), Call{ID: "c1", Name: "no_such_tool"}, chatCtx)

	assert.True(t, result.Failed)
	assert.Equal(t, "error: tool 'no_such_tool' not found", result.Content)
}

func TestExecuteMissingRequiredArg(t *testing.T) {
	r := BuildRegistry(mocktest.NewMockStore(), []string{"*"})
	e := NewExecutor(r)

	result := e.Execute(context.Background(), Call{Name: "get_task", Arguments: `{}`}, chatCtx)

	assert.True(t, result.Failed)
	assert.Contains(t, result.Content, `missing required argument "id"`)
}

func TestExecuteBadArgType(t *testing.T) {
	r := BuildRegistry(mocktest.NewMockStore(), []string{"*"})
	e := NewExecutor(r)

	result := e.Execute(context.Background(), Call{Name: "get_task", Arguments: `{"id": 7}`}, chatCtx)

	assert.True(t, result.Failed)
	assert.Contains(t, result.Content, `argument "id" must be a string`)
}

func TestExecuteEnumRejected(t *testing.T) {
	r := BuildRegistry(mocktest.NewMockStore(), []string{"*"})
	e := NewExecutor(r)

	result := e.Execute(context.Background(), Call{Name: "create_task",
		Arguments: `{"title": "water plants", "priority": "whenever"}`}, chatCtx)

	assert.True(t, result.Failed)
	assert.Contains(t, result.Content, `argument "priority" must be one of`)
}

func TestExecuteCreateTask(t *testing.T) {
	store := mocktest.NewMockStore()
	r := BuildRegistry(store, []string{"*"})
	e := NewExecutor(r)

	result := e.Execute(context.Background(), Call{Name: "create_task",
		Arguments: `{"title": "water plants", "work_order": "64a1f0c2e7b9d4a5c3f2e1b1", "priority": "high"}`}, chatCtx)

	require.False(t, result.Failed, result.Content)
	require.Len(t, store.Created, 1)
	assert.Equal(t, "water plants", store.Created[0].Title)
	assert.Equal(t, "64a1f0c2e7b9d4a5c3f2e1b1", store.Created[0].WorkOrderID)

	var created domain.Task
	require.NoError(t, json.Unmarshal([]byte(result.Content), &created))
	assert.Equal(t, "water plants", created.Title)
}

func TestExecuteHandlerErrorIsolated(t *testing.T) {
	store := mocktest.NewMockStore()
	store.Tasks = []domain.Task{{ID: "64a1f0c2e7b9d4a5c3f2e1b2", Title: "existing"}}
	r := BuildRegistry(store, []string{"*"})
	e := NewExecutor(r)

	results := e.ExecuteAll(context.Background(), []Call{
		{ID: "a", Name: "get_task", Arguments: `{"id": "missing-id"}`},
		{ID: "b", Name: "get_task", Arguments: `{"id": "64a1f0c2e7b9d4a5c3f2e1b2"}`},
		{ID: "c", Name: "bogus_tool"},
	}, chatCtx)

	require.Len(t, results, 3)
	assert.True(t, results[0].Failed)
	assert.Contains(t, results[0].Content, "task not found")
	assert.False(t, results[1].Failed, "sibling call must succeed despite earlier failure")
	assert.Contains(t, results[1].Content, "existing")
	assert.True(t, results[2].Failed)
}

func TestExecuteDropsUndeclaredArgs(t *testing.T) {
	store := mocktest.NewMockStore()
	store.Tasks = []domain.Task{{ID: "64a1f0c2e7b9d4a5c3f2e1b2"}}
	r := BuildRegistry(store, []string{"*"})
	e := NewExecutor(r)

	result := e.Execute(context.Background(), Call{Name: "get_task",
		Arguments: `{"id": "64a1f0c2e7b9d4a5c3f2e1b2", "verbose": true}`}, chatCtx)

	assert.False(t, result.Failed, result.Content)
}

func TestListings(t *testing.T) {
	r := BuildRegistry(mocktest.NewMockStore(), []string{"*"})

	listings := r.Listings()
	assert.Equal(t, r.Len(), len(listings))
	for _, l := range listings {
		assert.NotEmpty(t, l.Name)
		assert.NotEmpty(t, l.Description)
	}
}
