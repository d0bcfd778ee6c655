package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldstack/assist/internal/config"
	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
	"fieldstack/assist/internal/llm"
	"fieldstack/assist/internal/resolver"
	"fieldstack/assist/internal/sidecar"
	"fieldstack/assist/internal/stream"
	mocktest "fieldstack/assist/internal/testing"
)

const woID = "64a1f0c2e7b9d4a5c3f2e101"

var chatCtx = core.ChatContext{UserID: "u1", TenantID: "t1"}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Server: &config.ServerConfig{},
		AI: &config.AIConfig{
			Model:         "gpt-4o-mini",
			MaxTokens:     256,
			Timeout:       5 * time.Second,
			RetryAttempts: 0,
			RetryBase:     time.Millisecond,
		},
		Sidecar: &config.SidecarConfig{
			StartupAttempts: 1,
			StartupInterval: time.Millisecond,
			ProbeTimeout:    time.Second,
		},
		Limits:  &config.LimitsConfig{},
		Session: &config.SessionConfig{MaxHistory: 40},
		Domain:  &config.DomainConfig{},
	}
}

// fakeSidecar serves /health and /process and records the last
// process request it saw.
func fakeSidecar(t *testing.T, result sidecar.IntentResult) (*httptest.Server, *map[string]string) {
	t.Helper()
	seen := &map[string]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*seen = req
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(result))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, seen
}

func fakeProvider(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func sseText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/event-stream")
	chunk := `{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":` + jsonString(text) + `}}]}`
	stop := `{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`
	_, _ = w.Write([]byte("data: " + chunk + "\n\ndata: " + stop + "\n\ndata: [DONE]\n\n"))
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newRouter(cfg *config.Configuration, store *mocktest.MockStore, lookup *mocktest.MockLookup) *Router {
	if lookup == nil {
		lookup = &mocktest.MockLookup{}
	}
	return New(cfg,
		resolver.New(lookup),
		sidecar.New(cfg.Sidecar),
		llm.NewClient(cfg.AI),
		store,
		&mocktest.MockPermissions{Perms: []string{"*"}})
}

func lastEvent(sink *stream.CollectSink) stream.Event {
	if len(sink.Events) == 0 {
		return stream.Event{}
	}
	return sink.Events[len(sink.Events)-1]
}

func TestNoServiceConfigured(t *testing.T) {
	cfg := testConfig()
	r := newRouter(cfg, mocktest.NewMockStore(), nil)

	sink := &stream.CollectSink{}
	err := r.Route(context.Background(), []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}}, chatCtx, sink)

	assert.ErrorIs(t, err, ErrNoService)
	require.NotEmpty(t, sink.Events)
	assert.Equal(t, stream.EventError, lastEvent(sink).Type)
}

func TestLocalPathCreatesTask(t *testing.T) {
	srv, seen := fakeSidecar(t, sidecar.IntentResult{
		Intent:     "create_task",
		Title:      "Water plants",
		Priority:   "high",
		WorkOrder:  woID,
		DueDate:    "2026-09-01",
		Confidence: 0.9,
		Success:    true,
	})
	cfg := testConfig()
	cfg.Sidecar.URL = srv.URL

	store := mocktest.NewMockStore()
	lookup := &mocktest.MockLookup{Suggestions: map[string][]domain.Suggestion{
		"Garden Care": {{ID: woID, Label: "Garden Care"}},
	}}
	r := newRouter(cfg, store, lookup)

	sink := &stream.CollectSink{}
	err := r.Route(context.Background(),
		[]core.ChatMessage{{Role: core.RoleUser, Content: "create task #Garden Care for tomorrow"}},
		chatCtx, sink)

	require.NoError(t, err)
	require.Len(t, store.Created, 1)
	assert.Equal(t, "Water plants", store.Created[0].Title)
	assert.Equal(t, "high", store.Created[0].Priority)
	assert.Equal(t, woID, store.Created[0].WorkOrderID)
	assert.Equal(t, "2026-09-01", store.Created[0].DueDate)

	// The sidecar received the canonical rewrite, not the raw mention.
	assert.Contains(t, (*seen)["parsedText"], "work_order="+woID)
	assert.Equal(t, "create task #Garden Care for tomorrow", (*seen)["originalText"])

	assert.Equal(t, stream.EventDone, lastEvent(sink).Type)
	assert.Contains(t, sink.Text(), `Created task "Water plants".`)
}

func TestLocalPathUnknownIntent(t *testing.T) {
	srv, _ := fakeSidecar(t, sidecar.IntentResult{Intent: "unknown", Success: true})
	cfg := testConfig()
	cfg.Sidecar.URL = srv.URL

	store := mocktest.NewMockStore()
	r := newRouter(cfg, store, nil)

	sink := &stream.CollectSink{}
	err := r.Route(context.Background(),
		[]core.ChatMessage{{Role: core.RoleUser, Content: "what is the weather"}}, chatCtx, sink)

	require.NoError(t, err)
	assert.Empty(t, store.Created)
	assert.Equal(t, stream.EventDone, lastEvent(sink).Type)
	assert.Contains(t, sink.Text(), "couldn't understand")
}

func TestLocalPathUnknownIntentGreek(t *testing.T) {
	srv, _ := fakeSidecar(t, sidecar.IntentResult{Intent: "unknown", Success: true})
	cfg := testConfig()
	cfg.Sidecar.URL = srv.URL
	r := newRouter(cfg, mocktest.NewMockStore(), nil)

	greekCtx := chatCtx
	greekCtx.Language = "el"
	sink := &stream.CollectSink{}
	require.NoError(t, r.Route(context.Background(),
		[]core.ChatMessage{{Role: core.RoleUser, Content: "τι καιρό κάνει"}}, greekCtx, sink))
	assert.Contains(t, sink.Text(), "Δεν κατάλαβα")
}

func TestCloudPathStreamsText(t *testing.T) {
	srv := fakeProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		sseText(w, "All good.")
	})
	cfg := testConfig()
	cfg.AI.OpenAIKey = "sk-test"
	cfg.AI.OpenAIURL = srv.URL + "/v1"
	r := newRouter(cfg, mocktest.NewMockStore(), nil)

	sink := &stream.CollectSink{}
	err := r.Route(context.Background(),
		[]core.ChatMessage{{Role: core.RoleUser, Content: "hi"}}, chatCtx, sink)

	require.NoError(t, err)
	assert.Equal(t, "All good.", sink.Text())
	assert.Equal(t, stream.EventDone, lastEvent(sink).Type)
}

func TestCloudRateLimitFallsBackToLocal(t *testing.T) {
	provider := fakeProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"tokens"}}`))
	})
	side, _ := fakeSidecar(t, sidecar.IntentResult{
		Intent: "create_task", Title: "Fallback task", Success: true,
	})

	cfg := testConfig()
	cfg.AI.OpenAIKey = "sk-test"
	cfg.AI.OpenAIURL = provider.URL + "/v1"
	cfg.AI.LocalFallback = true
	cfg.Sidecar.URL = side.URL

	store := mocktest.NewMockStore()
	r := newRouter(cfg, store, nil)

	sink := &stream.CollectSink{}
	err := r.Route(context.Background(),
		[]core.ChatMessage{{Role: core.RoleUser, Content: "create task fallback"}}, chatCtx, sink)

	require.NoError(t, err)
	require.Len(t, store.Created, 1)
	assert.Equal(t, "Fallback task", store.Created[0].Title)
	assert.Equal(t, stream.EventDone, lastEvent(sink).Type)
}

func TestCloudRateLimitWithoutFallbackFails(t *testing.T) {
	provider := fakeProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"tokens"}}`))
	})
	cfg := testConfig()
	cfg.AI.OpenAIKey = "sk-test"
	cfg.AI.OpenAIURL = provider.URL + "/v1"

	r := newRouter(cfg, mocktest.NewMockStore(), nil)
	sink := &stream.CollectSink{}
	err := r.Route(context.Background(),
		[]core.ChatMessage{{Role: core.RoleUser, Content: "hi"}}, chatCtx, sink)

	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.Equal(t, stream.EventError, lastEvent(sink).Type)
	assert.Contains(t, lastEvent(sink).Error, "too many requests")
}

func TestUpdateIntentWithoutTaskEntityIsUnhandled(t *testing.T) {
	srv, _ := fakeSidecar(t, sidecar.IntentResult{Intent: "update_task", Title: "nope", Success: true})
	cfg := testConfig()
	cfg.Sidecar.URL = srv.URL

	store := mocktest.NewMockStore()
	r := newRouter(cfg, store, nil)
	sink := &stream.CollectSink{}

	require.NoError(t, r.Route(context.Background(),
		[]core.ChatMessage{{Role: core.RoleUser, Content: "update it"}}, chatCtx, sink))
	assert.Empty(t, store.Updated)
	assert.Equal(t, stream.EventDone, lastEvent(sink).Type)
}

func TestUpdateIntentRoutesToUpdateTool(t *testing.T) {
	taskID := "64a1f0c2e7b9d4a5c3f2e1aa"
	srv, _ := fakeSidecar(t, sidecar.IntentResult{
		Intent:   "update_task",
		Priority: "urgent",
		Entities: []sidecar.IntentEntity{{Type: "task", Value: taskID, Symbol: "/"}},
		Success:  true,
	})
	cfg := testConfig()
	cfg.Sidecar.URL = srv.URL

	store := mocktest.NewMockStore()
	r := newRouter(cfg, store, nil)
	sink := &stream.CollectSink{}

	require.NoError(t, r.Route(context.Background(),
		[]core.ChatMessage{{Role: core.RoleUser, Content: "make it urgent"}}, chatCtx, sink))
	require.Contains(t, store.Updated, taskID)
	assert.Equal(t, "urgent", store.Updated[taskID].Priority)
}

func TestPrepareInjectsPromptAndTrims(t *testing.T) {
	cfg := testConfig()
	cfg.AI.Prompt = "You are a field-service assistant."
	cfg.Session.MaxHistory = 4
	r := newRouter(cfg, mocktest.NewMockStore(), nil)

	history := make([]core.ChatMessage, 0, 10)
	for i := 0; i < 10; i++ {
		history = append(history, core.ChatMessage{Role: core.RoleUser, Content: "m"})
	}
	out := r.prepare(context.Background(), history, chatCtx)

	require.Len(t, out, 5)
	assert.Equal(t, core.RoleSystem, out[0].Role)
	assert.Equal(t, cfg.AI.Prompt, out[0].Content)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "cloud", CloudPath.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(99).String())
}
