package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldstack/assist/internal/tools"
)

func TestSSEFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/assist/stream", nil)

	w, err := NewSSEWriter(rec, req)
	require.NoError(t, err)

	w.Send(Token("hello "))
	w.Send(Token("world"))
	w.Send(Done())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 3)
	for _, frame := range frames {
		assert.True(t, strings.HasPrefix(frame, "data: "))
	}

	var last Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[2], "data: ")), &last))
	assert.Equal(t, EventDone, last.Type)
}

func TestToolDeltaCarriesExplicitIndex(t *testing.T) {
	// Index zero is the common case; the frame must still name it so
	// clients never have to treat an absent index as zero.
	payload, err := json.Marshal(ToolDelta(0, "create_task", `{"ti`))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"index":0`)

	var decoded Event
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, 0, decoded.Index)
	assert.Equal(t, "create_task", decoded.Name)
}

func TestSSETerminalStopsEmission(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/assist/stream", nil)

	w, err := NewSSEWriter(rec, req)
	require.NoError(t, err)

	w.Send(Done())
	before := rec.Body.Len()
	w.Send(Token("late"))
	assert.Equal(t, before, rec.Body.Len(), "no events may follow a terminal event")
}

func TestSSEWriteAfterPeerCloseIsNoop(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/assist/stream", nil).WithContext(ctx)

	w, err := NewSSEWriter(rec, req)
	require.NoError(t, err)

	w.Send(Token("before close"))
	cancel()
	before := rec.Body.Len()
	w.Send(Token("after close"))
	w.Send(Done())
	assert.Equal(t, before, rec.Body.Len())
}

func TestCollectSinkText(t *testing.T) {
	sink := &CollectSink{}
	sink.Send(Token("a"))
	sink.Send(Notice("routing"))
	sink.Send(Token("b"))
	sink.Send(Done())
	assert.Equal(t, "ab", sink.Text())
}

func TestSummarizeToolResults(t *testing.T) {
	summary := SummarizeToolResults([]tools.Result{
		{Name: "create_task", Content: `{"id":"64a1f0c2e7b9d4a5c3f2e1ff","title":"water plants"}`},
		{Name: "list_tasks", Content: `[{"id":"a"},{"id":"b"}]`},
		{Name: "get_task", Failed: true, Content: "error: task not found: x"},
	})

	assert.Contains(t, summary, `Created task "water plants".`)
	assert.Contains(t, summary, "list_tasks returned 2 results.")
	assert.Contains(t, summary, "get_task: task not found: x")
	assert.Empty(t, SummarizeToolResults(nil))
}
