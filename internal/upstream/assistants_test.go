package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func collect(t *testing.T, ch <-chan Notification) []Notification {
	t.Helper()
	var notes []Notification
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return notes
			}
			notes = append(notes, n)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func TestEnsureThreadCachesPerPair(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		n := posts.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"id": "thread_" + string(rune('0'+n))})
	}))
	defer srv.Close()

	c := NewAssistantsClient(srv.URL, "test-key", time.Second, testLogger())

	id1, err := c.EnsureThread(context.Background(), "asst_1", "alice")
	require.NoError(t, err)
	id2, err := c.EnsureThread(context.Background(), "asst_1", "alice")
	require.NoError(t, err)
	id3, err := c.EnsureThread(context.Background(), "asst_1", "bob")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, int32(2), posts.Load())
}

func TestSubmitUserMessageRejectsEmpty(t *testing.T) {
	c := NewAssistantsClient("http://unused", "k", time.Second, testLogger())
	_, err := c.SubmitUserMessage(context.Background(), "thread_1", "   ", "alice")
	assert.Error(t, err)
}

func TestStartRunParsesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads/thread_1/runs", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "asst_1", body["assistant_id"])
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		sse := "event: thread.run.created\n" +
			"data: {\"id\":\"run_1\",\"thread_id\":\"thread_1\",\"status\":\"queued\"}\n\n" +
			"event: thread.message.delta\n" +
			"data: {\"id\":\"msg_1\",\"delta\":{\"content\":[{\"type\":\"text\",\"text\":{\"value\":\"He\"}}]}}\n\n" +
			"event: thread.message.delta\n" +
			"data: {\"id\":\"msg_1\",\"delta\":{\"content\":[{\"type\":\"text\",\"text\":{\"value\":\"llo!\"}}]}}\n\n" +
			"event: thread.message.completed\n" +
			"data: {\"id\":\"msg_1\",\"thread_id\":\"thread_1\",\"content\":[{\"type\":\"text\",\"text\":{\"value\":\"Hello!\"}}]}\n\n" +
			"event: thread.run.completed\n" +
			"data: {\"id\":\"run_1\",\"thread_id\":\"thread_1\",\"status\":\"completed\"}\n\n" +
			"data: [DONE]\n\n"
		w.Write([]byte(sse))
	}))
	defer srv.Close()

	c := NewAssistantsClient(srv.URL, "k", time.Second, testLogger())
	ch, err := c.StartRun(context.Background(), "thread_1", "asst_1")
	require.NoError(t, err)

	notes := collect(t, ch)
	require.Len(t, notes, 5)
	assert.Equal(t, NoteRunCreated, notes[0].Type)
	assert.Equal(t, "run_1", notes[0].RunID)
	assert.Equal(t, NoteMessageDelta, notes[1].Type)
	assert.Equal(t, "He", notes[1].TextDelta)
	assert.Equal(t, "llo!", notes[2].TextDelta)
	assert.Equal(t, NoteMessageCompleted, notes[3].Type)
	assert.Equal(t, "Hello!", notes[3].Text)
	assert.Equal(t, "msg_1", notes[3].MessageID)
	assert.Equal(t, NoteRunCompleted, notes[4].Type)
	assert.Equal(t, domain.RunCompleted, notes[4].Status)
}

func TestStartRunRequiresAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sse := "event: thread.run.requires_action\n" +
			"data: {\"id\":\"run_1\",\"thread_id\":\"thread_1\",\"status\":\"requires_action\"," +
			"\"required_action\":{\"type\":\"submit_tool_outputs\",\"submit_tool_outputs\":{\"tool_calls\":[" +
			"{\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"current_time\",\"arguments\":\"{\\\"tz\\\":\\\"UTC\\\"}\"}}," +
			"{\"id\":\"call_2\",\"type\":\"function\",\"function\":{\"name\":\"echo\",\"arguments\":\"not json\"}}" +
			"]}}}\n\n"
		w.Write([]byte(sse))
	}))
	defer srv.Close()

	c := NewAssistantsClient(srv.URL, "k", time.Second, testLogger())
	ch, err := c.StartRun(context.Background(), "thread_1", "asst_1")
	require.NoError(t, err)

	notes := collect(t, ch)
	require.Len(t, notes, 1)
	n := notes[0]
	assert.Equal(t, NoteRequiresAction, n.Type)
	require.Len(t, n.ToolCalls, 2)

	assert.Equal(t, "call_1", n.ToolCalls[0].CallID)
	assert.Equal(t, "current_time", n.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"tz": "UTC"}, n.ToolCalls[0].Arguments)
	assert.Equal(t, "run_1", n.ToolCalls[0].RunID)

	// Malformed arguments degrade to an empty map, not a dropped call.
	assert.Equal(t, "call_2", n.ToolCalls[1].CallID)
	assert.Empty(t, n.ToolCalls[1].Arguments)
}

func TestSubmitToolResultsPostsOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads/thread_1/runs/run_1/submit_tool_outputs", r.URL.Path)

		var body struct {
			ToolOutputs []map[string]string `json:"tool_outputs"`
			Stream      bool                `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)
		require.Len(t, body.ToolOutputs, 1)
		assert.Equal(t, "call_1", body.ToolOutputs[0]["tool_call_id"])
		assert.Equal(t, `{"status":true}`, body.ToolOutputs[0]["output"])

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: thread.run.completed\ndata: {\"id\":\"run_1\",\"thread_id\":\"thread_1\"}\n\n"))
	}))
	defer srv.Close()

	c := NewAssistantsClient(srv.URL, "k", time.Second, testLogger())
	ch, err := c.SubmitToolResults(context.Background(), "thread_1", "run_1", []domain.ToolResult{
		{CallID: "call_1", Output: `{"status":true}`},
	})
	require.NoError(t, err)

	notes := collect(t, ch)
	require.Len(t, notes, 1)
	assert.Equal(t, NoteRunCompleted, notes[0].Type)
}

func TestStartRunErrorBeforeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such assistant"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewAssistantsClient(srv.URL, "k", time.Second, testLogger())
	_, err := c.StartRun(context.Background(), "thread_1", "asst_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestScanEventsJoinsMultiLineData(t *testing.T) {
	raw := "event: thread.message.delta\n" +
		"data: {\"id\":\"msg_1\",\n" +
		"data: \"delta\":{\"content\":[]}}\n\n"

	var names, payloads []string
	err := scanEvents(strings.NewReader(raw), func(name, data string) {
		names = append(names, name)
		payloads = append(payloads, data)
	})
	require.NoError(t, err)

	require.Equal(t, []string{"thread.message.delta"}, names)
	assert.Equal(t, "{\"id\":\"msg_1\",\n\"delta\":{\"content\":[]}}", payloads[0])
	assert.True(t, json.Valid([]byte(payloads[0])))
}

func TestStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: error\ndata: {\"message\":\"rate limited\"}\n\n"))
	}))
	defer srv.Close()

	c := NewAssistantsClient(srv.URL, "k", time.Second, testLogger())
	ch, err := c.StartRun(context.Background(), "thread_1", "asst_1")
	require.NoError(t, err)

	notes := collect(t, ch)
	require.Len(t, notes, 1)
	assert.Equal(t, NoteError, notes[0].Type)
	assert.Contains(t, notes[0].Err, "rate limited")
}
