package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONRoundTrip(t *testing.T) {
	evt := Event{
		Kind:           KindFragment,
		ConversationID: "asst_1:user_1",
		MessageID:      "msg_1",
		Seq:            7,
		Timestamp:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Text:           "He",
	}

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, evt, got)
}

func TestEventJSONOmitsEmptyPayloadFields(t *testing.T) {
	evt := Event{Kind: KindStatus, ConversationID: "c", Seq: 1, Status: RunCompleted}
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "toolName")
	assert.NotContains(t, string(data), "error")
	assert.Contains(t, string(data), `"status":"completed"`)
}

func TestEnvelopeShape(t *testing.T) {
	env := Envelope{Status: false, Message: "unknown tool: frobnicate", Result: nil}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":false,"message":"unknown tool: frobnicate","result":null}`, string(data))
}
