package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/relay/internal/domain"
)

// TranscriptStore persists the durable event stream of each
// conversation.
type TranscriptStore struct {
	db *DB
}

// NewTranscriptStore creates a transcript store on the given database.
func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// SaveEvent records one event, creating the conversation row on first
// use. Saving the same (conversation, seq) twice is a no-op.
func (s *TranscriptStore) SaveEvent(ctx context.Context, evt domain.Event) error {
	agentID, userID := splitConversationID(evt.ConversationID)

	if _, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO conversations (id, agent_id, user_id) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET updated_at = datetime('now')
	`, evt.ConversationID, agentID, userID); err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	if _, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO transcript_events
			(conversation_id, seq, kind, message_id, text, tool_name, call_id, status, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, seq) DO NOTHING
	`, evt.ConversationID, evt.Seq, string(evt.Kind), evt.MessageID, evt.Text,
		evt.ToolName, evt.CallID, string(evt.Status), evt.Error,
		evt.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit most recent events for a
// conversation, oldest first. limit <= 0 returns everything.
func (s *TranscriptStore) RecentEvents(ctx context.Context, conversationID string, limit int) ([]domain.Event, error) {
	query := `
		SELECT seq, kind, message_id, text, tool_name, call_id, status, error, timestamp
		FROM transcript_events
		WHERE conversation_id = ?
		ORDER BY seq DESC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var evt domain.Event
		var kind, status, ts string
		if err := rows.Scan(&evt.Seq, &kind, &evt.MessageID, &evt.Text,
			&evt.ToolName, &evt.CallID, &status, &evt.Error, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		evt.ConversationID = conversationID
		evt.Kind = domain.EventKind(kind)
		evt.Status = domain.RunStatus(status)
		evt.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	// Query is newest-first for the LIMIT; flip to chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Conversations lists the stored conversation IDs, most recently
// updated first.
func (s *TranscriptStore) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT id FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func splitConversationID(id string) (agentID, userID string) {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}
