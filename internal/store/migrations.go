package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and transcript events",
		SQL: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				agent_id    TEXT NOT NULL,
				user_id     TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_conversations_agent ON conversations (agent_id);
			CREATE INDEX idx_conversations_user ON conversations (user_id);

			CREATE TABLE transcript_events (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				seq              INTEGER NOT NULL,
				kind             TEXT NOT NULL,
				message_id       TEXT NOT NULL DEFAULT '',
				text             TEXT NOT NULL DEFAULT '',
				tool_name        TEXT NOT NULL DEFAULT '',
				call_id          TEXT NOT NULL DEFAULT '',
				status           TEXT NOT NULL DEFAULT '',
				error            TEXT NOT NULL DEFAULT '',
				timestamp        TEXT NOT NULL,
				UNIQUE (conversation_id, seq)
			);

			CREATE INDEX idx_transcript_conversation ON transcript_events (conversation_id, seq);
		`,
	},
}
