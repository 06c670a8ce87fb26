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
		Name:    "create ask log",
		SQL: `
			CREATE TABLE ask_log (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL,
				user_id     TEXT NOT NULL DEFAULT '',
				question    TEXT NOT NULL,
				answer      TEXT NOT NULL DEFAULT '',
				success     INTEGER NOT NULL DEFAULT 1,
				error       TEXT NOT NULL DEFAULT '',
				duration_ms INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
			);

			CREATE INDEX idx_ask_log_session ON ask_log (session_id, id);
			CREATE INDEX idx_ask_log_user ON ask_log (user_id, id);
		`,
	},
}
