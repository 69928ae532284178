package repository

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ai_memory_index (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  INTEGER NOT NULL,
	source_kind TEXT    NOT NULL CHECK (source_kind IN ('crs', 'message', 'comment', 'summary')),
	source_id   INTEGER NOT NULL,
	vector_id   TEXT    NOT NULL UNIQUE,
	created_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ai_memory_index_project ON ai_memory_index(project_id);
CREATE INDEX IF NOT EXISTS idx_ai_memory_index_source ON ai_memory_index(source_kind, source_id);
`

// OpenSQLite opens (or creates) a SQLite database for the memory index. The caller owns the
// returned handle and must close it.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("path", path))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to connect sqlite", goerr.V("path", path))
	}

	return db, nil
}

// Migrate creates the memory index table when it does not exist yet
func Migrate(ctx context.Context, db interfaces.Executor) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return goerr.Wrap(err, "failed to migrate memory index schema")
	}
	return nil
}
