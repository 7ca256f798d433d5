package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS log_files (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			original_name TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			upload_date INTEGER NOT NULL,
			status TEXT NOT NULL,
			total_entries INTEGER NOT NULL DEFAULT 0,
			owner TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_files_owner ON log_files(owner, upload_date)`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			file_id TEXT NOT NULL REFERENCES log_files(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (file_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_ts ON log_entries(file_id, ts)`,
		`CREATE TABLE IF NOT EXISTS analyses (
			file_id TEXT PRIMARY KEY REFERENCES log_files(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
	},
}

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:gatewaylens.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, d: sqliteDialect}}, nil
}
