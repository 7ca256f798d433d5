package storage

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS log_files (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			original_name TEXT NOT NULL,
			file_size BIGINT NOT NULL,
			upload_date BIGINT NOT NULL,
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
			ts BIGINT NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (file_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_ts ON log_entries(file_id, ts)`,
		`CREATE TABLE IF NOT EXISTS analyses (
			file_id TEXT PRIMARY KEY REFERENCES log_files(id) ON DELETE CASCADE,
			created_at BIGINT NOT NULL,
			data JSONB NOT NULL
		)`,
	},
	bind: dollarPlaceholders,
}

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/gatewaylens?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, d: postgresDialect}}, nil
}

// dollarPlaceholders turns "?" into "$1", "$2", ... outside quoted literals.
func dollarPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
