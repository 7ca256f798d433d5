package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"gatewaylens/internal/model"
)

// Exporter receives a completed file's entries and anomalies for analytics.
type Exporter interface {
	Export(ctx context.Context, file model.LogFile, entries []model.ParsedLogEntry, anomalies []model.Anomaly) error
	Close() error
}

type ClickHouseExporter struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewClickHouse(dsn string, logger *slog.Logger) (*ClickHouseExporter, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	return &ClickHouseExporter{db: db, logger: logger}, nil
}

func (c *ClickHouseExporter) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gateway_entries (
			file_id String,
			owner String,
			id String,
			ts DateTime64(3, 'UTC'),
			client_ip String,
			url String,
			action String,
			app_name String,
			url_category String,
			response_code String,
			threat_severity String,
			bytes Int64
		) ENGINE = MergeTree ORDER BY (file_id, ts)`,
		`CREATE TABLE IF NOT EXISTS gateway_anomalies (
			file_id String,
			owner String,
			id String,
			ts DateTime64(3, 'UTC'),
			anomaly_type LowCardinality(String),
			severity LowCardinality(String),
			confidence UInt8,
			client_ip String,
			url String,
			explanation String
		) ENGINE = MergeTree ORDER BY (file_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse init: %w", err)
		}
	}
	return nil
}

// Export appends rows in two batches. Rows are never updated; a failed
// export may be retried at the cost of duplicates.
func (c *ClickHouseExporter) Export(ctx context.Context, file model.LogFile, entries []model.ParsedLogEntry, anomalies []model.Anomaly) error {
	err := c.batch(ctx, `INSERT INTO gateway_entries`, len(entries), func(stmt *sql.Stmt, i int) error {
		e := &entries[i]
		_, err := stmt.ExecContext(ctx, file.ID, file.Owner, e.ID, e.Timestamp.UTC(), e.ClientIP, e.URL,
			e.Action, e.ApplicationName(), e.URLCategory, e.ResponseCode, e.ThreatSeverity, e.Bytes())
		return err
	})
	if err != nil {
		return fmt.Errorf("export entries of %s: %w", file.ID, err)
	}
	err = c.batch(ctx, `INSERT INTO gateway_anomalies`, len(anomalies), func(stmt *sql.Stmt, i int) error {
		a := &anomalies[i]
		_, err := stmt.ExecContext(ctx, file.ID, file.Owner, a.ID, a.Timestamp.UTC(), string(a.Type),
			string(a.Severity), uint8(a.Confidence), a.ClientIP, a.URL, a.Explanation)
		return err
	})
	if err != nil {
		return fmt.Errorf("export anomalies of %s: %w", file.ID, err)
	}
	if c.logger != nil {
		c.logger.Info("exported file", "file_id", file.ID, "entries", len(entries), "anomalies", len(anomalies))
	}
	return nil
}

func (c *ClickHouseExporter) batch(ctx context.Context, query string, n int, row func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if err := row(stmt, i); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *ClickHouseExporter) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
