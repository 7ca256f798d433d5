package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	Init(ctx context.Context) error
	Close() error
	CreateFile(ctx context.Context, file model.LogFile) error
	UpdateFileStatus(ctx context.Context, id string, status model.FileStatus, message string) error
	// CompleteFile stores entries and the analysis and marks the file
	// completed in one transaction.
	CompleteFile(ctx context.Context, id string, entries []model.ParsedLogEntry, result *model.AnalysisResult) error
	ListFiles(ctx context.Context, owner string) ([]model.LogFile, error)
	GetFile(ctx context.Context, owner, id string) (model.LogFile, error)
	// ListEntries pages through a file's entries, newest first, and returns
	// the total entry count.
	ListEntries(ctx context.Context, fileID string, page, limit int) ([]model.ParsedLogEntry, int, error)
	LoadEntries(ctx context.Context, fileID string) ([]model.ParsedLogEntry, error)
	GetAnalysis(ctx context.Context, fileID string) (*model.AnalysisResult, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect carries what differs between backends: DDL and placeholders.
type dialect struct {
	name   string
	schema []string
	// bind rewrites "?" placeholders for the backend.
	bind func(query string) string
}

type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	for _, stmt := range b.d.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s init: %w", b.d.name, err)
		}
	}
	return nil
}

func (b *baseStore) q(query string) string {
	if b.d.bind == nil {
		return query
	}
	return b.d.bind(query)
}

const fileColumns = `id, filename, original_name, file_size, upload_date, status, total_entries, owner, error`

func (b *baseStore) CreateFile(ctx context.Context, f model.LogFile) error {
	if f.UploadDate.IsZero() {
		f.UploadDate = nowUTC()
	}
	if f.Status == "" {
		f.Status = model.FileProcessing
	}
	_, err := b.db.ExecContext(ctx, b.q(`INSERT INTO log_files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.Filename, f.OriginalName, f.FileSize, f.UploadDate.UTC().UnixMilli(),
		string(f.Status), f.TotalEntries, f.Owner, f.Error,
	)
	if err != nil {
		return fmt.Errorf("create file %s: %w", f.ID, err)
	}
	return nil
}

func (b *baseStore) UpdateFileStatus(ctx context.Context, id string, status model.FileStatus, message string) error {
	res, err := b.db.ExecContext(ctx, b.q(`UPDATE log_files SET status = ?, error = ? WHERE id = ?`),
		string(status), message, id)
	if err != nil {
		return fmt.Errorf("update file %s: %w", id, err)
	}
	return expectRow(res, id)
}

func (b *baseStore) CompleteFile(ctx context.Context, id string, entries []model.ParsedLogEntry, result *model.AnalysisResult) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.q(`INSERT INTO log_entries (file_id, seq, id, ts, data) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := range entries {
		e := &entries[i]
		if _, err := stmt.ExecContext(ctx, id, i, e.ID, e.Timestamp.UTC().UnixMilli(), encodeJSON(e)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert entry %d of %s: %w", i, id, err)
		}
	}
	if result != nil {
		if _, err := tx.ExecContext(ctx, b.q(`INSERT INTO analyses (file_id, created_at, data) VALUES (?, ?, ?)`),
			id, nowUTC().UnixMilli(), encodeJSON(result)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert analysis of %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, b.q(`UPDATE log_files SET status = ?, total_entries = ?, error = '' WHERE id = ?`),
		string(model.FileCompleted), len(entries), id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("complete file %s: %w", id, err)
	}
	if err := expectRow(res, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (b *baseStore) ListFiles(ctx context.Context, owner string) ([]model.LogFile, error) {
	rows, err := b.db.QueryContext(ctx, b.q(`SELECT `+fileColumns+` FROM log_files
		WHERE owner = ? ORDER BY upload_date DESC, id`), owner)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	files := []model.LogFile{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (b *baseStore) GetFile(ctx context.Context, owner, id string) (model.LogFile, error) {
	row := b.db.QueryRowContext(ctx, b.q(`SELECT `+fileColumns+` FROM log_files WHERE id = ? AND owner = ?`), id, owner)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LogFile{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return f, err
}

func (b *baseStore) ListEntries(ctx context.Context, fileID string, page, limit int) ([]model.ParsedLogEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	var total int
	if err := b.db.QueryRowContext(ctx, b.q(`SELECT COUNT(*) FROM log_entries WHERE file_id = ?`), fileID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, b.q(`SELECT data FROM log_entries WHERE file_id = ?
		ORDER BY ts DESC, seq DESC LIMIT ? OFFSET ?`), fileID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	entries, err := scanEntries(rows)
	return entries, total, err
}

func (b *baseStore) LoadEntries(ctx context.Context, fileID string) ([]model.ParsedLogEntry, error) {
	rows, err := b.db.QueryContext(ctx, b.q(`SELECT data FROM log_entries WHERE file_id = ? ORDER BY ts, seq`), fileID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	return scanEntries(rows)
}

func (b *baseStore) GetAnalysis(ctx context.Context, fileID string) (*model.AnalysisResult, error) {
	var data string
	err := b.db.QueryRowContext(ctx, b.q(`SELECT data FROM analyses WHERE file_id = ?`), fileID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis of %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("decode analysis of %s: %w", fileID, err)
	}
	return &result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (model.LogFile, error) {
	var (
		f      model.LogFile
		status string
		millis int64
	)
	if err := s.Scan(&f.ID, &f.Filename, &f.OriginalName, &f.FileSize, &millis, &status, &f.TotalEntries, &f.Owner, &f.Error); err != nil {
		return model.LogFile{}, err
	}
	f.UploadDate = time.UnixMilli(millis).UTC()
	f.Status = model.FileStatus(status)
	return f, nil
}

func scanEntries(rows *sql.Rows) ([]model.ParsedLogEntry, error) {
	defer rows.Close()
	entries := []model.ParsedLogEntry{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e model.ParsedLogEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
