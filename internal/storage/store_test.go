package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

var t0 = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func memStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(config.StorageConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func file(id, owner string, at time.Time) model.LogFile {
	return model.LogFile{
		ID:           id,
		Filename:     id + ".log",
		OriginalName: "proxy.log",
		FileSize:     2048,
		UploadDate:   at,
		Owner:        owner,
	}
}

func entries(n int) []model.ParsedLogEntry {
	out := make([]model.ParsedLogEntry, n)
	for i := range out {
		risk := i
		out[i] = model.ParsedLogEntry{
			ID:        fmt.Sprintf("e%02d", i),
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			ClientIP:  "10.0.0.1",
			URL:       fmt.Sprintf("example.com/%d", i),
			Action:    "Allowed",
			RiskScore: &risk,
		}
	}
	return out
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewStore(config.StorageConfig{Driver: "mysql"})
	require.Error(t, err)
}

func TestFileLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)

	require.NoError(t, s.CreateFile(ctx, file("f1", "alice", t0)))
	require.NoError(t, s.CreateFile(ctx, file("f2", "alice", t0.Add(time.Hour))))
	require.NoError(t, s.CreateFile(ctx, file("f3", "bob", t0)))

	got, err := s.GetFile(ctx, "alice", "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FileProcessing, got.Status)
	assert.True(t, got.UploadDate.Equal(t0))
	assert.Equal(t, int64(2048), got.FileSize)

	_, err = s.GetFile(ctx, "bob", "f1")
	require.ErrorIs(t, err, ErrNotFound)

	files, err := s.ListFiles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "f2", files[0].ID)

	none, err := s.ListFiles(ctx, "carol")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	require.NoError(t, s.UpdateFileStatus(ctx, "f3", model.FileError, "invalid log format"))
	failed, err := s.GetFile(ctx, "bob", "f3")
	require.NoError(t, err)
	assert.Equal(t, model.FileError, failed.Status)
	assert.Equal(t, "invalid log format", failed.Error)

	require.ErrorIs(t, s.UpdateFileStatus(ctx, "missing", model.FileError, "x"), ErrNotFound)
}

func TestCompleteFile(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	require.NoError(t, s.CreateFile(ctx, file("f1", "alice", t0)))

	_, err := s.GetAnalysis(ctx, "f1")
	require.ErrorIs(t, err, ErrNotFound)

	batch := entries(5)
	result := &model.AnalysisResult{
		TotalRequests: 5,
		KeyInsights:   []string{"Traffic spans 1 application categories"},
	}
	require.NoError(t, s.CompleteFile(ctx, "f1", batch, result))

	f, err := s.GetFile(ctx, "alice", "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FileCompleted, f.Status)
	assert.Equal(t, 5, f.TotalEntries)

	stored, err := s.GetAnalysis(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.TotalRequests)
	assert.Equal(t, result.KeyInsights, stored.KeyInsights)

	loaded, err := s.LoadEntries(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	assert.Equal(t, "e00", loaded[0].ID)
	assert.True(t, loaded[0].Timestamp.Equal(t0))
	require.NotNil(t, loaded[3].RiskScore)
	assert.Equal(t, 3, *loaded[3].RiskScore)
}

func TestCompleteFileIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)

	err := s.CompleteFile(ctx, "missing", entries(3), &model.AnalysisResult{})
	require.ErrorIs(t, err, ErrNotFound)

	loaded, err := s.LoadEntries(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, loaded)
	_, err = s.GetAnalysis(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListEntriesPaging(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	require.NoError(t, s.CreateFile(ctx, file("f1", "alice", t0)))
	require.NoError(t, s.CompleteFile(ctx, "f1", entries(7), nil))

	page1, total, err := s.ListEntries(ctx, "f1", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, page1, 3)
	assert.Equal(t, []string{"e06", "e05", "e04"}, ids(page1))

	page3, _, err := s.ListEntries(ctx, "f1", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"e00"}, ids(page3))

	defaults, _, err := s.ListEntries(ctx, "f1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, defaults, 7)
}

func TestDollarPlaceholders(t *testing.T) {
	got := dollarPlaceholders(`UPDATE t SET a = ?, b = '?' WHERE id = ?`)
	assert.Equal(t, `UPDATE t SET a = $1, b = '?' WHERE id = $2`, got)
}

func ids(list []model.ParsedLogEntry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}
