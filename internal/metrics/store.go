package metrics

import (
	"sort"
	"sync"
	"time"

	"gatewaylens/internal/model"
)

// Store keeps the latest processing stats per file, bounded by limit.
type Store struct {
	mu        sync.RWMutex
	byFile    map[string]model.ProcessingStats
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		byFile:    make(map[string]model.ProcessingStats),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(stats model.ProcessingStats) {
	if stats.FileID == "" {
		return
	}
	if stats.FinishedAt.IsZero() {
		stats.FinishedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFile[stats.FileID] = stats
	s.updatedAt[stats.FileID] = time.Now().UTC()
	if len(s.byFile) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(fileID string) (model.ProcessingStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byFile[fileID]
	return st, ok
}

// GetAll returns every tracked run, most recently finished first.
func (s *Store) GetAll() []model.ProcessingStats {
	s.mu.RLock()
	out := make([]model.ProcessingStats, 0, len(s.byFile))
	for _, st := range s.byFile {
		out = append(out, st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].FileID < out[j].FileID
		}
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	return out
}

// Summary aggregates every tracked run by status.
type Summary struct {
	Files     int                      `json:"files"`
	ByStatus  map[model.FileStatus]int `json:"by_status"`
	Lines     int                      `json:"lines"`
	Parsed    int                      `json:"parsed"`
	Rejected  int                      `json:"rejected"`
	Anomalies int                      `json:"anomalies"`
}

func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{Files: len(s.byFile), ByStatus: map[model.FileStatus]int{}}
	for _, st := range s.byFile {
		sum.ByStatus[st.Status]++
		sum.Lines += st.Lines
		sum.Parsed += st.Parsed
		sum.Rejected += st.Rejected
		sum.Anomalies += st.Anomalies
	}
	return sum
}

func (s *Store) evictOldest() {
	var oldestFile string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestFile == "" || ts.Before(oldest) {
			oldestFile = id
			oldest = ts
		}
	}
	if oldestFile != "" {
		delete(s.byFile, oldestFile)
		delete(s.updatedAt, oldestFile)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFile = make(map[string]model.ProcessingStats)
	s.updatedAt = make(map[string]time.Time)
}
