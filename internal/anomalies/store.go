package anomalies

import (
	"sync"
	"time"

	"gatewaylens/internal/model"
)

// Record is an anomaly tagged with the file and owner it came from.
type Record struct {
	FileID string `json:"fileId"`
	Owner  string `json:"userId"`
	model.Anomaly
}

// Store is a fixed-size ring of the most recent anomalies across files.
type Store struct {
	mu    sync.RWMutex
	buf   []Record
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) Add(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
}

func (s *Store) AddAll(fileID, owner string, list []model.Anomaly) {
	for _, a := range list {
		s.Add(Record{FileID: fileID, Owner: owner, Anomaly: a})
	}
}

// List returns up to limit of the newest records for owner, oldest first.
// An empty owner matches every record.
func (s *Store) List(owner string, limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if owner == "" || s.buf[i].Owner == owner {
			out = append(out, s.buf[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Store) Since(ts time.Time) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.buf {
		if !r.Timestamp.Before(ts) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
