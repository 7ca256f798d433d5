package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gatewaylens/internal/config"
)

const (
	spoolTick   = 250 * time.Millisecond
	spoolSettle = time.Second
)

// Spool watches a directory and submits every file once it stops changing.
// Accepted files are removed when RemoveOnDone is set; rejected files stay
// in place and are not retried until they change again.
type Spool struct {
	dir    string
	owner  string
	remove bool
	settle time.Duration
	sub    Submitter
	logger *slog.Logger

	fsWatcher *fsnotify.Watcher
	mu        sync.Mutex
	pending   map[string]time.Time
	wg        sync.WaitGroup
}

type SpoolOption func(*Spool)

// WithSettle sets how long a file must stay unchanged before submission.
func WithSettle(d time.Duration) SpoolOption {
	return func(s *Spool) { s.settle = d }
}

func NewSpool(cfg config.SpoolConfig, sub Submitter, logger *slog.Logger, opts ...SpoolOption) (*Spool, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &Spool{
		dir:       dir,
		owner:     cfg.Owner,
		remove:    cfg.RemoveOnDone,
		settle:    spoolSettle,
		sub:       sub,
		logger:    logger,
		fsWatcher: w,
		pending:   map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start watches the directory until ctx is done. Files already present are
// picked up on the first tick.
func (s *Spool) Start(ctx context.Context) error {
	if err := s.fsWatcher.Add(s.dir); err != nil {
		_ = s.fsWatcher.Close()
		return err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		_ = s.fsWatcher.Close()
		return err
	}
	now := time.Now()
	for _, e := range entries {
		if !e.IsDir() {
			s.track(filepath.Join(s.dir, e.Name()), now.Add(-s.settle))
		}
	}
	if s.logger != nil {
		s.logger.Info("spool ingest enabled", "dir", s.dir, "remove_on_done", s.remove)
	}
	s.wg.Add(2)
	go s.eventLoop(ctx)
	go s.settleLoop(ctx)
	return nil
}

// Wait blocks until both loops have exited after ctx is done.
func (s *Spool) Wait() {
	s.wg.Wait()
}

func (s *Spool) track(path string, at time.Time) {
	s.mu.Lock()
	s.pending[path] = at
	s.mu.Unlock()
}

func (s *Spool) eventLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.fsWatcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			s.track(event.Name, time.Now())
		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
			if s.logger != nil {
				s.logger.Warn("spool watch error", "dir", s.dir, "error", err)
			}
		}
	}
}

func (s *Spool) settleLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(spoolTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, path := range s.stable(now) {
				s.submit(ctx, path)
			}
		}
	}
}

func (s *Spool) stable(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []string
	for path, at := range s.pending {
		if now.Sub(at) >= s.settle {
			ready = append(ready, path)
			delete(s.pending, path)
		}
	}
	return ready
}

func (s *Spool) submit(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if s.logger != nil && !os.IsNotExist(err) {
			s.logger.Warn("spool read failed", "path", path, "error", err)
		}
		return
	}
	file, err := s.sub.Submit(ctx, Upload{Filename: filepath.Base(path), Owner: s.owner, Data: data})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("spool file rejected", "path", path, "error", err)
		}
		return
	}
	if s.logger != nil {
		s.logger.Info("spool file submitted", "path", path, "file_id", file.ID)
	}
	if s.remove {
		if err := os.Remove(path); err != nil && s.logger != nil {
			s.logger.Warn("spool cleanup failed", "path", path, "error", err)
		}
	}
}
