package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gatewaylens/internal/analysis"
	"gatewaylens/internal/anomalies"
	"gatewaylens/internal/config"
	"gatewaylens/internal/metrics"
	"gatewaylens/internal/model"
	"gatewaylens/internal/storage"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrUploadTooLarge  = errors.New("upload too large")
	ErrEmptyUpload     = errors.New("empty upload")
)

// Upload is one batch of raw log text handed to the processor.
type Upload struct {
	Filename string
	Owner    string
	Data     []byte
}

// Submitter accepts uploads. Spool and Kafka sources feed one.
type Submitter interface {
	Submit(ctx context.Context, up Upload) (model.LogFile, error)
}

type ProcessorOption func(*Processor)

func WithExporter(exp storage.Exporter) ProcessorOption {
	return func(p *Processor) { p.exporter = exp }
}

func WithMetrics(m *metrics.Store) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

func WithAnomalies(a *anomalies.Store) ProcessorOption {
	return func(p *Processor) { p.anomalies = a }
}

func WithIDFunc(fn func() string) ProcessorOption {
	return func(p *Processor) { p.newID = fn }
}

// Processor owns the lifecycle of an uploaded file: record, analyse,
// persist, then publish stats and anomalies.
type Processor struct {
	analyzer  atomic.Pointer[analysis.Analyzer]
	store     storage.Store
	exporter  storage.Exporter
	metrics   *metrics.Store
	anomalies *anomalies.Store
	logger    *slog.Logger

	allowed      map[string]struct{}
	maxBytes     int64
	defaultOwner string
	newID        func() string

	wg sync.WaitGroup
}

func NewProcessor(cfg *config.Config, analyzer *analysis.Analyzer, store storage.Store, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:        store,
		logger:       logger,
		allowed:      map[string]struct{}{},
		maxBytes:     cfg.API.MaxUploadBytes,
		defaultOwner: cfg.Ingest.DefaultOwner,
		newID:        uuid.NewString,
	}
	for _, ext := range cfg.Ingest.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.allowed[ext] = struct{}{}
	}
	if p.defaultOwner == "" {
		p.defaultOwner = "anonymous"
	}
	p.analyzer.Store(analyzer)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Analyzer() *analysis.Analyzer {
	return p.analyzer.Load()
}

// SetAnalyzer swaps the analyzer used by jobs submitted from now on, e.g.
// after a config reload.
func (p *Processor) SetAnalyzer(a *analysis.Analyzer) {
	if a != nil {
		p.analyzer.Store(a)
	}
}

// Check validates an upload without recording it.
func (p *Processor) Check(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := p.allowed[ext]; !ok {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedType, ext, strings.Join(p.Extensions(), ", "))
	}
	if p.maxBytes > 0 && size > p.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrUploadTooLarge, size, p.maxBytes)
	}
	return nil
}

func (p *Processor) Extensions() []string {
	out := make([]string, 0, len(p.allowed))
	for ext := range p.allowed {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Submit records the file as processing and analyses it in the background.
// The returned record reflects the initial state.
func (p *Processor) Submit(ctx context.Context, up Upload) (model.LogFile, error) {
	if err := p.Check(up.Filename, int64(len(up.Data))); err != nil {
		return model.LogFile{}, err
	}
	if len(up.Data) == 0 {
		return model.LogFile{}, ErrEmptyUpload
	}
	if up.Owner == "" {
		up.Owner = p.defaultOwner
	}
	id := p.newID()
	file := model.LogFile{
		ID:           id,
		Filename:     id + strings.ToLower(filepath.Ext(up.Filename)),
		OriginalName: filepath.Base(up.Filename),
		FileSize:     int64(len(up.Data)),
		UploadDate:   time.Now().UTC(),
		Status:       model.FileProcessing,
		Owner:        up.Owner,
	}
	if err := p.store.CreateFile(ctx, file); err != nil {
		return model.LogFile{}, err
	}
	if p.logger != nil {
		p.logger.Info("file accepted", "file_id", id, "name", file.OriginalName, "bytes", file.FileSize, "owner", file.Owner)
	}
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.Process(bg, file, up.Data)
	}()
	return file, nil
}

// Process analyses data for an already recorded file and moves it to
// completed or error.
func (p *Processor) Process(ctx context.Context, file model.LogFile, data []byte) error {
	start := time.Now()
	stats := model.ProcessingStats{FileID: file.ID}

	out, err := p.Analyzer().AnalyzeContent(ctx, data)
	if err == nil {
		stats.Lines, stats.Parsed, stats.Rejected = out.Report.Lines, out.Report.Parsed, out.Report.Rejected
		stats.Anomalies = len(out.Result.Anomalies)
		err = p.store.CompleteFile(ctx, file.ID, out.Entries, &out.Result)
	}
	stats.Duration = time.Since(start)
	stats.FinishedAt = time.Now().UTC()
	if err != nil {
		stats.Status = model.FileError
		p.record(stats)
		if uerr := p.store.UpdateFileStatus(context.WithoutCancel(ctx), file.ID, model.FileError, err.Error()); uerr != nil && p.logger != nil {
			p.logger.Error("mark file failed", "file_id", file.ID, "error", uerr)
		}
		if p.logger != nil {
			p.logger.Warn("file processing failed", "file_id", file.ID, "error", err, "duration", stats.Duration)
		}
		return err
	}

	stats.Status = model.FileCompleted
	p.record(stats)
	file.Status = model.FileCompleted
	file.TotalEntries = len(out.Entries)
	if p.anomalies != nil {
		p.anomalies.AddAll(file.ID, file.Owner, out.Result.Anomalies)
	}
	if p.exporter != nil {
		if err := p.exporter.Export(ctx, file, out.Entries, out.Result.Anomalies); err != nil && p.logger != nil {
			p.logger.Warn("export failed", "file_id", file.ID, "error", err)
		}
	}
	if p.logger != nil {
		p.logger.Info("file processed",
			"file_id", file.ID,
			"entries", len(out.Entries),
			"rejected", out.Report.Rejected,
			"anomalies", len(out.Result.Anomalies),
			"duration", stats.Duration,
		)
	}
	return nil
}

func (p *Processor) record(stats model.ProcessingStats) {
	if p.metrics != nil {
		p.metrics.Update(stats)
	}
}

// Wait blocks until every background job started by Submit has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
