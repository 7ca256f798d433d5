package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"gatewaylens/internal/analysis"
	"gatewaylens/internal/anomalies"
	"gatewaylens/internal/config"
	"gatewaylens/internal/detect"
	"gatewaylens/internal/ingest"
	"gatewaylens/internal/metrics"
	"gatewaylens/internal/model"
	"gatewaylens/internal/storage"
)

const (
	ownerHeader      = "X-Owner-ID"
	uploadField      = "logFile"
	multipartMemory  = 32 << 20
	multipartSlack   = 1 << 20
	defaultPageLimit = 50
)

type Deps struct {
	Config    *config.Manager
	Store     storage.Store
	Processor *ingest.Processor
	Analyzer  *analysis.Analyzer
	Metrics   *metrics.Store
	Anomalies *anomalies.Store
	Logger    *slog.Logger
	Version   string
}

type Server struct {
	cfg       *config.Manager
	store     storage.Store
	proc      *ingest.Processor
	analyzer  *analysis.Analyzer
	metrics   *metrics.Store
	anomalies *anomalies.Store
	logger    *slog.Logger
	version   string
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	Ingest     ingestStatus    `json:"ingest"`
	API        apiStatus       `json:"api"`
	Storage    string          `json:"storage"`
	Export     bool            `json:"export"`
	Detection  detectionStatus `json:"detection"`
	Processing metrics.Summary `json:"processing"`
}

type ingestStatus struct {
	Upload     bool     `json:"upload"`
	Spool      bool     `json:"spool"`
	Kafka      bool     `json:"kafka"`
	Extensions []string `json:"extensions"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	Enabled        []string `json:"enabled"`
	DedupeStrategy string   `json:"dedupe_strategy"`
	Timezone       string   `json:"timezone"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		store:     d.Store,
		proc:      d.Processor,
		analyzer:  d.Analyzer,
		metrics:   d.Metrics,
		anomalies: d.Anomalies,
		logger:    d.Logger,
		version:   d.Version,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/files", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)
	r.HandleFunc("/files/{id}", s.handleFile).Methods(http.MethodGet)
	r.HandleFunc("/files/{id}/entries", s.handleEntries).Methods(http.MethodGet)
	r.HandleFunc("/files/{id}/timeline", s.handleTimeline).Methods(http.MethodGet)
	r.HandleFunc("/files/{id}/anomalies", s.handleFileAnomalies).Methods(http.MethodGet)
	r.HandleFunc("/anomalies/recent", s.handleRecentAnomalies).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics/{id}", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/admin/clear", s.handleClear).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

func Start(ctx context.Context, d Deps) *http.Server {
	if d.Config == nil {
		return nil
	}
	current := d.Config.Get().API
	if !current.Enabled {
		if d.Logger != nil {
			d.Logger.Info("api disabled")
		}
		return nil
	}
	if d.Logger != nil {
		d.Logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(d).Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if d.Logger != nil {
				d.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) owner(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(ownerHeader)); v != "" {
		return v
	}
	if owner := s.cfg.Get().Ingest.DefaultOwner; owner != "" {
		return owner
	}
	return "anonymous"
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Get().API.MaxUploadBytes
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()
	if err := s.proc.Check(header.Filename, header.Size); err != nil {
		s.fail(w, err)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Upload failed")
		return
	}
	logFile, err := s.proc.Submit(r.Context(), ingest.Upload{Filename: header.Filename, Owner: s.owner(r), Data: data})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w, map[string]any{
		"logFile": logFile,
		"message": "File uploaded successfully and processing started",
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFiles(r.Context(), s.owner(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w, files)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	file, result, err := s.analysisFor(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w, map[string]any{"logFile": file, "analysis": result})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	_, result, err := s.analysisFor(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w, map[string]any{
		"timelineEvents":  result.TimelineEvents,
		"timelineSummary": result.TimelineSummary,
		"keyInsights":     result.KeyInsights,
	})
}

func (s *Server) handleFileAnomalies(w http.ResponseWriter, r *http.Request) {
	_, result, err := s.analysisFor(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w, map[string]any{"anomalies": result.Anomalies, "count": len(result.Anomalies)})
}

// analysisFor returns the stored analysis of the requested file. Files
// stored without one are re-analysed from their entries.
func (s *Server) analysisFor(r *http.Request) (model.LogFile, *model.AnalysisResult, error) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	file, err := s.store.GetFile(ctx, s.owner(r), id)
	if err != nil {
		return model.LogFile{}, nil, err
	}
	result, err := s.store.GetAnalysis(ctx, id)
	if err == nil {
		return file, result, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.LogFile{}, nil, err
	}
	entries, err := s.store.LoadEntries(ctx, id)
	if err != nil {
		return model.LogFile{}, nil, err
	}
	analyzer := s.analyzer
	if analyzer == nil && s.proc != nil {
		analyzer = s.proc.Analyzer()
	}
	if len(entries) == 0 || analyzer == nil {
		return file, emptyResult(), nil
	}
	out, err := analyzer.AnalyzeEntries(ctx, entries)
	if err != nil {
		return model.LogFile{}, nil, err
	}
	return file, &out.Result, nil
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetFile(ctx, s.owner(r), id); err != nil {
		s.fail(w, err)
		return
	}
	page := positiveInt(r.URL.Query().Get("page"), 1)
	limit := positiveInt(r.URL.Query().Get("limit"), defaultPageLimit)
	entries, total, err := s.store.ListEntries(ctx, id, page, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w, map[string]any{
		"entries": entries,
		"pagination": pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(limit))),
		},
	})
}

func (s *Server) handleRecentAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := positiveInt(r.URL.Query().Get("limit"), 0)
	owner := s.owner(r)
	var list []anomalies.Record
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		for _, rec := range s.anomalies.Since(ts) {
			if rec.Owner == owner {
				list = append(list, rec)
			}
		}
	} else {
		list = s.anomalies.List(owner, limit)
	}
	if list == nil {
		list = []anomalies.Record{}
	}
	writeOK(w, map[string]any{"anomalies": list, "count": len(list)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if id := mux.Vars(r)["id"]; id != "" {
		st, ok := s.metrics.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "No processing stats for file")
			return
		}
		writeOK(w, st)
		return
	}
	all := s.metrics.GetAll()
	writeOK(w, map[string]any{"files": all, "count": len(all), "summary": s.metrics.Summary()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			Upload:     cfg.API.Enabled,
			Spool:      cfg.Ingest.Spool.Enabled,
			Kafka:      cfg.Ingest.Kafka.Enabled,
			Extensions: cfg.Ingest.AllowedExtensions,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage: cfg.Storage.Driver,
		Export:  cfg.Export.Enabled,
		Detection: detectionStatus{
			Enabled:        detect.New(cfg.Detection, nil, nil).Enabled(),
			DedupeStrategy: cfg.Detection.DedupeStrategy,
			Timezone:       cfg.Analysis.Timezone,
		},
	}
	if s.metrics != nil {
		resp.Processing = s.metrics.Summary()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.metrics != nil {
			s.metrics.Clear()
		}
		if s.anomalies != nil {
			s.anomalies.Clear()
		}
	case "anomalies":
		if s.anomalies != nil {
			s.anomalies.Clear()
		}
	case "metrics":
		if s.metrics != nil {
			s.metrics.Clear()
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown target")
		return
	}
	writeOK(w, map[string]any{"cleared": target})
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var batch *analysis.BatchError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Log file not found")
	case errors.Is(err, ingest.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "Only .log, .txt, and .csv files are allowed")
	case errors.Is(err, ingest.ErrEmptyUpload):
		writeError(w, http.StatusBadRequest, "No file uploaded")
	case errors.Is(err, ingest.ErrUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
	case errors.As(err, &batch):
		writeError(w, http.StatusUnprocessableEntity, batch.Error())
	default:
		if s.logger != nil {
			s.logger.Error("request failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func emptyResult() *model.AnalysisResult {
	return &model.AnalysisResult{
		TopApplications: []model.NamedCount{},
		TopCategories:   []model.NamedCount{},
		TopSourceIPs:    []model.IPCount{},
		HourlyBreakdown: []model.HourCount{},
		DailyBreakdown:  []model.DateCount{},
		SuspiciousIPs:   []string{},
		Anomalies:       []model.Anomaly{},
		TimelineEvents:  []model.TimelineEvent{},
		KeyInsights:     []string{},
	}
}

func positiveInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
