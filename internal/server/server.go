package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/cwbudde/photofingerprint/internal/config"
	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/backend"
	"github.com/cwbudde/photofingerprint/internal/index"
	"github.com/cwbudde/photofingerprint/internal/metrics"
	"github.com/cwbudde/photofingerprint/internal/store"
)

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	store      store.Store
	index      *index.Index
	indexer    *index.Indexer
	jobManager *JobManager

	// uploads maps the xxhash of an uploaded body to the record built from it
	uploads *lru.Cache[uint64, string]
	limiter *rate.Limiter

	// jobs run on ctx so Shutdown can stop them
	ctx    context.Context
	cancel context.CancelFunc

	server *http.Server
}

// NewServer creates a new HTTP server over st, keeping idx in sync with
// every record it creates or deletes.
func NewServer(cfg *config.Config, st store.Store, idx *index.Index, builder backend.Builder) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		store:      st,
		index:      idx,
		jobManager: NewJobManager(),
		limiter:    newLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
	s.indexer = &index.Indexer{
		Builder: builder,
		Store:   st,
		Index:   idx,
		Workers: cfg.Index.Workers,
	}

	if cfg.Server.CacheSize > 0 {
		cache, err := lru.New[uint64, string](cfg.Server.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create upload cache: %w", err)
		}
		s.uploads = cache
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/fingerprints", s.handleCreateFingerprint)
	mux.HandleFunc("GET /api/v1/fingerprints", s.handleListFingerprints)
	mux.HandleFunc("GET /api/v1/fingerprints/{id}", s.handleGetFingerprint)
	mux.HandleFunc("DELETE /api/v1/fingerprints/{id}", s.handleDeleteFingerprint)
	mux.HandleFunc("GET /api/v1/fingerprints/{id}/similar", s.handleSimilar)
	mux.HandleFunc("POST /api/v1/search", s.handleSearch)
	mux.HandleFunc("POST /api/v1/compare", s.handleCompare)

	mux.HandleFunc("POST /api/v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/journal", s.handleGetJournal)
	mux.HandleFunc("GET /api/v1/jobs/{id}/stream", s.handleJobStream)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "fingerprints": s.index.Len()})
	})

	return s.loggingMiddleware(s.corsMiddleware(s.rateLimitMiddleware(mux)))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.cfg.Server.Addr, "fingerprints", s.index.Len())
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancel()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// readImage reads a size-limited upload body and decodes it.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, fingerprint.Pixels, bool) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", tooLarge.Limit))
		} else {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		}
		return nil, fingerprint.Pixels{}, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "image body is required")
		return nil, fingerprint.Pixels{}, false
	}

	px, err := fingerprint.Decode(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return nil, fingerprint.Pixels{}, false
	}
	return data, px, true
}

// cachedUpload returns the stored record previously built from identical
// bytes, if it still exists.
func (s *Server) cachedUpload(sum uint64) (*store.Record, bool) {
	if s.uploads == nil {
		return nil, false
	}
	id, ok := s.uploads.Get(sum)
	if !ok {
		metrics.FingerprintCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	rec, err := s.store.Load(id)
	if err != nil {
		s.uploads.Remove(sum)
		metrics.FingerprintCacheTotal.WithLabelValues("stale").Inc()
		return nil, false
	}
	metrics.FingerprintCacheTotal.WithLabelValues("hit").Inc()
	return rec, true
}

// handleCreateFingerprint handles POST /api/v1/fingerprints. The body is
// the raw image; ?source= labels the record.
func (s *Server) handleCreateFingerprint(w http.ResponseWriter, r *http.Request) {
	data, px, ok := s.readImage(w, r)
	if !ok {
		return
	}

	sum := xxhash.Sum64(data)
	if rec, ok := s.cachedUpload(sum); ok {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	fp, built, err := backend.BuildWithBackend(r.Context(), s.indexer.Builder, px)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build fingerprint: %v", err))
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}
	rec := store.NewRecord(source, px.Width, px.Height, string(built), fp)
	if err := s.store.Save(rec); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save record: %v", err))
		return
	}
	s.index.Add(rec.ID, rec.Source, rec.Fingerprint)
	if s.uploads != nil {
		s.uploads.Add(sum, rec.ID)
	}

	slog.Info("Fingerprint created", "id", rec.ID, "source", source, "keys", fp.Len())
	writeJSON(w, http.StatusCreated, rec)
}

// handleListFingerprints handles GET /api/v1/fingerprints
func (s *Server) handleListFingerprints(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// storeError maps store errors to HTTP status codes.
func storeError(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleGetFingerprint handles GET /api/v1/fingerprints/{id}
func (s *Server) handleGetFingerprint(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Load(r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteFingerprint handles DELETE /api/v1/fingerprints/{id}
func (s *Server) handleDeleteFingerprint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		storeError(w, err)
		return
	}
	s.index.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// searchParams reads ?k= and ?min=, falling back to the configured defaults.
func (s *Server) searchParams(w http.ResponseWriter, r *http.Request) (int, float64, bool) {
	k, err := queryInt(r, "k", s.cfg.Search.K)
	if err != nil || k < 0 {
		writeError(w, http.StatusBadRequest, "k must be a non-negative integer")
		return 0, 0, false
	}
	minScore, err := queryFloat(r, "min", s.cfg.Search.MinScore)
	if err != nil {
		writeError(w, http.StatusBadRequest, "min must be a number")
		return 0, 0, false
	}
	return k, minScore, true
}

// SearchResponse lists the neighbours of a query fingerprint.
type SearchResponse struct {
	ID      string        `json:"id,omitempty"`
	Matches []index.Match `json:"matches"`
}

// handleSimilar handles GET /api/v1/fingerprints/{id}/similar
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	k, minScore, ok := s.searchParams(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	fp, found := s.index.Get(id)
	if !found {
		rec, err := s.store.Load(id)
		if err != nil {
			storeError(w, err)
			return
		}
		fp = rec.Fingerprint
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		ID:      id,
		Matches: s.index.SearchExcluding(fp, k, minScore, id),
	})
}

// handleSearch handles POST /api/v1/search: the uploaded image is scored
// against the index without being stored.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	k, minScore, ok := s.searchParams(w, r)
	if !ok {
		return
	}
	_, px, ok := s.readImage(w, r)
	if !ok {
		return
	}

	fp, err := s.indexer.Builder.Build(r.Context(), px)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build fingerprint: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Matches: s.index.Search(fp, k, minScore)})
}

// CompareRequest names two stored records.
type CompareRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// CompareResponse is the similarity of two stored records.
type CompareResponse struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// handleCompare handles POST /api/v1/compare
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if req.A == "" || req.B == "" {
		writeError(w, http.StatusBadRequest, "a and b are required")
		return
	}

	a, err := s.store.Load(req.A)
	if err != nil {
		storeError(w, err)
		return
	}
	b, err := s.store.Load(req.B)
	if err != nil {
		storeError(w, err)
		return
	}

	metrics.SimilarityComparisonsTotal.Inc()
	writeJSON(w, http.StatusOK, CompareResponse{
		A:     a.ID,
		B:     b.ID,
		Score: fingerprint.Similarity(a.Fingerprint, b.Fingerprint),
	})
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var cfg JobConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if cfg.Dir == "" {
		writeError(w, http.StatusBadRequest, "dir is required")
		return
	}

	job := s.jobManager.CreateJob(cfg)
	go runJob(s.ctx, s.jobManager, s.indexer, s.cfg.DataDir, job.ID)

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(r.PathValue("id"))
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleGetJournal handles GET /api/v1/jobs/{id}/journal
func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, exists := s.jobManager.GetJob(id); !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	entries, err := store.ReadJournal(s.cfg.DataDir, id)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
