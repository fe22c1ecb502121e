// Package web serves the local HTTP bridge the browser extension talks to.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/config"
	"github.com/hostalscan/guestfill/internal/history"
	"github.com/hostalscan/guestfill/internal/router"
	"github.com/hostalscan/guestfill/internal/vision"
)

const (
	defaultJobMaxAge  = 30 * time.Minute
	defaultHistoryMax = 50
)

// Handler answers extension messages.
type Handler interface {
	Handle(ctx context.Context, req router.Request) any
}

// Extractor reads identity documents.
type Extractor interface {
	ExtractDocument(ctx context.Context, image string) (vision.Result, error)
	ExtractTwoSided(ctx context.Context, front, back string) (vision.Result, error)
}

// Journal lists past outcomes.
type Journal interface {
	Recent(limit int) ([]history.Record, error)
	Stats() (history.Stats, error)
}

// Deps are the collaborators behind the bridge. Extractor and Journal may
// be nil; their routes then answer 503.
type Deps struct {
	Handler   Handler
	Extractor Extractor
	Journal   Journal
	Logger    *zap.Logger
}

type Server struct {
	config      config.Server
	handler     Handler
	extractor   Extractor
	journal     Journal
	httpServer  *http.Server
	rateLimiter *RateLimiter
	jobManager  *JobManager
	log         *zap.Logger
}

func NewServer(cfg config.Server, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		config:      cfg,
		handler:     deps.Handler,
		extractor:   deps.Extractor,
		journal:     deps.Journal,
		rateLimiter: NewRateLimiter(cfg.RatePerMinute, time.Minute),
		jobManager:  NewJobManager(),
		log:         log,
	}
}

// Start serves on 127.0.0.1 until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort("127.0.0.1", strconv.Itoa(s.config.Port)),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute, // a fill with a photo upload is slow
		IdleTimeout:  60 * time.Second,
	}

	go s.cleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("bridge listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	grace := time.Duration(s.config.ShutdownSec) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.jobManager.CancelAll()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.jobManager.Cleanup(defaultJobMaxAge)
			s.rateLimiter.Cleanup()
		}
	}
}

// Routes configures all routes
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.originCheck)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.limitBody)

		r.Post("/message", s.handleAPIMessage)
		r.Post("/scan", s.handleAPIScan)
		r.Get("/job/{jobID}/status", s.handleAPIJobStatus)
		r.Post("/job/{jobID}/cancel", s.handleAPIJobCancel)
		r.Get("/history", s.handleAPIHistory)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, router.ErrorReply{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

// handleAPIMessage answers one extension message. Application failures are
// reported in the body with success false and a 200 status.
func (s *Server) handleAPIMessage(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "invalid message: action is required")
		return
	}
	req.ID = RequestIDFrom(r.Context())
	req.Origin = history.SourceHTTP

	writeJSON(w, http.StatusOK, s.handler.Handle(r.Context(), req))
}

// ScanRequest asks for a document to be read and, optionally, filled in.
type ScanRequest struct {
	Image       string `json:"image"`
	Back        string `json:"back,omitempty"` // second side of a national ID
	Fill        bool   `json:"fill"`
	UploadPhoto bool   `json:"uploadPhoto"`
}

// handleAPIScan starts a scan job and returns its ID. The extension polls
// the job status.
func (s *Server) handleAPIScan(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "document scanning is not configured")
		return
	}

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan request: "+err.Error())
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "invalid scan request: image is required")
		return
	}

	job, active := s.jobManager.CreateExclusive()
	if active != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "a scan is already running",
			"job":     active.ToJSON(),
		})
		return
	}
	go s.runScan(job, req, RequestIDFrom(r.Context()))

	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job": job.ToJSON()})
}

func (s *Server) runScan(job *Job, req ScanRequest, requestID string) {
	ctx := job.Context()
	log := s.log.With(zap.String("job", job.ID))

	job.SetStep(StepExtracting)
	var (
		res vision.Result
		err error
	)
	if req.Back != "" {
		res, err = s.extractor.ExtractTwoSided(ctx, req.Image, req.Back)
	} else {
		res, err = s.extractor.ExtractDocument(ctx, req.Image)
	}
	if err != nil {
		if job.IsCancelled() {
			return
		}
		log.Warn("extraction failed", zap.Error(err))
		job.Fail(err)
		return
	}
	job.SetExtraction(res)

	if !req.Fill {
		job.Complete()
		return
	}

	job.SetStep(StepFilling)
	data, err := json.Marshal(res.Record)
	if err != nil {
		job.Fail(err)
		return
	}
	msg := router.Request{
		Action: router.ActionFill,
		Data:   data,
		ID:     requestID,
		Origin: history.SourceHTTP,
	}
	if req.UploadPhoto {
		msg.ImageToUpload = req.Image
	}
	reply := s.handler.Handle(ctx, msg)
	if job.IsCancelled() {
		return
	}
	if fr, ok := reply.(router.FillResult); ok {
		job.SetFill(fr)
	}
	job.Complete()
}

func (s *Server) handleAPIJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobManager.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.ToJSON())
}

func (s *Server) handleAPIJobCancel(w http.ResponseWriter, r *http.Request) {
	job := s.jobManager.Get(chi.URLParam(r, "jobID"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(job.State())})
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	limit := defaultHistoryMax
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := s.journal.Recent(limit)
	if err != nil {
		s.log.Error("failed to read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	stats, err := s.journal.Stats()
	if err != nil {
		s.log.Error("failed to read history stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	entries := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		entries = append(entries, map[string]any{
			"id":             rec.ID,
			"requestId":      rec.RequestID,
			"source":         rec.Source,
			"action":         rec.Action,
			"status":         rec.Status,
			"filledCount":    rec.FilledCount,
			"skippedCount":   rec.SkippedCount,
			"photoUploaded":  rec.PhotoUploaded,
			"documentType":   rec.DocumentType,
			"issuingCountry": rec.IssuingCountry,
			"error":          rec.Error,
			"durationMs":     rec.Duration.Milliseconds(),
			"createdAt":      rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "records": entries})
}
