package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/auth"
	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/facade"
	"github.com/HariharanV1992/crawlweave/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// defaultMaxUploadBytes is used when HTTPServerConfig.MaxUploadBytes is unset.
const defaultMaxUploadBytes = 10 << 20 // 10 MiB, matching the fetcher's default body cap

// HTTPServer exposes the ingestion API facade over plain JSON routes (C11).
// It replaces the donor's grpc-gateway reverse proxy: no generated stubs, one
// chi handler per facade method, the same middleware chain as before.
type HTTPServer struct {
	server         *http.Server
	router         *chi.Mux
	logger         *slog.Logger
	facade         *facade.Facade
	maxUploadBytes int64
}

// HTTPServerConfig holds configuration for the HTTP server.
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string // CORS allowed origins
	Facade         *facade.Facade
	JWTManager     *auth.JWTManager
	// MaxUploadBytes caps uploaded document size (§8: "a 10 MiB + 1 byte
	// upload is rejected"). Wired from fetcher.max_body_bytes so the uploaded-
	// document and crawled-document size ceilings stay in lockstep.
	MaxUploadBytes int64
}

// NewHTTPServer creates a new HTTP server wired to the ingestion facade.
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Facade == nil {
		return nil, fmt.Errorf("facade is required")
	}
	if cfg.JWTManager == nil {
		return nil, fmt.Errorf("jwt manager is required")
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler())

	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}

	s := &HTTPServer{logger: logger, facade: cfg.Facade, maxUploadBytes: maxUploadBytes}

	router.Group(func(r chi.Router) {
		r.Use(auth.BearerMiddleware(cfg.JWTManager))
		r.Route("/v1/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/start", s.handleStartTask)
				r.Post("/cancel", s.handleCancelTask)
			})
		})
		r.Route("/v1/documents", func(r chi.Router) {
			r.Post("/", s.handleIngestDocument)
			r.Post("/crawled", s.handleIngestCrawled)
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.server = server
	s.router = router
	return s, nil
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// GetRouter returns the underlying chi router for additional route registration.
func (s *HTTPServer) GetRouter() *chi.Mux {
	return s.router
}

// --- route handlers ---

type createTaskRequest struct {
	URL            string             `json:"url"`
	MaxDocuments   int                `json:"max_documents"`
	MaxPages       int                `json:"max_pages"`
	MaxWorkers     int                `json:"max_workers"`
	RequestTimeout int                `json:"request_timeout_seconds"`
	TotalTimeout   int                `json:"total_timeout_seconds"`
	PageTimeout    int                `json:"page_timeout_seconds"`
	Delay          int                `json:"delay_milliseconds"`
	Policy         domain.FetchPolicy `json:"policy"`
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserIDFromContext(r.Context())

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	task, err := s.facade.CreateCrawlTask(r.Context(), userID, facade.CreateCrawlTaskRequest{
		URL:            req.URL,
		MaxDocuments:   req.MaxDocuments,
		MaxPages:       req.MaxPages,
		MaxWorkers:     req.MaxWorkers,
		RequestTimeout: time.Duration(req.RequestTimeout) * time.Second,
		TotalTimeout:   time.Duration(req.TotalTimeout) * time.Second,
		PageTimeout:    time.Duration(req.PageTimeout) * time.Second,
		Delay:          time.Duration(req.Delay) * time.Millisecond,
		Policy:         req.Policy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *HTTPServer) handleStartTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.facade.StartCrawlTask(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *HTTPServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserIDFromContext(r.Context())
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.facade.CancelCrawlTask(r.Context(), taskID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserIDFromContext(r.Context())
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.facade.GetTaskStatus(r.Context(), taskID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserIDFromContext(r.Context())
	limit := queryInt(r, "limit", 50)
	skip := queryInt(r, "skip", 0)

	tasks, total, err := s.facade.ListUserTasks(r.Context(), userID, limit, skip)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": total})
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserIDFromContext(r.Context())
	taskID, err := pathTaskID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.facade.DeleteCrawlTask(r.Context(), taskID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserIDFromContext(r.Context())

	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, domain.NewValidationError("invalid multipart upload: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, domain.NewValidationError("missing file field: "+err.Error()))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, fmt.Errorf("failed to read uploaded file: %w", err))
		return
	}
	if int64(len(content)) > s.maxUploadBytes {
		writeError(w, domain.NewValidationError("uploaded file exceeds the size limit"))
		return
	}

	var sessionID *string
	if v := r.FormValue("session_id"); v != "" {
		sessionID = &v
	}

	doc, err := s.facade.IngestUploadedDocument(r.Context(), userID, sessionID, header.Filename, content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type ingestCrawledRequest struct {
	TaskID   uuid.UUID         `json:"task_id"`
	Filename string            `json:"filename"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

func (s *HTTPServer) handleIngestCrawled(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserIDFromContext(r.Context())

	var req ingestCrawledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	doc, err := s.facade.IngestCrawledContent(r.Context(), userID, req.TaskID, req.Filename, req.Text, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// --- request/response helpers ---

func pathTaskID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "taskID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, domain.NewValidationError("invalid task id: " + raw)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a domain error kind to its HTTP status (§7). An
// AuthorizationError and repository.ErrNotFound both map to 404, keeping a
// caller from distinguishing "not yours" from "doesn't exist".
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound), facade.IsNotFound(err):
		status = http.StatusNotFound
	case isKind[*domain.ValidationError](err):
		status = http.StatusBadRequest
	case isKind[*domain.IllegalStateError](err):
		status = http.StatusConflict
	case isKind[*domain.UnrecoverableExtractionError](err):
		status = http.StatusUnprocessableEntity
	case isKind[*domain.TransientBackendError](err):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func isKind[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// requestLoggingMiddleware logs HTTP requests.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration,
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token, X-Request-ID, X-API-Key")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint.
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

// readinessCheckHandler returns a handler for the /readyz endpoint.
func readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
		})
	}
}
