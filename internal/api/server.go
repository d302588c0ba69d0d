package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ledgermark/internal/fileutil"
	"ledgermark/internal/logging"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
	"ledgermark/internal/stage"
	"ledgermark/internal/stageexec"
)

const (
	multipartMemory = 32 << 20
	uploadOverhead  = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	Bind     string
	Token    string
	Logger   *slog.Logger
	Exec     stageexec.Options
	Checkers []stage.Checker
	// Preflight, when set, adds filesystem path checks to /api/health.
	Preflight func(context.Context) []stage.Health
}

// Server serves the session API.
type Server struct {
	bind      string
	token     string
	logger    *slog.Logger
	exec      stageexec.Options
	checkers  []stage.Checker
	preflight func(context.Context) []stage.Health

	listener net.Listener
	server   *http.Server
}

// NewServer builds a server; call Start to listen or Handler to mount it.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:      strings.TrimSpace(opts.Bind),
		token:     opts.Token,
		logger:    logging.NewComponentLogger(logger, "api"),
		exec:      opts.Exec,
		checkers:  opts.Checkers,
		preflight: opts.Preflight,
	}
	if s.exec.Logger == nil {
		s.exec.Logger = logger
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		// advance waits on ledger receipts, bounded by the stage timeouts
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withRequestID)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.handleCreate)
				r.Get("/", s.handleList)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGet)
					r.Delete("/", s.handleDelete)
					r.Post("/advance", s.handleAdvance)
					r.Post("/select", s.handleSelect)
				})
			})
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})
	return r
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return services.Wrap(services.ErrConfiguration, "", "api listen", "paths.api_bind is empty", nil)
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

// Addr reports the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = NewRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.WithContext(r.Context(), s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("duration", time.Since(start)),
		)
	})
}

// authenticate requires "Authorization: Bearer <token>" when a token is
// configured.
func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.token {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var paths []stage.Health
	if s.preflight != nil {
		paths = s.preflight(r.Context())
	}
	resp := NewHealthResponse(stage.CheckAll(r.Context(), s.checkers...), paths...)
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	content, err := readUpload(w, r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	sess, err := stageexec.Create(r.Context(), s.exec, content)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: FromSession(sess)})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.exec.Store.List(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: FromSessions(list)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	sess, err := s.exec.Store.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: FromSession(sess)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if err := stageexec.Remove(r.Context(), s.exec, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdvance runs one stage. A stage that ran and failed still answers 200
// with the session; its last_error carries the failure.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var step pipeline.Step
	if raw := strings.TrimSpace(r.URL.Query().Get("step")); raw != "" {
		parsed, ok := pipeline.ParseStep(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "validation", fmt.Sprintf("unknown step %q", raw), nil)
			return
		}
		step = parsed
	}
	sess, err := stageexec.Advance(r.Context(), s.exec, id, step)
	if sess == nil {
		if err == nil {
			err = errors.New("advance returned no session")
		}
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: FromSession(sess)})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolve(w, r)
	if !ok {
		return
	}
	content, err := readUpload(w, r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	sess, err := stageexec.Reselect(r.Context(), s.exec, id, content)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: FromSession(sess)})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := s.exec.Store.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return "", false
	}
	return id, true
}

// readUpload extracts the multipart "file" part as pipeline content. An
// optional "media_type" field overrides sniffing.
func readUpload(w http.ResponseWriter, r *http.Request) (pipeline.ContentItem, error) {
	r.Body = http.MaxBytesReader(w, r.Body, fileutil.MaxContentBytes+uploadOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return pipeline.ContentItem{}, uploadError("expected multipart form with a file field", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return pipeline.ContentItem{}, uploadError("missing file field", err)
	}
	defer file.Close()
	return contentFromPart(file, header, r.FormValue("media_type"))
}

func contentFromPart(file multipart.File, header *multipart.FileHeader, mediaType string) (pipeline.ContentItem, error) {
	data, err := fileutil.ReadContent(file)
	if err != nil {
		return pipeline.ContentItem{}, uploadError(err.Error(), err)
	}
	name := filepath.Base(strings.TrimSpace(header.Filename))
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		mediaType = fileutil.SniffMediaType(name, data)
	}
	return pipeline.ContentItem{Data: data, Filename: name, MediaType: mediaType}, nil
}

func uploadError(message string, err error) error {
	return services.Wrap(services.ErrValidation, "", "read upload", message, err)
}
