package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"gantrymon/internal/api"
	"gantrymon/internal/config"
	"gantrymon/internal/ledger"
	"gantrymon/internal/logging"
	"gantrymon/internal/services"
)

const (
	requestIDHeader = "X-Request-ID"
	maxInjectBody   = 16 << 20
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("GET /status", srv.handleStatus)
	mux.HandleFunc("POST /api/files", srv.handleInject)
	mux.HandleFunc("POST /files", srv.handleInject)
	mux.HandleFunc("GET /api/tasks", srv.handleTasks)
	mux.HandleFunc("GET /api/tasks/{id}", srv.handleTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", srv.handleCancel)
	mux.HandleFunc("POST /api/tasks/{id}/requeue", srv.handleRequeue)
	mux.HandleFunc("GET /api/tasks/{id}/events", srv.handleEvents)

	unauthorized := func(w http.ResponseWriter, r *http.Request) {
		srv.writeError(w, r, http.StatusUnauthorized, "unauthorized")
	}
	srv.handler = srv.withRequestID(authMiddleware(cfg.Paths.APIToken, mux, unauthorized))
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
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

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.listener = nil
}

func (s *apiServer) address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// withRequestID tags every request with a correlation id, reusing the
// caller's X-Request-ID when present.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := services.WithRequestID(r.Context(), id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("elapsed", time.Since(start)))
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleInject(w http.ResponseWriter, r *http.Request) {
	var req api.InjectRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInjectBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "malformed JSON: "+err.Error())
		return
	}
	resp, err := s.daemon.Inject(r.Context(), req)
	if errors.Is(err, api.ErrNoPaths) {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusCreated, resp)
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	var statuses []ledger.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := ledger.ParseStatus(part)
			if !ok {
				s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	tasks, err := s.daemon.Tasks().List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.TaskListResponse{Tasks: tasks})
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.daemon.Tasks().Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.TaskResponse{Task: task})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	task, err := s.daemon.Tasks().Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("task cancelled", logging.String(logging.FieldTaskID, task.ID))
	s.writeJSON(w, r, http.StatusOK, api.TaskResponse{Task: task})
}

func (s *apiServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	task, err := s.daemon.Tasks().Requeue(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("task requeued", logging.String(logging.FieldTaskID, task.ID))
	s.writeJSON(w, r, http.StatusOK, api.TaskResponse{Task: task})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.daemon.Tasks().Events(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.EventListResponse{Events: events})
}

func (s *apiServer) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidTransition):
		s.writeError(w, r, http.StatusConflict, err.Error())
	default:
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.WithContext(r.Context(), s.logger).Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	rid, _ := services.RequestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_error",
			logging.Int("status", status),
			logging.String("path", r.URL.Path),
			logging.String("error", message))
	}
	s.writeJSON(w, r, status, api.ErrorResponse{Error: message, RequestID: rid})
}
