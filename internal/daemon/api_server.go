package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"skimmer/internal/api"
	"skimmer/internal/config"
	"skimmer/internal/logging"
	"skimmer/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/modules", srv.handleModules)
	mux.HandleFunc("/api/modules/", srv.handleModuleAction)
	mux.HandleFunc("/api/maintenance", srv.handleMaintenance)

	srv.server = &http.Server{
		Handler:           srv.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// withRequestID tags each request's context with a correlation id so logs
// emitted while handling it can be tied back to the request.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), uuid.NewString()[:8])
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// serve listens and blocks until ctx is canceled or the server fails.
func (s *apiServer) serve(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound address once serving, for tests using port 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	views := s.daemon.Queue().Jobs()
	jobs := make([]api.JobView, 0, len(views))
	for _, v := range views {
		jobs = append(jobs, api.JobView{
			ID:             v.ID,
			Type:           v.Type,
			CreatedAt:      v.CreatedAt,
			Status:         string(v.Status),
			ErrorMessage:   v.ErrorMessage,
			TotalItems:     v.TotalItems,
			ProcessedItems: v.ProcessedItems,
			Params:         v.Params,
		})
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Jobs: jobs})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.daemon.SubmitJob(req.Type, req.Params)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("job accepted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, job.Type))
	// The job is acknowledged, not executed; callers poll /api/queue for
	// progress.
	s.writeJSON(w, http.StatusAccepted, api.SubmitJobResponse{
		ID:     job.ID,
		Status: string(job.Status()),
	})
}

func (s *apiServer) handleModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	infos := s.daemon.Registry().List()
	modules := make([]api.ModuleInfo, 0, len(infos))
	for _, info := range infos {
		m := api.ModuleInfo{
			Name:    info.Name,
			Builtin: info.Builtin,
			Enabled: info.Enabled,
			Active:  info.Active,
		}
		if info.Err != nil {
			m.Error = info.Err.Error()
		}
		modules = append(modules, m)
	}
	s.writeJSON(w, http.StatusOK, api.ModuleListResponse{Modules: modules})
}

func (s *apiServer) handleModuleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/modules/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	name, err := url.PathUnescape(parts[0])
	if err != nil || name == "" {
		s.writeError(w, http.StatusBadRequest, "invalid module name")
		return
	}

	switch parts[1] {
	case "enable":
		err = s.daemon.Registry().Enable(r.Context(), name)
	case "disable":
		err = s.daemon.Registry().Disable(r.Context(), name)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"module": name, "action": parts[1]})
}

func (s *apiServer) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.MaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.daemon.SetMaintenance(req.Enabled)
	s.writeJSON(w, http.StatusOK, map[string]bool{"maintenance": req.Enabled})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
