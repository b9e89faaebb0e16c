package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/staking-stats/internal/artifact"
	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/metrics"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/internal/notification"
	"github.com/smartdevs17/staking-stats/internal/refresh"
	"github.com/smartdevs17/staking-stats/internal/storage"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// Version is reported by the health endpoint; set by the binary at startup.
var Version = "dev"

// Refresher runs refreshes on demand
type Refresher interface {
	Run(ctx context.Context, trigger models.Trigger) (*models.RunRecord, error)
	IsRunning() bool
	GetStats() refresh.RefresherStats
}

// Schedule exposes the upcoming scheduled runs
type Schedule interface {
	Next(from time.Time) time.Time
	NextRuns(from time.Time, n int) []time.Time
	IsRunning() bool
	Location() *time.Location
}

// Dependencies are the components served over HTTP. Scheduler,
// Notifier and Metrics may be nil.
type Dependencies struct {
	Refresher Refresher
	Store     artifact.Store
	Storage   storage.Storage
	Scheduler Schedule
	Notifier  notification.Notifier
	Metrics   *metrics.Manager
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config *config.ServerConfig
	deps   Dependencies
	server *http.Server
	router *mux.Router
	logger *logrus.Entry
	stop   chan struct{}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.ServerConfig, deps Dependencies) *HTTPServer {
	if deps.Storage == nil {
		deps.Storage = storage.NewNoopStorage()
	}
	s := &HTTPServer{
		config: cfg,
		deps:   deps,
		logger: utils.ComponentLogger("server"),
		stop:   make(chan struct{}),
	}
	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.deps.Metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}
	if s.config.EnableMetrics && s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	api.HandleFunc("/snapshot", s.snapshotHandler).Methods("GET")
	api.HandleFunc("/runs", s.listRunsHandler).Methods("GET")
	api.HandleFunc("/runs/{id}", s.getRunHandler).Methods("GET")
	if s.config.EnableTrigger {
		api.HandleFunc("/runs", s.triggerRunHandler).Methods("POST")
	}
	api.HandleFunc("/schedule", s.scheduleHandler).Methods("GET")
}

// Handler returns the root handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
		"trigger_enabled": s.config.EnableTrigger,
	}).Info("Starting HTTP server")

	if s.deps.Metrics != nil {
		s.updateHealthMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Surface immediate bind errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateHealthMetrics()
		case <-s.stop:
			return
		}
	}
}

func (s *HTTPServer) updateHealthMetrics() {
	s.deps.Metrics.UpdateSystemMetrics()
	pm := s.deps.Metrics.GetPrometheusMetrics()
	for component, healthy := range s.componentHealth() {
		pm.UpdateComponentHealth(component, healthy)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) componentHealth() map[string]bool {
	components := map[string]bool{
		"storage": s.deps.Storage.GetHealth().Healthy,
	}
	if s.deps.Scheduler != nil {
		components["scheduler"] = s.deps.Scheduler.IsRunning()
	}
	if s.deps.Notifier != nil {
		components["notification"] = s.deps.Notifier.GetHealth().Healthy
	}
	return components
}

// Health Handlers

// healthHandler reports component health; 503 when storage is down
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealth := s.deps.Storage.GetHealth()
	components := map[string]interface{}{
		"storage": storageHealth,
		"refresh": map[string]interface{}{"running": s.deps.Refresher.IsRunning()},
	}
	if s.deps.Scheduler != nil {
		components["scheduler"] = map[string]interface{}{"running": s.deps.Scheduler.IsRunning()}
	}
	if s.deps.Notifier != nil {
		components["notification"] = s.deps.Notifier.GetHealth()
	}

	status, code := "healthy", http.StatusOK
	if !storageHealth.Healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	resp := map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"version":    Version,
		"components": components,
	}
	if storageHealth.Healthy {
		succeeded := models.RunStatusSucceeded
		if run := s.latestRun(r.Context(), nil); run != nil {
			resp["last_run"] = run
		}
		if run := s.latestRun(r.Context(), &succeeded); run != nil {
			resp["last_success"] = run
		}
	}
	s.writeJSON(w, code, resp)
}

// latestRun returns nil when there is no matching run or the lookup fails
func (s *HTTPServer) latestRun(ctx context.Context, status *string) *models.RunRecord {
	run, err := s.deps.Storage.GetLatestRun(ctx, status)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.WithError(err).Warn("Failed to look up latest run")
		}
		return nil
	}
	return run
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.deps.Storage.GetStorageStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"refresh":   s.deps.Refresher.GetStats(),
		"storage":   storageStats,
	}
	if s.deps.Notifier != nil {
		stats["notification"] = s.deps.Notifier.GetStats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// Snapshot Handlers

// snapshotHandler returns the current artifact
func (s *HTTPServer) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.deps.Store.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to read snapshot", err)
		return
	}
	if snapshot == nil {
		s.writeError(w, http.StatusNotFound, "Snapshot has not been generated yet", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

// Run Handlers

// listRunsHandler lists run history, newest first
func (s *HTTPServer) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.RunFilter{}

	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}
	if v := query.Get("trigger"); v != "" {
		trigger, err := models.ParseTrigger(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid trigger", err)
			return
		}
		filter.Trigger = &trigger
	}
	if v := query.Get("status"); v != "" {
		if v != models.RunStatusSucceeded && v != models.RunStatusFailed {
			s.writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", v))
			return
		}
		filter.Status = &v
	}

	runs, err := s.deps.Storage.GetRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve runs", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"count":  len(runs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getRunHandler returns one run
func (s *HTTPServer) getRunHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := s.deps.Storage.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Run not found", nil)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve run", err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// triggerRunHandler starts a manual run and waits for it
func (s *HTTPServer) triggerRunHandler(w http.ResponseWriter, r *http.Request) {
	// the run outlives a disconnected client
	run, err := s.deps.Refresher.Run(context.WithoutCancel(r.Context()), models.TriggerManual)
	switch {
	case errors.Is(err, refresh.ErrRunInProgress):
		s.writeError(w, http.StatusConflict, "A refresh run is already in progress", nil)
	case err != nil:
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  "Refresh run failed",
			"status": http.StatusInternalServerError,
			"code":   utils.ErrorCode(err),
			"run":    run,
		})
	default:
		s.writeJSON(w, http.StatusOK, run)
	}
}

// Schedule Handlers

// scheduleHandler returns the upcoming scheduled runs
func (s *HTTPServer) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}

	now := time.Now()
	resp := map[string]interface{}{
		"enabled":  true,
		"running":  s.deps.Scheduler.IsRunning(),
		"timezone": s.deps.Scheduler.Location().String(),
		"upcoming": s.deps.Scheduler.NextRuns(now, 4),
	}
	if next := s.deps.Scheduler.Next(now); !next.IsZero() {
		resp["next_run"] = next
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// Utility Methods

func intParam(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func errorCode(status int, err error) string {
	switch status {
	case http.StatusNotFound:
		return utils.ErrCodeNotFound
	case http.StatusConflict:
		return utils.ErrCodeConflict
	case http.StatusBadRequest:
		return utils.ErrCodeValidation
	}
	return utils.ErrorCode(err)
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"code":      errorCode(status, err),
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
		}).WithError(err).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
