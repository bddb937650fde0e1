// Package api provides a read-only HTTP API over the ECU snapshot.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP API server that exposes the decoded snapshot,
// the error log and the device registry.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	source    domain.SnapshotSource
	registry  domain.Registry
	logger    zerolog.Logger
	startTime time.Time
	version   string
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, source domain.SnapshotSource, registry domain.Registry) *Server {
	apiServer := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		source:    source,
		registry:  registry,
		logger:    log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
		version:   "dev",
	}

	apiServer.setupRoutes()

	return apiServer
}

// SetVersion sets the version reported by the status endpoint.
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Handler returns the router, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// mux reports method mismatches inside a subrouter as 404 unless the
	// subrouter carries its own handler.
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	s.router.MethodNotAllowedHandler = methodNotAllowed
	api.MethodNotAllowedHandler = methodNotAllowed

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/inverters", s.handleListInverters).Methods("GET")
	api.HandleFunc("/inverters/{uid}", s.handleGetInverter).Methods("GET")
	api.HandleFunc("/errors", s.handleErrors).Methods("GET")
	api.HandleFunc("/registry", s.handleRegistry).Methods("GET")
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns server and snapshot status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.source.Snapshot()

	status := map[string]interface{}{
		"status":          "ok",
		"version":         s.version,
		"uptime":          time.Since(s.startTime).String(),
		"ecuId":           snapshot.EcuID,
		"timestamp":       snapshot.Timestamp,
		"nextUpdate":      s.source.NextUpdate(),
		"inverterCount":   len(snapshot.Inverters),
		"onlineInverters": len(snapshot.OnlineInverters()),
		"errorCount":      len(s.source.Errors()),
		"ecuCount":        len(s.registry.GetAllEcus()),
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleSnapshot returns the full current snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.source.Snapshot()
	s.writeJSON(w, snapshot, http.StatusOK)
}

// handleListInverters returns the inverter records ordered by uid.
func (s *Server) handleListInverters(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.source.Snapshot()

	uids := make([]string, 0, len(snapshot.Inverters))
	for uid := range snapshot.Inverters {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	result := make([]domain.InverterRecord, 0, len(uids))
	for _, uid := range uids {
		result = append(result, snapshot.Inverters[uid])
	}

	s.writeJSON(w, map[string]interface{}{
		"ecuId":     snapshot.EcuID,
		"timestamp": snapshot.Timestamp,
		"inverters": result,
		"count":     len(result),
	}, http.StatusOK)
}

// handleGetInverter returns a single inverter record.
func (s *Server) handleGetInverter(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]

	snapshot := s.source.Snapshot()
	record, found := snapshot.Inverters[uid]
	if !found {
		s.writeError(w, "Inverter not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, record, http.StatusOK)
}

// handleErrors returns the accumulated decode error log.
func (s *Server) handleErrors(w http.ResponseWriter, _ *http.Request) {
	errors := s.source.Errors()

	s.writeJSON(w, map[string]interface{}{
		"errors": errors,
		"count":  len(errors),
	}, http.StatusOK)
}

// handleRegistry returns every ECU and inverter seen so far.
func (s *Server) handleRegistry(w http.ResponseWriter, _ *http.Request) {
	ecus := s.registry.GetAllEcus()
	sort.Slice(ecus, func(i, j int) bool { return ecus[i].ID < ecus[j].ID })

	result := make([]map[string]interface{}, 0, len(ecus))
	for _, ecu := range ecus {
		uids := make([]string, 0, len(ecu.Inverters))
		for uid := range ecu.Inverters {
			uids = append(uids, uid)
		}
		sort.Strings(uids)

		inverters := make([]map[string]interface{}, 0, len(uids))
		for _, uid := range uids {
			inv := ecu.Inverters[uid]
			inverters = append(inverters, map[string]interface{}{
				"uid":         inv.UID,
				"model":       inv.Model,
				"firstSeen":   inv.FirstSeen,
				"lastContact": inv.LastContact,
				"lastOnline":  inv.LastOnline,
			})
		}

		result = append(result, map[string]interface{}{
			"id":          ecu.ID,
			"address":     ecu.Address,
			"firmware":    ecu.Firmware,
			"lastContact": ecu.LastContact,
			"inverters":   inverters,
		})
	}

	s.writeJSON(w, map[string]interface{}{
		"ecus":  result,
		"count": len(result),
	}, http.StatusOK)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
