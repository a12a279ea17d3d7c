package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/openyield/vault/internal/logger"
	"github.com/openyield/vault/internal/state"
	"github.com/openyield/vault/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// VaultView is the read surface the API serves. Handlers run on arbitrary
// goroutines, so implementations must be safe for concurrent use
// (engine.Synced is; a bare engine is not).
type VaultView interface {
	Snapshot(now time.Time) types.EngineSnapshot
	Status() types.SystemStatus
	OpenEpochID() uint64
	Paused() bool
	SourceCount() int
	EpochHistory() []types.EpochSnapshot
	EpochByID(id uint64) (types.EpochSnapshot, bool)
	PendingRequests(requester string) []types.WithdrawRequest
}

// WebServer exposes a read-only HTTP API over the vault engine. All mutating
// paths stay on the engine's direct call surface; the API is for dashboards
// and monitoring.
type WebServer struct {
	router *mux.Router
	addr   string
	engine VaultView
}

// NewWebServer creates a new web server instance over the given engine.
func NewWebServer(addr string, eng VaultView) *WebServer {
	if addr == "" {
		addr = ":8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		addr:   addr,
		engine: eng,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/vault/sources", ws.handleGetSources).Methods("GET")
	api.HandleFunc("/vault/sources/{id}/params", ws.handleGetParamsHistory).Methods("GET")
	api.HandleFunc("/epochs", ws.handleGetEpochs).Methods("GET")
	api.HandleFunc("/epochs/{id}", ws.handleGetEpoch).Methods("GET")
	api.HandleFunc("/requests/{requester}", ws.handleGetRequests).Methods("GET")
	api.HandleFunc("/snapshots/latest", ws.handleGetLatestSnapshot).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("addr", ws.addr).Msg("Starting web server")

	server := &http.Server{
		Addr:         ws.addr,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health plus a condensed engine status.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":        "ok",
		"timestamp":     time.Now().UTC(),
		"system_status": ws.engine.Status(),
		"open_epoch_id": ws.engine.OpenEpochID(),
		"paused":        ws.engine.Paused(),
		"sources":       ws.engine.SourceCount(),
	}
	if cycle, err := state.CurrentAssessmentNumber(); err == nil {
		response["assessment"] = cycle
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultSummary returns the full engine snapshot.
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Snapshot(time.Now().UTC()))
}

// handleGetSources returns the per-source registry view.
func (ws *WebServer) handleGetSources(w http.ResponseWriter, r *http.Request) {
	snapshot := ws.engine.Snapshot(time.Now().UTC())
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"sources": snapshot.Sources,
		"count":   len(snapshot.Sources),
	})
}

// handleGetParamsHistory returns one source's applied risk parameter sets,
// newest first.
func (ws *WebServer) handleGetParamsHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid source ID")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	history, err := state.RiskParamsHistory(types.SourceID(id), limit)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to load parameter history")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"source_id": id,
		"history":   history,
		"count":     len(history),
	})
}

// handleGetEpochs returns the epoch history, newest last.
func (ws *WebServer) handleGetEpochs(w http.ResponseWriter, r *http.Request) {
	epochs := ws.engine.EpochHistory()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"epochs": epochs,
		"count":  len(epochs),
	})
}

// handleGetEpoch returns a specific epoch by id.
func (ws *WebServer) handleGetEpoch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid epoch ID")
		return
	}

	epoch, ok := ws.engine.EpochByID(id)
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Epoch not found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, epoch)
}

// handleGetRequests returns one requester's unclaimed withdrawal requests.
func (ws *WebServer) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requester := vars["requester"]
	if requester == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Requester is required")
		return
	}

	requests := ws.engine.PendingRequests(requester)
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"requester": requester,
		"requests":  requests,
		"count":     len(requests),
	})
}

// handleGetLatestSnapshot returns the most recent persisted snapshot.
func (ws *WebServer) handleGetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := state.LatestEngineSnapshot()
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "No persisted snapshot available")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, snap)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
