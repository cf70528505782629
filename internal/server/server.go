package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cogbenchlab/voicetrial/internal/service"
)

// Server exposes trial control and live status over HTTP for an experiment
// operator's browser or a companion device on the same network.
type Server struct {
	svc  service.Service
	port string

	upgrader websocket.Upgrader
}

// StatusResponse is the JSON body of the status endpoint.
type StatusResponse struct {
	Status  service.Status `json:"status"`
	Message string         `json:"message,omitempty"`
}

// StartTrialRequest is the JSON body accepted by the trial start endpoint.
type StartTrialRequest struct {
	Stimulus string `json:"stimulus"`
}

func New(svc service.Service, port string) *Server {
	return &Server{
		svc:  svc,
		port: port,
		upgrader: websocket.Upgrader{
			// Operator UI may be served from another origin on the LAN.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start runs the HTTP server. Blocks until the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/trial/start", s.handleTrialStart)
	mux.HandleFunc("/api/trial/stop", s.handleTrialStop)
	mux.HandleFunc("/api/result", s.handleResult)
	mux.HandleFunc("/api/ws", s.handleWebsocket)

	addr := ":" + s.port
	slog.Info("control server listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: s.svc.Status()})
}

func (s *Server) handleTrialStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartTrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Stimulus == "" {
		http.Error(w, "stimulus is required", http.StatusBadRequest)
		return
	}

	// The trial outlives the HTTP request; progress is observable via the
	// status endpoints and the websocket stream.
	go func() {
		if _, err := s.svc.RunTrial(context.Background(), req.Stimulus); err != nil {
			slog.Error("trial failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, StatusResponse{Status: s.svc.Status(), Message: "trial started"})
}

func (s *Server) handleTrialStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.svc.StopTrial(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: s.svc.Status(), Message: "stop requested"})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result := s.svc.LastResult()
	if result == nil {
		http.Error(w, "no trial result available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleWebsocket streams status snapshots until the client disconnects.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	slog.Debug("websocket client connected", "remote", conn.RemoteAddr())

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last service.Status
	first := true
	for range ticker.C {
		status := s.svc.Status()
		if !first && status == last {
			continue
		}
		first = false
		last = status

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(StatusResponse{Status: status}); err != nil {
			slog.Debug("websocket client gone", "error", err)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
