// Package web exposes the read-only query API over the robot state store
// and a websocket feed of resolution cycle events. It reads the store only
// and never blocks on the resolution pipeline.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/fleetmon/internal/config"
	"github.com/mtzanidakis/fleetmon/internal/fleet"
	"github.com/mtzanidakis/fleetmon/internal/natsbus"
	"github.com/mtzanidakis/fleetmon/internal/store"
	"github.com/nats-io/nats.go"
	"golang.org/x/crypto/bcrypt"
)

// Stable machine-readable error codes for the query API, carried over from
// the deployed wire contract.
const (
	CodeIncorrectInput         = 0x835
	CodeIncorrectDBRecord      = 0x836
	CodeDeserializationFailure = 0x837
)

type Server struct {
	store     *store.Store
	bus       *natsbus.Bus
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	numAgents int
	version   string
	startedAt time.Time
}

// NewServer builds the query server. bus may be nil (no websocket feed).
func NewServer(s *store.Store, bus *natsbus.Bus, cfg config.WebConfig, numAgents int, version string) *Server {
	return &Server{
		store:     s,
		bus:       bus,
		hub:       NewHub(),
		cfg:       cfg,
		numAgents: numAgents,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /state/{device_id}", s.handleState)
	mux.HandleFunc("GET /state/", s.handleStateNoID)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.Auth != "" && !s.checkAuth(w, r) {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth validates Basic Auth against the configured password. A bcrypt
// hash in the config is verified as such; anything else is a direct
// comparison.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if _, pass, ok := r.BasicAuth(); ok {
		if strings.HasPrefix(s.cfg.Auth, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth), []byte(pass)) == nil {
				return true
			}
		} else if pass == s.cfg.Auth {
			return true
		}
	}

	w.Header().Set("WWW-Authenticate", `Basic realm="fleetmon"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Collision Monitor")
}

// handleState serves the last-known state record for one robot. Error
// responses carry a stable code so callers can tell an unknown robot from
// a corrupt record.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if deviceID == "" {
		jsonCodeError(w, CodeIncorrectInput, "empty device id")
		return
	}

	raw, err := s.store.GetRobotRaw(deviceID)
	if err != nil {
		slog.Error("query robot state", "device", deviceID, "error", err)
		jsonCodeError(w, CodeIncorrectDBRecord, "record lookup failed")
		return
	}
	if raw == nil {
		jsonCodeError(w, CodeIncorrectDBRecord, "no record for device id")
		return
	}

	// Round-trip the stored record so a row that no longer decodes surfaces
	// a distinct code instead of being served verbatim.
	var robot fleet.Robot
	if err := json.Unmarshal(raw, &robot); err != nil {
		jsonCodeError(w, CodeDeserializationFailure, "stored record is not decodable")
		return
	}
	body, err := json.Marshal(&robot)
	if err != nil {
		jsonCodeError(w, CodeDeserializationFailure, "stored record did not serialize")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleStateNoID covers /state/ with no identifier, which the wire
// contract treats as incorrect input rather than a routing miss.
func (s *Server) handleStateNoID(w http.ResponseWriter, _ *http.Request) {
	jsonCodeError(w, CodeIncorrectInput, "empty device id")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.store.ListDeviceIDs()
	if err != nil {
		slog.Error("list device ids", "error", err)
	}
	jsonResponse(w, map[string]any{
		"version":    s.version,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"num_agents": s.numAgents,
		"known_ids":  len(ids),
	})
}

func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := natsbus.NewClient(s.bus)
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	// Forward fleet events to websocket subscribers as raw JSON.
	_, _ = client.Subscribe(natsbus.SubjectEventsAll, func(msg *nats.Msg) {
		var payload json.RawMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			slog.Warn("invalid fleet event payload", "error", err)
			return
		}
		s.hub.Broadcast(Event{Type: msg.Subject, Payload: payload})
	})
}

func jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func jsonCodeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":  code,
		"error": message,
	})
}
