// Package server implements the HTTP introspection endpoint for zenohd.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/zenoh-pico-go/zenohpico/internal/session"
)

// sessionView is the read-only set of Session accessors the introspection
// handler needs. cmd/zenohd satisfies it by wrapping *session.Session,
// whose RemoteZID returns wire.ZID; a narrow interface keeps this package
// testable without a live transport.
type sessionView interface {
	Stats() session.Stats
	RemoteZID() interface{ String() string }
}

// IntrospectionServer serves session/registry counters as JSON, replacing
// the teacher's ConnectRPC BFDServer with a plain net/http handler
// (spec.md §1/§6 place the CLI/API surface outside the core; no stable RPC
// schema is needed for an operational read-only endpoint).
type IntrospectionServer struct {
	sess   sessionView
	logger *slog.Logger
}

// New creates an IntrospectionServer and returns the HTTP handler and the
// path it should be mounted at.
func New(sess sessionView, logger *slog.Logger) (string, http.Handler) {
	srv := &IntrospectionServer{
		sess:   sess,
		logger: logger.With(slog.String("component", "server")),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/session", srv.handleSession)
	return "/session", RecoveryMiddleware(srv.logger, LoggingMiddleware(srv.logger, mux))
}

// sessionStatus is the JSON body served at GET /session.
type sessionStatus struct {
	RemoteZID string        `json:"remote_zid"`
	Stats     session.Stats `json:"stats"`
}

func (s *IntrospectionServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := sessionStatus{
		RemoteZID: s.sess.RemoteZID().String(),
		Stats:     s.sess.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("server: encode session status failed", "err", err)
	}
}
