package server_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zenoh-pico-go/zenohpico/internal/server"
	"github.com/zenoh-pico-go/zenohpico/internal/session"
)

// fakeZID satisfies the interface{ String() string } return type RemoteZID
// uses, without pulling in a real wire.ZID.
type fakeZID string

func (z fakeZID) String() string { return string(z) }

// fakeSession is a minimal stand-in for *session.Session, exercising the
// introspection handler without a live transport.
type fakeSession struct {
	zid   fakeZID
	stats session.Stats
}

func (f *fakeSession) Stats() session.Stats             { return f.stats }
func (f *fakeSession) RemoteZID() interface{ String() string } { return f.zid }

func setupTestServer(t *testing.T, sess *fakeSession) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	path, handler := server.New(sess, logger)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleSessionReturnsStats(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{
		zid: "a1b2c3",
		stats: session.Stats{
			Subscriptions: 2,
			Queryables:    1,
			PendingQuery:  0,
			Interests:     1,
			Tokens:        3,
		},
	}
	srv := setupTestServer(t, sess)

	resp, err := http.Get(srv.URL + "/session")
	if err != nil {
		t.Fatalf("GET /session: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		RemoteZID string        `json:"remote_zid"`
		Stats     session.Stats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body.RemoteZID != "a1b2c3" {
		t.Errorf("RemoteZID = %q, want %q", body.RemoteZID, "a1b2c3")
	}
	if body.Stats != sess.stats {
		t.Errorf("Stats = %+v, want %+v", body.Stats, sess.stats)
	}
}

func TestHandleSessionRejectsNonGet(t *testing.T) {
	t.Parallel()

	srv := setupTestServer(t, &fakeSession{})

	resp, err := http.Post(srv.URL+"/session", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
