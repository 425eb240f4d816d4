package admin

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seroze/fixengine/internal/session"
	"github.com/seroze/fixengine/internal/store"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	seqStore, err := store.NewSequenceStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSequenceStore: %v", err)
	}
	msgStore, err := store.NewMessageStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMessageStore: %v", err)
	}

	identity := session.Identity{SenderCompID: "US", TargetCompID: "THEM", BeginString: "FIX.4.2"}
	cfg := session.DefaultConfig()
	sess := session.New(server, identity, cfg, session.Initiator, seqStore, msgStore)
	if err := sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = sess.Stop() })
	return sess
}

func TestManagerListSessions(t *testing.T) {
	mgr := NewManager()
	mgr.Register("alpha", newTestSession(t))

	ti := NewTokenIssuer("secret", time.Hour)
	mux := http.NewServeMux()
	mgr.RegisterHTTPHandlers(mux, ti)

	token, _ := ti.IssueToken("op")
	req := httptest.NewRequest(http.MethodGet, "/admin/fix/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestManagerGetSessionHealth(t *testing.T) {
	mgr := NewManager()
	mgr.Register("alpha", newTestSession(t))

	ti := NewTokenIssuer("secret", time.Hour)
	mux := http.NewServeMux()
	mgr.RegisterHTTPHandlers(mux, ti)

	token, _ := ti.IssueToken("op")
	req := httptest.NewRequest(http.MethodGet, "/admin/fix/sessions/alpha", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestManagerGetUnknownSessionReturns404(t *testing.T) {
	mgr := NewManager()
	ti := NewTokenIssuer("secret", time.Hour)
	mux := http.NewServeMux()
	mgr.RegisterHTTPHandlers(mux, ti)

	token, _ := ti.IssueToken("op")
	req := httptest.NewRequest(http.MethodGet, "/admin/fix/sessions/ghost", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestManagerKillSessionStopsIt(t *testing.T) {
	mgr := NewManager()
	sess := newTestSession(t)
	mgr.Register("alpha", sess)

	ti := NewTokenIssuer("secret", time.Hour)
	mux := http.NewServeMux()
	mgr.RegisterHTTPHandlers(mux, ti)

	token, _ := ti.IssueToken("op")
	req := httptest.NewRequest(http.MethodPost, "/admin/fix/sessions/alpha/kill", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("expected session to terminate after kill")
	}
}

func TestManagerRequestsWithoutTokenAreRejected(t *testing.T) {
	mgr := NewManager()
	mgr.Register("alpha", newTestSession(t))

	ti := NewTokenIssuer("secret", time.Hour)
	mux := http.NewServeMux()
	mgr.RegisterHTTPHandlers(mux, ti)

	req := httptest.NewRequest(http.MethodGet, "/admin/fix/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
