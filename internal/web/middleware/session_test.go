package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/cin-capture/internal/constants"
)

type workspace struct{ id int64 }

func newTestManager(t *testing.T, released *atomic.Int32) *SessionManager[*workspace] {
	t.Helper()
	var next atomic.Int64
	sm := NewSessionManager("test-secret", time.Hour,
		func() *workspace { return &workspace{id: next.Add(1)} },
		func(*workspace) {
			if released != nil {
				released.Add(1)
			}
		})
	t.Cleanup(sm.Stop)
	return sm
}

func serveWithSession(sm *SessionManager[*workspace], cookie *http.Cookie) (*httptest.ResponseRecorder, int64) {
	var seen int64
	handler := WithSession(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, ok := SessionValue[*workspace](r.Context())
		if ok {
			seen = ws.id
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == constants.SessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestWithSession_ReusesWorkspace(t *testing.T) {
	sm := newTestManager(t, nil)

	rec, first := serveWithSession(sm, nil)
	if first == 0 {
		t.Fatal("handler saw no workspace")
	}
	cookie := sessionCookie(t, rec)
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	_, second := serveWithSession(sm, cookie)
	if second != first {
		t.Errorf("expected the same workspace %d, got %d", first, second)
	}
	if sm.Count() != 1 {
		t.Errorf("expected 1 session, got %d", sm.Count())
	}
}

func TestWithSession_ForgedCookieStartsNewSession(t *testing.T) {
	sm := newTestManager(t, nil)

	rec, first := serveWithSession(sm, nil)
	cookie := sessionCookie(t, rec)

	id, _, _ := strings.Cut(cookie.Value, ".")
	forged := &http.Cookie{Name: cookie.Name, Value: id + ".bogus"}

	_, second := serveWithSession(sm, forged)
	if second == first {
		t.Error("forged signature must not reach the existing workspace")
	}
	if sm.Count() != 2 {
		t.Errorf("expected 2 sessions, got %d", sm.Count())
	}
}

func TestSessionManager_Sweep(t *testing.T) {
	var released atomic.Int32
	sm := newTestManager(t, &released)

	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	rec, first := serveWithSession(sm, nil)
	cookie := sessionCookie(t, rec)

	now = now.Add(2 * time.Hour)
	if n := sm.Sweep(); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if released.Load() != 1 {
		t.Errorf("expected the workspace to be released, got %d", released.Load())
	}

	_, second := serveWithSession(sm, cookie)
	if second == first {
		t.Error("expired session must not be reused")
	}
}

func TestSessionManager_CookielessClientsAreBounded(t *testing.T) {
	var released atomic.Int32
	sm := newTestManager(t, &released)
	sm.maxPending = 3

	rec, operator := serveWithSession(sm, nil)
	cookie := sessionCookie(t, rec)
	serveWithSession(sm, cookie)

	for range 10 {
		serveWithSession(sm, nil)
	}

	if sm.Count() != 4 {
		t.Errorf("expected the operator plus 3 pending sessions, got %d", sm.Count())
	}
	if released.Load() != 7 {
		t.Errorf("expected 7 evicted workspaces, got %d", released.Load())
	}
	if _, again := serveWithSession(sm, cookie); again != operator {
		t.Errorf("confirmed session must survive eviction, got workspace %d", again)
	}
}

func TestSessionManager_PendingSessionsExpireSooner(t *testing.T) {
	var released atomic.Int32
	sm := newTestManager(t, &released)

	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	rec, operator := serveWithSession(sm, nil)
	cookie := sessionCookie(t, rec)
	serveWithSession(sm, cookie)
	serveWithSession(sm, nil)

	now = now.Add(constants.PendingSessionTTLMinutes*time.Minute + time.Second)
	if n := sm.Sweep(); n != 1 {
		t.Fatalf("expected only the pending session to expire, got %d", n)
	}
	if _, again := serveWithSession(sm, cookie); again != operator {
		t.Errorf("confirmed session must outlive the pending TTL, got workspace %d", again)
	}
}

func TestSessionManager_StopReleasesAll(t *testing.T) {
	var released atomic.Int32
	sm := newTestManager(t, &released)

	serveWithSession(sm, nil)
	serveWithSession(sm, nil)
	sm.Stop()
	sm.Stop()

	if released.Load() != 2 {
		t.Errorf("expected 2 released workspaces, got %d", released.Load())
	}
	if sm.Count() != 0 {
		t.Errorf("expected no sessions after stop, got %d", sm.Count())
	}
}

func TestSessionValue_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := SessionValue[*workspace](req.Context()); ok {
		t.Error("expected no workspace without the middleware")
	}
}
