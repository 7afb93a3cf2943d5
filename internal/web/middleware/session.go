package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/cin-capture/internal/constants"
)

const devSessionSecret = "cin-capture-dev-secret-change-in-production"

// Session binds one operator (one browser) to its workspace.
type Session[T any] struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Value     T

	// confirmed is set once the client sends the cookie back.
	confirmed bool
}

// SessionManager hands out one workspace per signed session cookie. A new session is
// pending until its cookie comes back: it expires after a short TTL and the number of
// pending sessions is capped, oldest evicted first. Expired sessions are released by a
// background sweep.
type SessionManager[T any] struct {
	secret     []byte
	ttl        time.Duration
	pendingTTL time.Duration
	maxPending int
	newValue   func() T
	release    func(T)

	mu       sync.Mutex
	sessions map[string]*Session[T]
	pending  int

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewSessionManager creates a session manager. newValue builds the workspace of a new
// session; release, if not nil, is called when a session expires or the manager stops.
func NewSessionManager[T any](secret string, ttl time.Duration, newValue func() T, release func(T)) *SessionManager[T] {
	// Use a default secret if none provided (for development)
	if secret == "" {
		secret = devSessionSecret
	}
	if ttl <= 0 {
		ttl = constants.SessionTTLHours * time.Hour
	}
	if release == nil {
		release = func(T) {}
	}
	sm := &SessionManager[T]{
		secret:     []byte(secret),
		ttl:        ttl,
		pendingTTL: min(ttl, constants.PendingSessionTTLMinutes*time.Minute),
		maxPending: constants.MaxPendingSessions,
		newValue:   newValue,
		release:    release,
		sessions:   make(map[string]*Session[T]),
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	go sm.sweepLoop(time.Minute)
	return sm
}

func (sm *SessionManager[T]) create() *Session[T] {
	now := sm.now()
	s := &Session[T]{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(sm.pendingTTL),
		Value:     sm.newValue(),
	}

	var evicted []T
	sm.mu.Lock()
	for sm.pending >= sm.maxPending {
		oldest := sm.oldestPending()
		if oldest == nil {
			break
		}
		evicted = append(evicted, oldest.Value)
		sm.remove(oldest)
	}
	sm.sessions[s.ID] = s
	sm.pending++
	sm.mu.Unlock()

	for _, v := range evicted {
		sm.release(v)
	}
	return s
}

// oldestPending returns the oldest session whose cookie never came back. Callers hold mu.
func (sm *SessionManager[T]) oldestPending() *Session[T] {
	var oldest *Session[T]
	for _, s := range sm.sessions {
		if !s.confirmed && (oldest == nil || s.CreatedAt.Before(oldest.CreatedAt)) {
			oldest = s
		}
	}
	return oldest
}

// remove drops s from the map. Callers hold mu.
func (sm *SessionManager[T]) remove(s *Session[T]) {
	delete(sm.sessions, s.ID)
	if !s.confirmed {
		sm.pending--
	}
}

// lookup returns the live session for id and extends its lifetime.
func (sm *SessionManager[T]) lookup(id string) *Session[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[id]
	if !ok || sm.now().After(s.ExpiresAt) {
		return nil
	}
	if !s.confirmed {
		s.confirmed = true
		sm.pending--
	}
	s.ExpiresAt = sm.now().Add(sm.ttl)
	return s
}

// Count returns the number of sessions held.
func (sm *SessionManager[T]) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Sweep releases expired sessions and returns how many it removed.
func (sm *SessionManager[T]) Sweep() int {
	now := sm.now()
	var expired []T

	sm.mu.Lock()
	for _, s := range sm.sessions {
		if now.After(s.ExpiresAt) {
			expired = append(expired, s.Value)
			sm.remove(s)
		}
	}
	sm.mu.Unlock()

	for _, v := range expired {
		sm.release(v)
	}
	return len(expired)
}

func (sm *SessionManager[T]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sm.Sweep()
		case <-sm.stop:
			return
		}
	}
}

// Stop ends the sweep and releases every session.
func (sm *SessionManager[T]) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stop)

		sm.mu.Lock()
		values := make([]T, 0, len(sm.sessions))
		for _, s := range sm.sessions {
			values = append(values, s.Value)
			sm.remove(s)
		}
		sm.mu.Unlock()

		for _, v := range values {
			sm.release(v)
		}
	})
}

// setCookie writes the signed session cookie.
func (sm *SessionManager[T]) setCookie(w http.ResponseWriter, r *http.Request, s *Session[T]) {
	http.SetCookie(w, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    s.ID + "." + sm.signData(s.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.ttl.Seconds()),
	})
}

// fromRequest returns the session named by the request cookie, if valid.
func (sm *SessionManager[T]) fromRequest(r *http.Request) *Session[T] {
	cookie, err := r.Cookie(constants.SessionCookieName)
	if err != nil {
		return nil
	}
	id, signature, ok := strings.Cut(cookie.Value, ".")
	if !ok || !sm.verifySignature(id, signature) {
		return nil
	}
	return sm.lookup(id)
}

// signData creates an HMAC signature for data
func (sm *SessionManager[T]) signData(data string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies an HMAC signature
func (sm *SessionManager[T]) verifySignature(data, signature string) bool {
	expected := sm.signData(data)
	return hmac.Equal([]byte(signature), []byte(expected))
}

type sessionKey struct{}

// WithSession attaches the caller's session to the request context, starting a new
// one when the cookie is missing, forged or expired.
func WithSession[T any](sm *SessionManager[T]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := sm.fromRequest(r)
			if s == nil {
				s = sm.create()
			}
			// Refresh the cookie so its max-age follows the sliding expiry.
			sm.setCookie(w, r, s)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, s)))
		})
	}
}

// SessionValue returns the workspace attached by WithSession.
func SessionValue[T any](ctx context.Context) (T, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session[T])
	if !ok {
		var zero T
		return zero, false
	}
	return s.Value, true
}

// SetSessionValue returns a context carrying v as the session workspace.
func SetSessionValue[T any](ctx context.Context, v T) context.Context {
	return context.WithValue(ctx, sessionKey{}, &Session[T]{Value: v})
}
