// Package constants provides shared constants used across the codebase.
package constants

// Handler pagination constants
const (
	// DefaultHandlerPageSize is the page size for paginated document listing
	DefaultHandlerPageSize = 100
)

// Session constants
const (
	// SessionCookieName is the cookie carrying the operator workspace id
	SessionCookieName = "cin_capture_session"

	// SessionTTLHours is how long an idle operator workspace is kept
	SessionTTLHours = 12

	// PendingSessionTTLMinutes is how long a session lives until its cookie comes back
	PendingSessionTTLMinutes = 5

	// MaxPendingSessions caps sessions whose cookie has not come back yet
	MaxPendingSessions = 1000
)
