package tui

import (
	"time"

	"github.com/rentnasi/authguard/session"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgToast carries a transient notification from the session handler.
type MsgToast struct {
	Kind session.ToastKind
	Text string
}

// MsgState signals a session lifecycle transition.
type MsgState struct {
	From session.State
	To   session.State
}

// MsgAuthenticated signals that a usable credential is in place.
type MsgAuthenticated struct {
	Preview   string
	ExpiresAt time.Time
}

// MsgFetched reports the dashboard resource fetched with the session token.
type MsgFetched struct {
	URL    string
	Status int
}

// MsgRedirect signals the final navigation target.
type MsgRedirect struct {
	Target string
	Reason string
}

// MsgSessionEnded signals that the session was closed without navigation.
type MsgSessionEnded struct{}

// MsgFatal signals an error that stops the program before the handler ran.
type MsgFatal struct{ Err error }
