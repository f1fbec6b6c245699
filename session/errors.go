package session

import "errors"

// Failure kinds. Each one ends in exactly one redirect.
var (
	// ErrNoSession: no stored credential and no session/user identifiers to exchange.
	ErrNoSession = errors.New("no session")

	// ErrExchange: the auth exchange failed or returned a malformed payload.
	ErrExchange = errors.New("session exchange failed")

	// ErrRefresh: the token refresh failed or returned a malformed payload.
	ErrRefresh = errors.New("token refresh failed")

	// ErrPackageExpired: the subscription package has lapsed.
	ErrPackageExpired = errors.New("package expired")

	// ErrNetworkChanged: connectivity or network interface changed while authenticated.
	ErrNetworkChanged = errors.New("network changed")

	// ErrSessionEnded: the handler started redirecting while a call was in flight,
	// so its result was discarded.
	ErrSessionEnded = errors.New("session ended")

	// ErrAlreadyStarted is returned by a second call to Handler.Start.
	ErrAlreadyStarted = errors.New("handler already started")
)
