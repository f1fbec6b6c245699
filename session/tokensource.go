package session

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

type handlerTokenSource struct {
	ctx context.Context
	h   *Handler
}

// Token returns the stored credential, validating (and refreshing) it first
// when it has expired. A session that cannot be recovered is redirected.
func (s handlerTokenSource) Token() (*oauth2.Token, error) {
	if cred, ok := loadCredential(s.h.store); ok && !IsTokenExpired(cred.Expiry, s.h.now()) {
		return credentialToken(cred), nil
	}

	res := s.h.Validate(s.ctx)
	if !res.IsValid {
		s.h.Redirect("Your session has expired. Please sign in again.", res.Err)
		return nil, res.Err
	}

	cred, ok := loadCredential(s.h.store)
	if !ok {
		return nil, ErrNoSession
	}
	return credentialToken(cred), nil
}

func credentialToken(cred Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.Expiry,
	}
}

// TokenSource exposes the session credential to the rest of the dashboard.
func (h *Handler) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, handlerTokenSource{ctx: ctx, h: h})
}

// HTTPClient returns a client that sends the session's bearer token on
// every request to the resource APIs.
func (h *Handler) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, handlerTokenSource{ctx: ctx, h: h})
}

// Credential returns the stored credential when both halves are present.
func (h *Handler) Credential() (Credential, bool) {
	return loadCredential(h.store)
}

// Package returns the subscription entitlement from the last exchange.
func (h *Handler) Package() (PackageEntitlement, bool) {
	return loadPackage(h.store)
}
