package session

import (
	"context"
	"fmt"
)

// Result is the outcome of one validation cycle.
type Result struct {
	IsValid   bool
	Refreshed bool
	NeedsAuth bool
	// Err explains NeedsAuth; it wraps ErrNoSession or ErrRefresh.
	Err error
}

// Validate checks the stored credential and refreshes it once if it has
// expired. A failed refresh clears the session. Validate never redirects;
// callers decide what an invalid result means.
func (h *Handler) Validate(ctx context.Context) Result {
	cred, ok := loadCredential(h.store)
	if !ok {
		return Result{
			NeedsAuth: true,
			Err:       fmt.Errorf("%w: token or expiry missing", ErrNoSession),
		}
	}

	if !IsTokenExpired(cred.Expiry, h.now()) {
		return Result{IsValid: true}
	}

	prev := h.State()
	if prev == StateRefreshing {
		// another cycle is mid-refresh; land on authenticated like it will
		prev = StateAuthenticated
	}
	if !h.setState(StateRefreshing) {
		return Result{NeedsAuth: true, Err: fmt.Errorf("%w: %w", ErrRefresh, ErrSessionEnded)}
	}
	h.logger.Info().Time("expiry", cred.Expiry).Msg("access token expired, refreshing")

	if err := h.refresh(ctx, cred.AccessToken); err != nil {
		h.logger.Error().Err(err).Msg("token refresh failed")
		h.clearSession()
		return Result{NeedsAuth: true, Err: err}
	}

	if !h.setState(prev) {
		return Result{NeedsAuth: true, Err: fmt.Errorf("%w: redirect during refresh", ErrSessionEnded)}
	}
	return Result{IsValid: true, Refreshed: true}
}

// refresh exchanges token for a renewed credential and stores the new pair
// in a single write.
func (h *Handler) refresh(ctx context.Context, token string) error {
	data, err := h.auth.Refresh(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefresh, err)
	}

	expiry, err := ParseTimestamp(string(data.Expiry))
	if err != nil {
		return fmt.Errorf("%w: invalid expiry: %w", ErrRefresh, err)
	}

	if err := h.persist(map[string]string{
		KeyToken:  data.Token,
		KeyExpiry: string(data.Expiry),
	}); err != nil {
		return fmt.Errorf("%w: persisting credential: %w", ErrRefresh, err)
	}

	h.logger.Info().Time("expiry", expiry).Msg("access token refreshed")
	return nil
}

// clearSession removes every session key.
func (h *Handler) clearSession() {
	h.storeMu.Lock()
	defer h.storeMu.Unlock()
	if err := h.store.Delete(sessionKeys...); err != nil {
		h.logger.Error().Err(err).Msg("failed to clear session")
	}
}
