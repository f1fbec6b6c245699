package session

import (
	"net/url"
	"time"
)

// Redirect is the terminal failure path: it toasts reason, clears the
// session and navigates to the login surface after RedirectDelay. Only the
// first call has any effect.
func (h *Handler) Redirect(reason string, cause error) {
	h.dispatch(h.cfg.LoginURL, reason, cause, true)
}

// redirectBilling sends the user to the billing surface with the session
// and user identifiers attached.
func (h *Handler) redirectBilling(sessionID, userID string, cause error) {
	h.dispatch(
		billingTarget(h.cfg.BillingURL, sessionID, userID),
		"Your subscription package has expired. Redirecting to billing.",
		cause,
		true,
	)
}

// unload ends the session without navigating anywhere.
func (h *Handler) unload() {
	h.dispatch("", "Session closed", nil, false)
}

func (h *Handler) dispatch(target, reason string, cause error, navigate bool) {
	h.mu.Lock()
	from := h.state
	if from == StateRedirecting {
		h.mu.Unlock()
		h.logger.Debug().Str("reason", reason).Msg("already redirecting, ignoring")
		return
	}
	h.state = StateRedirecting
	h.outcome = &Outcome{Target: target, Reason: reason, Err: cause}
	if h.cancelTimer != nil {
		h.cancelTimer()
		h.cancelTimer = nil
	}
	h.mu.Unlock()

	h.notifier.StateChanged(from, StateRedirecting)
	h.clearSession()

	if !navigate {
		h.logger.Info().Str("reason", reason).Msg("session ended")
		h.finish()
		return
	}

	h.logger.Error().Err(cause).Str("reason", reason).Str("target", target).Msg("redirecting")
	h.notifier.Toast(ToastError, reason)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		h.logger.Info().Str("target", target).Msg("handler stopped, navigation skipped")
		h.finish()
		return
	}
	h.redirectTimer = time.AfterFunc(h.cfg.RedirectDelay, func() {
		h.mu.Lock()
		h.redirectTimer = nil
		h.mu.Unlock()
		h.navigator.Navigate(target)
		h.finish()
	})
}

func (h *Handler) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// billingTarget appends sessionId and userId to base.
func billingTarget(base, sessionID, userID string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	if sessionID != "" {
		q.Set(KeySessionID, sessionID)
	}
	if userID != "" {
		q.Set(KeyUserID, userID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
