package session

import (
	"fmt"
	"time"
)

// handleEvent reacts to host transitions. Every event is ignored once the
// handler is redirecting.
func (h *Handler) handleEvent(e Event) {
	if h.State() == StateRedirecting {
		return
	}
	h.logger.Debug().Str("event", e.String()).Msg("host event")

	switch e {
	case EventOffline:
		h.mu.Lock()
		h.offline = true
		h.mu.Unlock()
		h.logger.Warn().Msg("connectivity lost")
		h.notifier.Toast(ToastWarn, "You are offline. Some data may be out of date.")

	case EventOnline:
		h.mu.Lock()
		wasOffline := h.offline
		h.offline = false
		h.mu.Unlock()
		if !wasOffline {
			return
		}
		h.notifier.Toast(ToastInfo, "Back online. Please sign in again.")
		// give the toast time to render before the redirect toast replaces it
		h.mu.Lock()
		if !h.stopped && h.reconnectTimer == nil {
			h.reconnectTimer = time.AfterFunc(h.cfg.ReconnectDelay, h.reconnectRedirect)
		}
		h.mu.Unlock()

	case EventHidden:
		h.mu.Lock()
		h.hidden = true
		h.mu.Unlock()

	case EventVisible:
		h.mu.Lock()
		wasHidden := h.hidden
		h.hidden = false
		ctx := h.ctx
		h.mu.Unlock()
		if !wasHidden || h.State() != StateAuthenticated {
			return
		}
		h.revalidate(ctx, "visibility")

	case EventNetworkChanged:
		h.Redirect(
			"Your network changed. Please sign in again.",
			fmt.Errorf("%w: network interface changed", ErrNetworkChanged),
		)

	case EventUnload:
		h.unload()
	}
}

func (h *Handler) reconnectRedirect() {
	h.mu.Lock()
	h.reconnectTimer = nil
	h.mu.Unlock()
	if h.isStopped() {
		return
	}
	h.Redirect(
		"Connection restored. Please sign in again.",
		fmt.Errorf("%w: connectivity restored", ErrNetworkChanged),
	)
}
