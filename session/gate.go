package session

import (
	"fmt"
	"strings"
)

// CheckPackageExpiry reports whether the subscription package is still
// usable. A missing or unparseable date fails open. A date more than
// PackageGrace in the past sends the user to billing and returns false.
func (h *Handler) CheckPackageExpiry(expiryDate string) bool {
	if strings.TrimSpace(expiryDate) == "" {
		h.logger.Warn().Msg("package expiry date missing, allowing access")
		return true
	}

	expiry, err := ParseTimestamp(expiryDate)
	if err != nil {
		h.logger.Error().Err(err).Str("expiry_date", expiryDate).Msg("package expiry date unparseable, allowing access")
		return true
	}

	if !h.now().After(expiry.Add(h.cfg.PackageGrace)) {
		return true
	}

	sessionID, _ := h.store.Get(KeySessionID)
	userID, _ := h.store.Get(KeyUserID)
	h.redirectBilling(sessionID, userID, fmt.Errorf("%w: expired at %s", ErrPackageExpired, expiry))
	return false
}
