package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Storage keys shared by every Store implementation.
const (
	KeyToken         = "token"
	KeyExpiry        = "expiry"
	KeySessionID     = "sessionId"
	KeyUserID        = "userId"
	KeyPackageInfo   = "packageInfo"
	KeyPackageExpiry = "packageExpiry"
)

// sessionKeys lists everything Clear removes.
var sessionKeys = []string{
	KeyToken,
	KeyExpiry,
	KeySessionID,
	KeyUserID,
	KeyPackageInfo,
	KeyPackageExpiry,
}

// Credential is the access token + expiry pair identifying an authenticated user.
type Credential struct {
	AccessToken string
	Expiry      time.Time
	SessionID   string
	UserID      string
}

// PackageEntitlement is the subscription window returned by the exchange.
type PackageEntitlement struct {
	ExpiryDate string
	Metadata   json.RawMessage
}

// IsTokenExpired reports whether now has reached expiry. The boundary is
// inclusive and there is no grace period.
func IsTokenExpired(expiry, now time.Time) bool {
	return !now.Before(expiry)
}

// unixMilliThreshold separates unix milliseconds from seconds: 1e12 seconds
// is tens of thousands of years away, 1e12 milliseconds is 2001.
const unixMilliThreshold = 1_000_000_000_000

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats the auth service emits.
// Bare integers are unix seconds, or unix milliseconds from 1e12 upwards.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n >= unixMilliThreshold {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// loadCredential reads the stored credential. ok is false when either half
// of the token/expiry pair is missing or the expiry does not parse.
func loadCredential(store Store) (cred Credential, ok bool) {
	values := store.Snapshot(KeyToken, KeyExpiry, KeySessionID, KeyUserID)
	token, rawExpiry := values[KeyToken], values[KeyExpiry]
	if token == "" || rawExpiry == "" {
		return Credential{}, false
	}
	expiry, err := ParseTimestamp(rawExpiry)
	if err != nil {
		return Credential{}, false
	}
	return Credential{
		AccessToken: token,
		Expiry:      expiry,
		SessionID:   values[KeySessionID],
		UserID:      values[KeyUserID],
	}, true
}

// loadPackage reads the stored entitlement written by the last exchange.
func loadPackage(store Store) (PackageEntitlement, bool) {
	values := store.Snapshot(KeyPackageInfo, KeyPackageExpiry)
	info := values[KeyPackageInfo]
	if info == "" {
		return PackageEntitlement{}, false
	}
	return PackageEntitlement{ExpiryDate: values[KeyPackageExpiry], Metadata: json.RawMessage(info)}, true
}
