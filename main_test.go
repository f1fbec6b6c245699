package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rentnasi/authguard/session"
	"github.com/rentnasi/authguard/tui"
)

func init() {
	// Set default values for tests (don't call initConfig to avoid flag parsing)
	if appURL == "" {
		appURL = "https://app.rentnasi.com"
	}
	if storeKind == "" {
		storeKind = "memory"
	}
	if validateInterval == 0 {
		validateInterval = 10 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// Initialize retryClient for tests
	if retryClient == nil {
		var err error
		retryClient, err = retry.NewClient()
		if err != nil {
			panic(fmt.Sprintf("failed to create retry client: %v", err))
		}
	}
}

func TestGetConfig_Priority(t *testing.T) {
	t.Setenv("AUTHGUARD_TEST_KEY", "from-env")

	if got := getConfig("from-flag", "AUTHGUARD_TEST_KEY", "default"); got != "from-flag" {
		t.Errorf("getConfig() = %q, want flag value", got)
	}
	if got := getConfig("", "AUTHGUARD_TEST_KEY", "default"); got != "from-env" {
		t.Errorf("getConfig() = %q, want env value", got)
	}
	if got := getConfig("", "AUTHGUARD_TEST_MISSING", "default"); got != "default" {
		t.Errorf("getConfig() = %q, want default", got)
	}
}

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantErr     bool
		errContains string
	}{
		{name: "https", url: "https://auth.api.rentnasi.com"},
		{name: "http with port", url: "http://localhost:8080"},
		{name: "empty", url: "", wantErr: true, errContains: "cannot be empty"},
		{name: "ftp scheme", url: "ftp://auth.rentnasi.com", wantErr: true, errContains: "scheme must be http or https"},
		{name: "missing host", url: "https://", wantErr: true, errContains: "must include a host"},
		{name: "bad escape", url: "https://auth%zz", wantErr: true, errContains: "invalid URL format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateServerURL(tt.url)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("validateServerURL() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("validateServerURL() expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("validateServerURL() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	d, err := parseInterval("90s")
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)

	_, err = parseInterval("0s")
	require.Error(t, err)
	_, err = parseInterval("soon")
	require.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name      string
		pageURL   string
		sessionID string
		userID    string
		wantSID   string
		wantUID   string
	}{
		{
			name:    "identifiers from page URL",
			pageURL: "https://app.rentnasi.com/dashboard?sessionId=s-1&userId=u-1",
			wantSID: "s-1",
			wantUID: "u-1",
		},
		{
			name:      "explicit identifiers",
			sessionID: "s-2",
			userID:    "u-2",
			wantSID:   "s-2",
			wantUID:   "u-2",
		},
		{
			name:    "page URL wins, flags fill the gap",
			pageURL: "https://app.rentnasi.com/?sessionId=s-3",
			userID:  "u-3",
			wantSID: "s-3",
			wantUID: "u-3",
		},
		{
			name: "nothing supplied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := buildQuery(tt.pageURL, tt.sessionID, tt.userID)
			require.NoError(t, err)
			require.Equal(t, tt.wantSID, q.Get(session.KeySessionID))
			require.Equal(t, tt.wantUID, q.Get(session.KeyUserID))
		})
	}

	_, err := buildQuery("https://app%zz", "", "")
	require.Error(t, err)
}

func TestNewStore(t *testing.T) {
	s, err := newStore("memory", zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &session.MemoryStore{}, s)

	storeFile = t.TempDir() + "/session.json"
	s, err = newStore("file", zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &session.FileStore{}, s)

	_, err = newStore("redis", zerolog.Nop())
	require.Error(t, err)
}

// recordingDisplayer captures the calls run makes on its displayer.
type recordingDisplayer struct {
	tui.NoopDisplayer

	mu            sync.Mutex
	redirects     []string
	authenticated []string
	ended         bool
}

func (r *recordingDisplayer) Redirect(target, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects = append(r.redirects, target)
}

func (r *recordingDisplayer) Authenticated(preview string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authenticated = append(r.authenticated, preview)
}

func (r *recordingDisplayer) SessionEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
}

func withRunConfig(t *testing.T, apiURL string) {
	t.Helper()
	orig := struct {
		serverURL, loginURL, billingURL, storeKind, sessionID, userID, fetchURL string
	}{serverURL, loginURL, billingURL, storeKind, sessionID, userID, fetchURL}
	t.Cleanup(func() {
		serverURL, loginURL, billingURL = orig.serverURL, orig.loginURL, orig.billingURL
		storeKind, sessionID, userID, fetchURL = orig.storeKind, orig.sessionID, orig.userID, orig.fetchURL
	})

	serverURL = apiURL
	loginURL = "https://auth.rentnasi.test/login"
	billingURL = "https://billing.rentnasi.test/renew"
	storeKind = "memory"
	sessionID, userID, fetchURL = "", "", ""
}

func TestRun_NoSessionRedirectsToLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer srv.Close()
	withRunConfig(t, srv.URL)

	d := &recordingDisplayer{}
	err := run(d, zerolog.Nop())

	require.ErrorIs(t, err, errRedirected)
	require.ErrorIs(t, err, session.ErrNoSession)
	require.Equal(t, []string{loginURL}, d.redirects)
}

func TestRun_ExpiredPackageRedirectsToBilling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "package_expired",
			"message": "Your package has expired",
		})
	}))
	defer srv.Close()
	withRunConfig(t, srv.URL)
	sessionID, userID = "s-9", "u-9"

	d := &recordingDisplayer{}
	err := run(d, zerolog.Nop())

	require.ErrorIs(t, err, errRedirected)
	require.True(t, errors.Is(err, session.ErrPackageExpired))
	require.Equal(t, []string{billingURL + "?sessionId=s-9&userId=u-9"}, d.redirects)
	require.Empty(t, d.authenticated)
}

func TestSessionNotifier_RepublishesAfterRefresh(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(map[string]string{
		session.KeyToken:  strings.Repeat("t", 60),
		session.KeyExpiry: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}))

	d := &recordingDisplayer{}
	n := &sessionNotifier{Displayer: d}
	n.h = session.New(store, nil, session.Config{})

	n.StateChanged(session.StateInitializing, session.StateAuthenticated)
	require.Empty(t, d.authenticated)

	n.StateChanged(session.StateRefreshing, session.StateAuthenticated)
	require.Equal(t, []string{strings.Repeat("t", tokenPreviewLength)}, d.authenticated)
}
