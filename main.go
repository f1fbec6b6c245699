package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	tea "charm.land/bubbletea/v2"
	"github.com/rentnasi/authguard/authapi"
	"github.com/rentnasi/authguard/netwatch"
	"github.com/rentnasi/authguard/session"
	"github.com/rentnasi/authguard/tui"
)

var (
	serverURL        string
	appURL           string
	loginURL         string
	billingURL       string
	storeFile        string
	storeKind        string
	sessionID        string
	userID           string
	fetchURL         string
	logLevel         string
	validateInterval time.Duration

	flagServerURL        *string
	flagAppURL           *string
	flagLoginURL         *string
	flagBillingURL       *string
	flagStoreFile        *string
	flagStoreKind        *string
	flagPageURL          *string
	flagSessionID        *string
	flagUserID           *string
	flagFetchURL         *string
	flagValidateInterval *string
	flagLogLevel         *string
	flagLogFile          *string
	configInitialized    bool

	retryClient *retry.Client
	httpClient  *http.Client
)

// Network watcher cadence
const (
	connectivityProbeInterval = 15 * time.Second
	interfacePollInterval     = 5 * time.Second
	fetchTimeout              = 10 * time.Second
	tokenPreviewLength        = 50
)

// errRedirected is returned by run when the session ended in a navigation.
var errRedirected = errors.New("session redirected")

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagServerURL = flag.String(
		"server-url",
		"",
		"Auth API URL (default: https://auth.api.rentnasi.com or AUTH_API_URL env)",
	)
	flagAppURL = flag.String("app-url", "", "Application URL sent with every exchange (required, or set APP_URL env)")
	flagLoginURL = flag.String("login-url", "", "Login page (default: https://auth.rentnasi.com or LOGIN_URL env)")
	flagBillingURL = flag.String(
		"billing-url",
		"",
		"Billing page (default: https://billing.rentnasi.com or BILLING_URL env)",
	)
	flagStoreFile = flag.String(
		"store-file",
		"",
		"Session storage file (default: .authguard-session.json or SESSION_FILE env)",
	)
	flagStoreKind = flag.String("store", "", "Session store: file or memory (default: file or SESSION_STORE env)")
	flagPageURL = flag.String("url", "", "Page URL carrying sessionId and userId query parameters")
	flagSessionID = flag.String("session-id", "", "Session identifier (or SESSION_ID env)")
	flagUserID = flag.String("user-id", "", "User identifier (or USER_ID env)")
	flagFetchURL = flag.String("fetch", "", "Resource fetched with the session token once authenticated (or FETCH_URL env)")
	flagValidateInterval = flag.String(
		"validate-interval",
		"",
		"Periodic validation interval (default: 10m or VALIDATE_INTERVAL env)",
	)
	flagLogLevel = flag.String("log-level", "", "Log level (default: info or LOG_LEVEL env)")
	flagLogFile = flag.String("log-file", "", "Write logs to this file while the TUI is running")
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	// Priority: flag > env > default
	serverURL = getConfig(*flagServerURL, "AUTH_API_URL", "https://auth.api.rentnasi.com")
	appURL = getConfig(*flagAppURL, "APP_URL", "")
	loginURL = getConfig(*flagLoginURL, "LOGIN_URL", "https://auth.rentnasi.com")
	billingURL = getConfig(*flagBillingURL, "BILLING_URL", "https://billing.rentnasi.com")
	storeFile = getConfig(*flagStoreFile, "SESSION_FILE", ".authguard-session.json")
	storeKind = getConfig(*flagStoreKind, "SESSION_STORE", "file")
	sessionID = getConfig(*flagSessionID, "SESSION_ID", "")
	userID = getConfig(*flagUserID, "USER_ID", "")
	fetchURL = getConfig(*flagFetchURL, "FETCH_URL", "")
	logLevel = getConfig(*flagLogLevel, "LOG_LEVEL", "info")

	for name, value := range map[string]string{
		"AUTH_API_URL": serverURL,
		"LOGIN_URL":    loginURL,
		"BILLING_URL":  billingURL,
	} {
		if err := validateServerURL(value); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}

	if appURL == "" {
		fmt.Println("Error: APP_URL not set. Please provide it via:")
		fmt.Println("  1. Command line flag: -app-url=<application-url>")
		fmt.Println("  2. Environment variable: APP_URL=<application-url>")
		fmt.Println("  3. .env file: APP_URL=<application-url>")
		os.Exit(1)
	}
	if err := validateServerURL(appURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid APP_URL: %v\n", err)
		os.Exit(1)
	}

	var err error
	validateInterval, err = parseInterval(getConfig(*flagValidateInterval, "VALIDATE_INTERVAL", "10m"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid VALIDATE_INTERVAL: %v\n", err)
		os.Exit(1)
	}

	// Initialize HTTP client with retry support
	httpClient = &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
		},
	}

	// Wrap with retry logic using go-httpretry. Refresh bypasses it and
	// uses httpClient directly so a failed refresh is never retried.
	retryClient, err = retry.NewBackgroundClient(
		retry.WithHTTPClient(httpClient),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create retry client: %v", err))
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

func parseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got: %s", s)
	}
	return d, nil
}

// buildQuery collects sessionId/userId from the page URL, falling back to
// the explicit identifiers for whichever one the URL does not carry.
func buildQuery(pageURL, sessionID, userID string) (url.Values, error) {
	query := url.Values{}
	if pageURL != "" {
		u, err := url.Parse(pageURL)
		if err != nil {
			return nil, fmt.Errorf("invalid page URL: %w", err)
		}
		query = u.Query()
	}
	if query.Get(session.KeySessionID) == "" && sessionID != "" {
		query.Set(session.KeySessionID, sessionID)
	}
	if query.Get(session.KeyUserID) == "" && userID != "" {
		query.Set(session.KeyUserID, userID)
	}
	return query, nil
}

// newLogger returns the handler logger. The TUI owns stderr, so TUI mode
// only logs when a log file was requested.
func newLogger(tuiMode bool, logFile string) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	if !tuiMode {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil, nil
	}
	if logFile == "" {
		return zerolog.New(io.Discard), nil, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zerolog.New(f).Level(level).With().Timestamp().Logger(), f, nil
}

func newStore(kind string, logger zerolog.Logger) (session.Store, error) {
	switch kind {
	case "memory":
		return session.NewMemoryStore(), nil
	case "file", "":
		return session.NewFileStore(storeFile, appURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown session store %q (want file or memory)", kind)
	}
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	initConfig()

	if isTTY() {
		logger, closer, err := newLogger(true, *flagLogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if closer != nil {
			defer closer.Close()
		}

		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C arrives as a signal and unloads the session.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(d, logger)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			if closer != nil {
				closer.Close()
			}
			os.Exit(1)
		}
	} else {
		logger, _, err := newLogger(false, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(d, logger); err != nil {
			os.Exit(1)
		}
	}
}

// sessionNotifier forwards handler notifications to the displayer and
// republishes the credential after a background refresh.
type sessionNotifier struct {
	tui.Displayer
	h *session.Handler
}

func (n *sessionNotifier) StateChanged(from, to session.State) {
	n.Displayer.StateChanged(from, to)
	if from == session.StateRefreshing && to == session.StateAuthenticated && n.h != nil {
		showCredential(n.Displayer, n.h)
	}
}

func run(d tui.Displayer, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query, err := buildQuery(*flagPageURL, sessionID, userID)
	if err != nil {
		d.Fatal(err)
		return err
	}

	store, err := newStore(storeKind, logger)
	if err != nil {
		d.Fatal(err)
		return err
	}

	bus := session.NewBus()
	notifier := &sessionNotifier{Displayer: d}

	var h *session.Handler
	navigate := session.NavigatorFunc(func(target string) {
		out, _ := h.Outcome()
		d.Redirect(target, out.Reason)
		// stdout carries only the navigation target so callers can open it
		fmt.Println(target)
	})

	h = session.New(
		store,
		authapi.New(serverURL, retryClient, httpClient),
		session.Config{
			AppURL:           appURL,
			LoginURL:         loginURL,
			BillingURL:       billingURL,
			ValidateInterval: validateInterval,
		},
		session.WithEvents(bus),
		session.WithNotifier(notifier),
		session.WithNavigator(navigate),
		session.WithLogger(logger),
	)
	notifier.h = h
	defer h.Stop()

	// Abort in-flight calls once the session has ended.
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	watchSignals(ctx, bus)
	if err := startWatchers(ctx, bus, logger); err != nil {
		logger.Warn().Err(err).Msg("network watchers disabled")
	}

	if err := h.Start(ctx, query); err == nil {
		showCredential(d, h)
		if pkg, ok := h.Package(); ok {
			logger.Info().Str("package_expiry", pkg.ExpiryDate).Msg("package entitlement active")
		}
		if fetchURL != "" {
			fetchResource(ctx, d, h, logger)
		}
	}

	<-h.Done()

	out, _ := h.Outcome()
	if out.Target == "" {
		d.SessionEnded()
		return nil
	}
	if out.Err != nil {
		return fmt.Errorf("%w to %s: %w", errRedirected, out.Target, out.Err)
	}
	return fmt.Errorf("%w to %s", errRedirected, out.Target)
}

func startWatchers(ctx context.Context, bus *session.Bus, logger zerolog.Logger) error {
	go netwatch.NewInterfaceWatcher(interfacePollInterval, logger).Run(ctx, bus)

	cw, err := netwatch.NewConnectivityWatcher(serverURL, connectivityProbeInterval, logger)
	if err != nil {
		return err
	}
	go cw.Run(ctx, bus)
	return nil
}

func showCredential(d tui.Displayer, h *session.Handler) {
	cred, ok := h.Credential()
	if !ok {
		return
	}
	tokenPreview := cred.AccessToken
	if len(tokenPreview) > tokenPreviewLength {
		tokenPreview = tokenPreview[:tokenPreviewLength]
	}
	d.Authenticated(tokenPreview, cred.Expiry)
}

// fetchResource calls a dashboard resource once with the session's bearer token.
func fetchResource(ctx context.Context, d tui.Displayer, h *session.Handler, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		logger.Error().Err(err).Str("url", fetchURL).Msg("failed to create fetch request")
		return
	}

	resp, err := h.HTTPClient(ctx).Do(req)
	if err != nil {
		logger.Error().Err(err).Str("url", fetchURL).Msg("fetch failed")
		d.Toast(session.ToastWarn, fmt.Sprintf("Could not load %s", fetchURL))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	d.Fetched(fetchURL, resp.StatusCode)
}
