package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rentnasi/authguard/authapi"
	"github.com/rs/zerolog"
)

// Default timings
const (
	DefaultValidateInterval = 10 * time.Minute
	DefaultRedirectDelay    = time.Second
	DefaultReconnectDelay   = 500 * time.Millisecond
	DefaultPackageGrace     = 60 * time.Second
)

// State is the handler's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateAuthenticated
	StateRefreshing
	StateRedirecting // terminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateRedirecting:
		return "redirecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ToastKind classifies a transient user-facing notification.
type ToastKind int

const (
	ToastInfo ToastKind = iota
	ToastWarn
	ToastError
)

// Notifier surfaces transient notifications and state transitions.
type Notifier interface {
	Toast(kind ToastKind, msg string)
	StateChanged(from, to State)
}

// Navigator performs the hard navigation that ends the handler's life.
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

func (f NavigatorFunc) Navigate(target string) { f(target) }

// Authenticator is the external auth service.
type Authenticator interface {
	Exchange(ctx context.Context, in authapi.ExchangeRequest) (*authapi.ExchangeResponse, error)
	Refresh(ctx context.Context, token string) (*authapi.TokenData, error)
}

// Config holds the handler's targets and timings. Zero durations take the defaults.
type Config struct {
	// AppURL is the fixed application identifier sent with every exchange.
	AppURL string
	// LoginURL is the external authentication surface.
	LoginURL string
	// BillingURL receives sessionId/userId when the package has lapsed.
	BillingURL string

	ValidateInterval time.Duration
	RedirectDelay    time.Duration
	ReconnectDelay   time.Duration
	PackageGrace     time.Duration

	// Clock returns the current time; defaults to time.Now.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ValidateInterval <= 0 {
		c.ValidateInterval = DefaultValidateInterval
	}
	if c.RedirectDelay <= 0 {
		c.RedirectDelay = DefaultRedirectDelay
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.PackageGrace <= 0 {
		c.PackageGrace = DefaultPackageGrace
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithEvents subscribes the handler to host events on Start.
func WithEvents(src EventSource) Option {
	return func(h *Handler) { h.events = src }
}

// WithNotifier routes toasts and state changes to n.
func WithNotifier(n Notifier) Option {
	return func(h *Handler) { h.notifier = n }
}

// WithNavigator sets the redirect target consumer.
func WithNavigator(n Navigator) Option {
	return func(h *Handler) { h.navigator = n }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// Outcome records why and where the handler redirected.
type Outcome struct {
	Target string // empty when the session ended without navigation (unload)
	Reason string
	Err    error
}

// Handler owns one session lifecycle: bootstrap, periodic validation,
// package gating, host event reactions and the final redirect.
type Handler struct {
	cfg       Config
	store     Store
	auth      Authenticator
	events    EventSource
	notifier  Notifier
	navigator Navigator
	logger    zerolog.Logger

	mu             sync.Mutex
	state          State
	started        bool
	stopped        bool
	offline        bool
	hidden         bool
	ctx            context.Context
	cancelTimer    context.CancelFunc
	reconnectTimer *time.Timer
	redirectTimer  *time.Timer
	unsubscribe    func()
	outcome        *Outcome

	// storeMu orders credential writes against the dispatcher's clear.
	storeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Handler in StateIdle.
func New(store Store, auth Authenticator, cfg Config, opts ...Option) *Handler {
	h := &Handler{
		cfg:       cfg.withDefaults(),
		store:     store,
		auth:      auth,
		notifier:  nopNotifier{},
		navigator: NavigatorFunc(func(string) {}),
		logger:    zerolog.Nop(),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start bootstraps the session from query (the sessionId/userId parameters
// of the page URL). It returns nil once authenticated; any other result has
// already been handed to the redirect dispatcher.
func (h *Handler) Start(ctx context.Context, query url.Values) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.started = true
	h.ctx = ctx
	h.mu.Unlock()

	h.setState(StateInitializing)
	if h.events != nil {
		unsubscribe := h.events.Subscribe(h.handleEvent)
		h.mu.Lock()
		h.unsubscribe = unsubscribe
		h.mu.Unlock()
	}

	sessionID, userID := query.Get(KeySessionID), query.Get(KeyUserID)
	if persisted := idValues(sessionID, userID); len(persisted) > 0 {
		if err := h.persist(persisted); err != nil {
			h.logger.Error().Err(err).Msg("failed to persist session identifiers")
		}
	}
	if sessionID == "" {
		sessionID, _ = h.store.Get(KeySessionID)
	}
	if userID == "" {
		userID, _ = h.store.Get(KeyUserID)
	}

	res := h.Validate(ctx)
	if res.IsValid {
		h.logger.Info().Bool("refreshed", res.Refreshed).Msg("existing session is valid")
		return h.authenticate()
	}
	if h.State() == StateRedirecting {
		return fmt.Errorf("%w: %w", ErrSessionEnded, res.Err)
	}

	if sessionID == "" || userID == "" {
		err := fmt.Errorf("%w: no stored credential and no session identifiers", ErrNoSession)
		h.Redirect("No active session found. Please sign in.", err)
		return err
	}

	return h.exchange(ctx, sessionID, userID)
}

// exchange trades the identifiers for a credential and applies the package gate.
func (h *Handler) exchange(ctx context.Context, sessionID, userID string) error {
	resp, err := h.auth.Exchange(ctx, authapi.ExchangeRequest{
		SessionID: sessionID,
		UserID:    userID,
		AppURL:    h.cfg.AppURL,
	})
	if err != nil {
		if errors.Is(err, authapi.ErrPackageExpired) {
			perr := fmt.Errorf("%w: %w", ErrPackageExpired, err)
			h.redirectBilling(sessionID, userID, perr)
			return perr
		}
		xerr := fmt.Errorf("%w: %w", ErrExchange, err)
		h.Redirect("Unable to verify your session. Please sign in again.", xerr)
		return xerr
	}

	expiry, err := ParseTimestamp(string(resp.Data.Expiry))
	if err != nil {
		xerr := fmt.Errorf("%w: invalid expiry: %w", ErrExchange, err)
		h.Redirect("Unable to verify your session. Please sign in again.", xerr)
		return xerr
	}

	values := map[string]string{
		KeyToken:     resp.Data.Token,
		KeyExpiry:    string(resp.Data.Expiry),
		KeySessionID: sessionID,
		KeyUserID:    userID,
	}
	packageExpiry := resp.PackageExpiry()
	if len(resp.Package) > 0 {
		values[KeyPackageInfo] = string(resp.Package)
		values[KeyPackageExpiry] = packageExpiry
	}
	if err := h.persist(values); err != nil {
		if errors.Is(err, ErrSessionEnded) {
			return err
		}
		xerr := fmt.Errorf("%w: persisting credential: %w", ErrExchange, err)
		h.Redirect("Unable to save your session. Please sign in again.", xerr)
		return xerr
	}
	h.logger.Info().Time("expiry", expiry).Msg("session exchanged")

	if !h.CheckPackageExpiry(packageExpiry) {
		return fmt.Errorf("%w: expired at %s", ErrPackageExpired, packageExpiry)
	}

	return h.authenticate()
}

// authenticate enters StateAuthenticated and re-arms the periodic validator.
// It fails with ErrSessionEnded once the handler is redirecting.
func (h *Handler) authenticate() error {
	if !h.setState(StateAuthenticated) {
		return fmt.Errorf("%w: redirect in progress", ErrSessionEnded)
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	if h.cancelTimer != nil {
		h.cancelTimer()
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.cancelTimer = cancel
	h.mu.Unlock()

	go h.runValidator(ctx)
	return nil
}

// persist writes values unless the handler is already redirecting. The
// dispatcher clears the session under the same lock, so a write that loses
// the race is refused instead of resurrecting the credential.
func (h *Handler) persist(values map[string]string) error {
	h.storeMu.Lock()
	defer h.storeMu.Unlock()
	if h.State() == StateRedirecting {
		return fmt.Errorf("%w: credential discarded", ErrSessionEnded)
	}
	return h.store.Set(values)
}

func (h *Handler) runValidator(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.ValidateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.revalidate(ctx, "scheduled")
		}
	}
}

// revalidate runs one validation cycle on behalf of a trigger and redirects
// when the session can no longer be used.
func (h *Handler) revalidate(ctx context.Context, trigger string) {
	if h.State() == StateRedirecting {
		return
	}

	res := h.Validate(ctx)
	if res.IsValid {
		if res.Refreshed {
			h.notifier.Toast(ToastInfo, "Session refreshed")
		}
		return
	}

	h.Redirect(
		"Your session has expired. Please sign in again.",
		fmt.Errorf("%s validation: %w", trigger, res.Err),
	)
}

// Armed reports whether the periodic validator is running.
func (h *Handler) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelTimer != nil
}

// Stop cancels the periodic validator and any pending reconnect or
// navigation, and drops event subscriptions. A navigation cancelled here
// still closes Done.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	if h.cancelTimer != nil {
		h.cancelTimer()
		h.cancelTimer = nil
	}
	if h.reconnectTimer != nil {
		h.reconnectTimer.Stop()
		h.reconnectTimer = nil
	}
	navigationCancelled := false
	if h.redirectTimer != nil {
		navigationCancelled = h.redirectTimer.Stop()
		h.redirectTimer = nil
	}
	unsubscribe := h.unsubscribe
	h.unsubscribe = nil
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if navigationCancelled {
		h.logger.Info().Msg("handler stopped, navigation cancelled")
		h.finish()
	}
}

func (h *Handler) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// State reports the current lifecycle phase.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the handler has reached its terminal outcome.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Outcome returns the terminal outcome, if any.
func (h *Handler) Outcome() (Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcome == nil {
		return Outcome{}, false
	}
	return *h.outcome, true
}

// setState moves to s unless the handler is already redirecting. It reports
// whether the transition happened.
func (h *Handler) setState(s State) bool {
	h.mu.Lock()
	from := h.state
	if from == StateRedirecting {
		h.mu.Unlock()
		return false
	}
	h.state = s
	h.mu.Unlock()

	if from != s {
		h.logger.Debug().Str("from", from.String()).Str("state", s.String()).Msg("state changed")
		h.notifier.StateChanged(from, s)
	}
	return true
}

func (h *Handler) now() time.Time {
	return h.cfg.Clock()
}

func idValues(sessionID, userID string) map[string]string {
	values := make(map[string]string, 2)
	if sessionID != "" {
		values[KeySessionID] = sessionID
	}
	if userID != "" {
		values[KeyUserID] = userID
	}
	return values
}

type nopNotifier struct{}

func (nopNotifier) Toast(ToastKind, string)  {}
func (nopNotifier) StateChanged(State, State) {}
