package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Timeout configuration for the auth service calls
const (
	exchangeTimeout = 10 * time.Second
	refreshTimeout  = 10 * time.Second
)

var (
	// ErrPackageExpired indicates that the auth service refused the exchange
	// because the account's subscription package has lapsed.
	ErrPackageExpired = errors.New("package expired")

	// ErrMalformedResponse indicates a 2xx response missing the token or expiry.
	ErrMalformedResponse = errors.New("malformed auth response")
)

// Client talks to the external auth service.
type Client struct {
	baseURL     string
	retryClient *retry.Client
	httpClient  *http.Client
}

// New creates a Client. Exchange calls go through retryClient; refresh calls
// use httpClient directly so that each validation cycle makes one attempt.
func New(baseURL string, retryClient *retry.Client, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		retryClient: retryClient,
		httpClient:  httpClient,
	}
}

// ExchangeRequest is the body of POST /auth.
type ExchangeRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	AppURL    string `json:"appUrl"`
}

// TokenData carries an access token and its expiry as sent by the server.
type TokenData struct {
	Token  string    `json:"token"`
	Expiry Timestamp `json:"expiry"`
}

// ExchangeResponse is the body returned by POST /auth.
type ExchangeResponse struct {
	Data    TokenData       `json:"data"`
	Package json.RawMessage `json:"package,omitempty"`
}

// PackageExpiry extracts package.expiry_date, or "" when absent.
func (r *ExchangeResponse) PackageExpiry() string {
	if len(r.Package) == 0 {
		return ""
	}
	var pkg struct {
		ExpiryDate Timestamp `json:"expiry_date"`
	}
	if err := json.Unmarshal(r.Package, &pkg); err != nil {
		return ""
	}
	return string(pkg.ExpiryDate)
}

type refreshResponse struct {
	Data TokenData `json:"data"`
}

// ErrorResponse is the error body shape used by the auth service.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Timestamp accepts either a JSON string or a JSON number and keeps its text.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timestamp must be a string or number: %w", err)
	}
	*t = Timestamp(n.String())
	return nil
}

// Exchange trades a session/user identifier pair for an access token.
func (c *Client) Exchange(ctx context.Context, in ExchangeRequest) (*ExchangeResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	req, err := c.newRequest(reqCtx, "/auth", in, "")
	if err != nil {
		return nil, err
	}

	resp, err := c.retryClient.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &oauth2.RetrieveError{Response: resp, Body: body}
		if isPackageExpired(resp.StatusCode, body) {
			return nil, fmt.Errorf("%w: %w", ErrPackageExpired, rerr)
		}
		return nil, rerr
	}

	var out ExchangeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse exchange response: %w", err)
	}
	if err := validateTokenData(out.Data); err != nil {
		return nil, err
	}

	return &out, nil
}

// Refresh trades a still-held access token for a renewed one. It makes a
// single attempt.
func (c *Client) Refresh(ctx context.Context, token string) (*TokenData, error) {
	reqCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	payload := struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: token}

	req, err := c.newRequest(reqCtx, "/auth/refresh-token", payload, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &oauth2.RetrieveError{Response: resp, Body: body}
	}

	var out refreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if err := validateTokenData(out.Data); err != nil {
		return nil, err
	}

	return &out.Data, nil
}

func (c *Client) newRequest(
	ctx context.Context,
	path string,
	payload any,
	bearer string,
) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req, nil
}

func validateTokenData(d TokenData) error {
	if d.Token == "" {
		return fmt.Errorf("%w: token is empty", ErrMalformedResponse)
	}
	if d.Expiry == "" {
		return fmt.Errorf("%w: expiry is empty", ErrMalformedResponse)
	}
	return nil
}

// isPackageExpired reports whether a non-2xx exchange response signals a
// lapsed subscription package rather than a generic auth failure.
func isPackageExpired(status int, body []byte) bool {
	if status != http.StatusForbidden && status != http.StatusPaymentRequired {
		return false
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return false
	}
	if strings.EqualFold(errResp.Error, "package_expired") {
		return true
	}
	for _, s := range []string{errResp.Error, errResp.Message} {
		s = strings.ToLower(s)
		if strings.Contains(s, "package") && strings.Contains(s, "expired") {
			return true
		}
	}
	return false
}
