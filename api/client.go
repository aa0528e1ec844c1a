package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"inciwatch.com/session/alert"
	"inciwatch.com/session/auth"
)

// DefaultCallTimeout bounds every backend call end to end, retries
// included.
const DefaultCallTimeout = 15 * time.Second

// TokenPreference selects which token family authorizes a call.
type TokenPreference string

const (
	// PreferAuto uses the legacy token and falls back to the
	// federated one.
	PreferAuto TokenPreference = "auto"
	// PreferLegacy requires the legacy token.
	PreferLegacy TokenPreference = "legacy"
	// PreferFederated requires the identity-provider access token.
	PreferFederated TokenPreference = "federated"
)

// LegacyTokenSource yields the current legacy token, empty when none is
// valid. Implemented by auth.LegacyClient.
type LegacyTokenSource interface {
	ValidToken() string
}

// FederatedTokenSource yields the identity-provider access token and
// can renew it. Implemented by auth.IdPClient.
type FederatedTokenSource interface {
	StoredToken() string
	Refresh(ctx context.Context) (string, error)
}

// CallOptions shapes one backend call. The zero value is a GET
// authorized by whichever token is available.
type CallOptions struct {
	Method  string
	Body    interface{} // JSON-encoded when non-nil
	Query   url.Values
	Headers map[string]string
	Token   TokenPreference
	// IncludeFederatedToken forwards the identity-provider token in a
	// secondary header for endpoints that are migrating off the
	// legacy scheme.
	IncludeFederatedToken bool
}

// ClientConfig wires an API client.
type ClientConfig struct {
	BaseURL    string
	Legacy     LegacyTokenSource
	Federated  FederatedTokenSource
	Flag       *alert.Flag
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client is the authenticated request layer in front of the dashboard
// backend. It picks the authorizing token, bounds each call with a
// timeout, retries transient transport failures, trips a circuit
// breaker on persistent ones, and classifies every failure. An auth
// rejection raises the sticky alert flag and kicks off a background
// token refresh without destroying the session.
type Client struct {
	baseURL   string
	retry     *retry.Client
	breaker   *gobreaker.CircuitBreaker
	legacy    LegacyTokenSource
	federated FederatedTokenSource
	flag      *alert.Flag
	timeout   time.Duration
	log       *zap.Logger
}

// backendError is the error body shape the backend uses.
type backendError struct {
	Message string `json:"message"`
}

// NewClient creates the request layer.
func NewClient(config ClientConfig) (*Client, error) {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	retryClient, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		retry:     retryClient,
		breaker:   newBackendBreaker(log),
		legacy:    config.Legacy,
		federated: config.Federated,
		flag:      config.Flag,
		timeout:   timeout,
		log:       log,
	}, nil
}

// Call performs one authenticated request against the backend and
// returns the raw response body. Endpoint is the path under the
// incidence API root, e.g. "/users". Without a usable token the call
// fails before touching the network.
func (c *Client) Call(ctx context.Context, endpoint string, opts CallOptions) ([]byte, error) {
	token := c.selectToken(opts.Token)
	if token == "" {
		return nil, auth.ErrNoToken
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.baseURL + "/incidence" + endpoint
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		payload, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.IncludeFederatedToken && c.federated != nil {
		if fedToken := c.federated.StoredToken(); fedToken != "" {
			// The backend expects the raw federated token in a plain
			// "token" header, not a Bearer scheme.
			req.Header.Set("token", fedToken)
		}
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.retry.DoWithContext(reqCtx, req)
	})
	if err != nil {
		if breakerOpen(err) {
			return nil, auth.NewCommunicationError("backend temporarily unavailable")
		}
		return nil, auth.NewCommunicationError(err.Error())
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, auth.NewCommunicationError(err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return nil, c.classifyFailure(resp.StatusCode, respBody)
}

// CallJSON performs Call and decodes the response into out.
func (c *Client) CallJSON(ctx context.Context, endpoint string, opts CallOptions, out interface{}) error {
	respBody, err := c.Call(ctx, endpoint, opts)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// selectToken resolves the authorizing token per the preference.
func (c *Client) selectToken(pref TokenPreference) string {
	switch pref {
	case PreferLegacy:
		return c.legacy.ValidToken()
	case PreferFederated:
		if c.federated == nil {
			return ""
		}
		return c.federated.StoredToken()
	default:
		if token := c.legacy.ValidToken(); token != "" {
			return token
		}
		if c.federated != nil {
			return c.federated.StoredToken()
		}
		return ""
	}
}

// classifyFailure maps a non-2xx response to the error taxonomy. An
// auth rejection (401/403, or any status whose message reads like a
// token problem) raises the sticky flag and starts a background token
// refresh; the stored legacy token is deliberately left in place so a
// transient backend hiccup does not log the user out.
func (c *Client) classifyFailure(status int, body []byte) error {
	var backendErr backendError
	_ = json.Unmarshal(body, &backendErr)
	detail := backendErr.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	if detail == "" {
		detail = http.StatusText(status)
	}

	switch {
	case status == http.StatusGone:
		return auth.ErrResourceGone
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		auth.LooksAuthRelated(detail):
		c.log.Warn("backend rejected credentials",
			zap.Int("status", status),
			zap.String("detail", detail),
		)
		c.flag.Set()
		if c.federated != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
				defer cancel()
				if _, err := c.federated.Refresh(ctx); err != nil {
					c.log.Debug("post-rejection refresh failed", zap.Error(err))
				}
			}()
		}
		return auth.NewAuthRejectedError(status, detail)
	default:
		return auth.NewProviderError(status, detail)
	}
}
