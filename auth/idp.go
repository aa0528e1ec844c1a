package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"inciwatch.com/session/store"
)

// Timeout configuration for identity-provider operations
const (
	idpLoginTimeout   = 10 * time.Second
	idpRefreshTimeout = 10 * time.Second
)

// tokenEndpointError is the OAuth error body returned by the provider.
type tokenEndpointError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// tokenEndpointResponse is the successful token grant body.
type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// IdPClientConfig configures the identity-provider client.
type IdPClientConfig struct {
	Issuer       string // e.g. https://id.example.com
	Realm        string
	ClientID     string
	ClientSecret string // optional, confidential clients only
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// IdPClient talks to a Keycloak-compatible OIDC token endpoint using the
// resource-owner-password and refresh grants. Successful grants are
// persisted through the token store before returning.
type IdPClient struct {
	config IdPClientConfig
	http   *http.Client
	store  *store.Store
	log    *zap.Logger
}

// NewIdPClient creates an identity-provider client over the given store.
func NewIdPClient(config IdPClientConfig, st *store.Store) *IdPClient {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &IdPClient{
		config: config,
		http:   httpClient,
		store:  st,
		log:    log,
	}
}

// TokenEndpoint returns the provider's token URL for the configured realm.
func (c *IdPClient) TokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token",
		strings.TrimRight(c.config.Issuer, "/"), c.config.Realm)
}

// PasswordLogin performs a password grant. Bad credentials surface as
// ErrInvalidCredentials; any other failure becomes a provider error
// carrying the HTTP status. The returned pair has already been saved.
func (c *IdPClient) PasswordLogin(ctx context.Context, email, password string) (store.TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.config.ClientID)
	if c.config.ClientSecret != "" {
		form.Set("client_secret", c.config.ClientSecret)
	}
	form.Set("username", email)
	form.Set("password", password)

	resp, err := c.grant(ctx, form, idpLoginTimeout)
	if err != nil {
		return store.TokenPair{}, c.classifyGrantError(err)
	}

	pair := store.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	c.store.SaveTokens(store.SourceFederated, pair)
	return pair, nil
}

// Refresh renews the access token with the stored refresh token. A
// missing refresh token returns absent without error. A failed refresh
// clears the whole federated pair (refresh tokens are one-shot on
// failure; the next login starts from scratch) and returns absent.
func (c *IdPClient) Refresh(ctx context.Context) (string, error) {
	pair, ok := c.store.Tokens(store.SourceFederated)
	if !ok || pair.RefreshToken == "" {
		return "", nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.config.ClientID)
	if c.config.ClientSecret != "" {
		form.Set("client_secret", c.config.ClientSecret)
	}
	form.Set("refresh_token", pair.RefreshToken)

	resp, err := c.grant(ctx, form, idpRefreshTimeout)
	if err != nil {
		c.log.Warn("federated token refresh failed, clearing pair", zap.Error(err))
		c.store.ClearTokens(store.SourceFederated)
		return "", nil
	}

	renewed := store.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if renewed.RefreshToken == "" {
		// Provider in fixed (non-rotating) mode: keep the old one.
		renewed.RefreshToken = pair.RefreshToken
	}
	c.store.SaveTokens(store.SourceFederated, renewed)
	return renewed.AccessToken, nil
}

// StoredToken returns the stored access token while it is still ahead of
// its expiry. An expired token is dropped synchronously, a best-effort
// refresh is kicked off in the background, and this call reports absent;
// callers observing absent must re-poll.
func (c *IdPClient) StoredToken() string {
	pair, ok := c.store.Tokens(store.SourceFederated)
	if !ok || pair.AccessToken == "" {
		return ""
	}
	if pair.ExpiresAt.IsZero() || time.Now().Before(pair.ExpiresAt) {
		return pair.AccessToken
	}

	c.store.DropAccessToken(store.SourceFederated)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), idpRefreshTimeout)
		defer cancel()
		if _, err := c.Refresh(ctx); err != nil {
			c.log.Debug("background refresh failed", zap.Error(err))
		}
	}()
	return ""
}

// Decode returns the unverified claims of a provider token.
func (c *IdPClient) Decode(token string) (map[string]interface{}, error) {
	claims, err := DecodeClaims(token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// grant posts a form to the token endpoint and parses the response.
// Non-2xx responses come back as *oauth2.RetrieveError.
func (c *IdPClient) grant(ctx context.Context, form url.Values, timeout time.Duration) (*tokenEndpointResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		c.TokenEndpoint(),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &oauth2.RetrieveError{
			Response: resp,
			Body:     body,
		}
	}

	var tokenResp tokenEndpointResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response contained no access_token")
	}
	return &tokenResp, nil
}

// classifyGrantError maps a grant failure to the error taxonomy:
// invalid_grant means bad credentials, everything else is a provider
// failure with its status attached.
func (c *IdPClient) classifyGrantError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return NewCommunicationError(err.Error())
	}

	var oauthErr tokenEndpointError
	if jsonErr := json.Unmarshal(retrieveErr.Body, &oauthErr); jsonErr == nil {
		if oauthErr.Error == "invalid_grant" {
			return ErrInvalidCredentials
		}
	}
	return NewProviderError(retrieveErr.Response.StatusCode, string(retrieveErr.Body))
}
