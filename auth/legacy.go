package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"inciwatch.com/session/store"
)

const legacyLoginTimeout = 10 * time.Second

// legacyLoginRequest is the login body for the original backend.
type legacyLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// legacyLoginResponse is the login reply. Only the token is used; the
// backend sends more fields but the profile comes from the token claims.
type legacyLoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

// LegacyClientConfig configures the legacy backend client.
type LegacyClientConfig struct {
	BaseURL    string // e.g. https://api.example.com
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// LegacyClient authenticates against the original incidence backend and
// owns the legacy token's lifecycle in the store. The legacy token is
// the one that authorizes dashboard API calls; the federated pair only
// proves the identity-provider login succeeded.
type LegacyClient struct {
	config LegacyClientConfig
	http   *http.Client
	store  *store.Store
	log    *zap.Logger
}

// NewLegacyClient creates a legacy backend client over the given store.
func NewLegacyClient(config LegacyClientConfig, st *store.Store) *LegacyClient {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &LegacyClient{
		config: config,
		http:   httpClient,
		store:  st,
		log:    log,
	}
}

// PasswordLogin logs in with email and password. The response token must
// at least be shaped like a JWT (contain a dot) before it is persisted;
// a token-less or malformed reply is a provider failure, not a
// credential failure.
func (c *LegacyClient) PasswordLogin(ctx context.Context, email, password string) (string, error) {
	payload, err := json.Marshal(legacyLoginRequest{Email: email, Password: password})
	if err != nil {
		return "", fmt.Errorf("failed to encode login request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, legacyLoginTimeout)
	defer cancel()

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/incidence/login"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", NewCommunicationError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewCommunicationError(err.Error())
	}

	var loginResp legacyLoginResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", ErrInvalidCredentials
		}
		return "", NewProviderError(resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return "", ErrMalformedToken
	}
	if !strings.Contains(loginResp.Token, ".") {
		return "", ErrMalformedToken
	}

	c.store.SaveTokens(store.SourceLegacy, store.TokenPair{AccessToken: loginResp.Token})
	return loginResp.Token, nil
}

// ValidToken returns the stored legacy token while its exp claim is in
// the future. An undecodable or expired token is cleared from the store
// and reported absent; those conditions never surface as errors.
func (c *LegacyClient) ValidToken() string {
	pair, ok := c.store.Tokens(store.SourceLegacy)
	if !ok || pair.AccessToken == "" {
		return ""
	}

	claims, err := DecodeClaims(pair.AccessToken)
	if err != nil {
		c.log.Debug("stored legacy token is undecodable, clearing", zap.Error(err))
		c.store.ClearTokens(store.SourceLegacy)
		return ""
	}
	if expiry, ok := claimExpiry(claims); ok && !expiry.After(time.Now()) {
		c.store.ClearTokens(store.SourceLegacy)
		return ""
	}
	return pair.AccessToken
}

// Profile derives a user profile from the current legacy token's claims.
// Absent or invalid tokens yield a nil profile.
func (c *LegacyClient) Profile() *UserProfile {
	token := c.ValidToken()
	if token == "" {
		return nil
	}
	claims, err := DecodeClaims(token)
	if err != nil {
		return nil
	}
	return profileFromClaims(claims)
}
