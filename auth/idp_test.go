package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"inciwatch.com/session/store"
)

func newIdPFixture(t *testing.T, handler http.HandlerFunc) (*IdPClient, *store.Store) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	st := store.New(store.NewMemoryBackend())
	client := NewIdPClient(IdPClientConfig{
		Issuer:   server.URL,
		Realm:    "incidents",
		ClientID: "dashboard",
	}, st)
	return client, st
}

func TestIdPTokenEndpoint(t *testing.T) {
	client := NewIdPClient(IdPClientConfig{Issuer: "https://id.example.com/", Realm: "incidents"}, nil)
	want := "https://id.example.com/realms/incidents/protocol/openid-connect/token"
	if got := client.TokenEndpoint(); got != want {
		t.Errorf("TokenEndpoint = %q; want %q", got, want)
	}
}

func TestIdPPasswordLoginPersistsPair(t *testing.T) {
	client, st := newIdPFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realms/incidents/protocol/openid-connect/token" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := url.ParseQuery(readAll(t, r))
		if body.Get("grant_type") != "password" || body.Get("username") != "ana@example.com" {
			t.Errorf("form = %v", body)
		}
		json.NewEncoder(w).Encode(tokenEndpointResponse{
			AccessToken:  "idp-access",
			RefreshToken: "idp-refresh",
			ExpiresIn:    300,
		})
	})

	before := time.Now()
	pair, err := client.PasswordLogin(context.Background(), "ana@example.com", "hunter2")
	if err != nil {
		t.Fatalf("PasswordLogin: %v", err)
	}
	if pair.AccessToken != "idp-access" || pair.RefreshToken != "idp-refresh" {
		t.Errorf("pair = %+v", pair)
	}
	if pair.ExpiresAt.Before(before.Add(299*time.Second)) || pair.ExpiresAt.After(time.Now().Add(301*time.Second)) {
		t.Errorf("ExpiresAt = %v; want roughly now+300s", pair.ExpiresAt)
	}
	if stored, ok := st.Tokens(store.SourceFederated); !ok || stored.AccessToken != "idp-access" {
		t.Errorf("stored = %+v, %v; want pair persisted before return", stored, ok)
	}
}

func TestIdPPasswordLoginInvalidGrant(t *testing.T) {
	client, st := newIdPFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(tokenEndpointError{Error: "invalid_grant", ErrorDescription: "bad credentials"})
	})

	_, err := client.PasswordLogin(context.Background(), "ana@example.com", "nope")
	if !IsCredentialError(err) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if _, ok := st.Tokens(store.SourceFederated); ok {
		t.Error("no pair may be stored on a failed grant")
	}
}

func TestIdPPasswordLoginProviderFailure(t *testing.T) {
	client, _ := newIdPFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.PasswordLogin(context.Background(), "ana@example.com", "hunter2")
	authErr, ok := err.(*AuthError)
	if !ok || authErr.Type != ErrTypeProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if authErr.Code != http.StatusBadGateway {
		t.Errorf("code = %d; want 502", authErr.Code)
	}
}

func TestIdPRefresh(t *testing.T) {
	client, st := newIdPFixture(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := url.ParseQuery(readAll(t, r))
		if body.Get("grant_type") != "refresh_token" || body.Get("refresh_token") != "old-refresh" {
			t.Errorf("form = %v", body)
		}
		json.NewEncoder(w).Encode(tokenEndpointResponse{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    300,
		})
	})

	st.SaveTokens(store.SourceFederated, store.TokenPair{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	token, err := client.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token != "new-access" {
		t.Errorf("token = %q", token)
	}
	pair, _ := st.Tokens(store.SourceFederated)
	if pair.RefreshToken != "new-refresh" {
		t.Errorf("rotated refresh token not stored: %+v", pair)
	}
}

func TestIdPRefreshWithoutRefreshToken(t *testing.T) {
	client, _ := newIdPFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a refresh token")
	})

	token, err := client.Refresh(context.Background())
	if err != nil || token != "" {
		t.Errorf("Refresh = %q, %v; want absent without error", token, err)
	}
}

func TestIdPRefreshFailureClearsPair(t *testing.T) {
	client, st := newIdPFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(tokenEndpointError{Error: "invalid_grant"})
	})

	st.SaveTokens(store.SourceFederated, store.TokenPair{
		AccessToken:  "old-access",
		RefreshToken: "dead-refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
	})

	token, err := client.Refresh(context.Background())
	if err != nil || token != "" {
		t.Errorf("Refresh = %q, %v; failure must be absent, not an error", token, err)
	}
	if _, ok := st.Tokens(store.SourceFederated); ok {
		t.Error("failed refresh must clear the federated pair")
	}
}

func TestIdPStoredToken(t *testing.T) {
	client, st := newIdPFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenEndpointResponse{AccessToken: "renewed", ExpiresIn: 300})
	})

	if got := client.StoredToken(); got != "" {
		t.Errorf("empty store should yield no token, got %q", got)
	}

	st.SaveTokens(store.SourceFederated, store.TokenPair{
		AccessToken: "live",
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	if got := client.StoredToken(); got != "live" {
		t.Errorf("unexpired token should be returned, got %q", got)
	}

	st.SaveTokens(store.SourceFederated, store.TokenPair{
		AccessToken:  "stale",
		RefreshToken: "still-good",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	if got := client.StoredToken(); got != "" {
		t.Errorf("expired token must report absent, got %q", got)
	}
	// The stale access token is gone immediately; the refresh token
	// survives for the background renewal.
	pair, ok := st.Tokens(store.SourceFederated)
	if !ok || pair.AccessToken == "stale" {
		t.Errorf("stale access token should be dropped synchronously: %+v, %v", pair, ok)
	}
}

func readAll(t *testing.T, r *http.Request) string {
	t.Helper()
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
