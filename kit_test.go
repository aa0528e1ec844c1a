package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"inciwatch.com/session/config"
	"inciwatch.com/session/store"
)

func newKitFixture(t *testing.T) *Kit {
	t.Helper()

	idpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "idp-access",
			"refresh_token": "idp-refresh",
			"expires_in":    300,
		})
	}))
	t.Cleanup(idpServer.Close)

	legacyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			// header {"alg":"HS256"} and payload {"exp":4102444800}
			"token": "eyJhbGciOiJIUzI1NiJ9.eyJleHAiOjQxMDI0NDQ4MDB9.sig",
		})
	}))
	t.Cleanup(legacyServer.Close)

	kit, err := New(context.Background(), &config.Settings{
		IdPIssuer:     idpServer.URL,
		IdPRealm:      "incidents",
		IdPClientID:   "dashboard",
		LegacyBaseURL: legacyServer.URL,
		StoreBackend:  "memory",
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(kit.Close)
	return kit
}

func TestKitLoginLogoutLifecycle(t *testing.T) {
	kit := newKitFixture(t)

	if err := kit.Coordinator.Login(context.Background(), "ana@example.com", "hunter2"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	kit.Start()
	kit.Start() // idempotent

	if _, ok := kit.Store.Tokens(store.SourceLegacy); !ok {
		t.Error("legacy token missing after login")
	}
	if _, ok := kit.Store.Tokens(store.SourceFederated); !ok {
		t.Error("federated pair missing after login")
	}
	if token := kit.Legacy.ValidToken(); token == "" {
		t.Error("legacy token should validate")
	}

	kit.Coordinator.Logout()
	if _, ok := kit.Store.Tokens(store.SourceLegacy); ok {
		t.Error("logout must clear the legacy token")
	}
	if kit.Flag.Raised() {
		t.Error("logout must clear the alert flag")
	}
}

func TestKitFileBackendDefault(t *testing.T) {
	dir := t.TempDir()

	kit, err := New(context.Background(), &config.Settings{
		IdPIssuer:     "https://id.example.com",
		IdPRealm:      "incidents",
		IdPClientID:   "dashboard",
		LegacyBaseURL: "https://api.example.com",
		StoreBackend:  "file",
		StoreFilePath: dir + "/session.json",
	}, nil)
	if err != nil {
		t.Fatalf("New with file backend: %v", err)
	}
	defer kit.Close()

	kit.Store.SaveTokens(store.SourceLegacy, store.TokenPair{AccessToken: "t.t.t"})
	if pair, ok := kit.Store.Tokens(store.SourceLegacy); !ok || pair.AccessToken != "t.t.t" {
		t.Errorf("file-backed store round trip failed: %+v, %v", pair, ok)
	}
}
