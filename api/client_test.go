package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"inciwatch.com/session/alert"
	"inciwatch.com/session/auth"
)

// stubLegacy is a fixed legacy token source.
type stubLegacy struct{ token string }

func (s stubLegacy) ValidToken() string { return s.token }

// stubFederated records refresh calls.
type stubFederated struct {
	token     string
	refreshes atomic.Int32
}

func (s *stubFederated) StoredToken() string { return s.token }
func (s *stubFederated) Refresh(ctx context.Context) (string, error) {
	s.refreshes.Add(1)
	return s.token, nil
}

type clientFixture struct {
	client    *Client
	flag      *alert.Flag
	federated *stubFederated
}

func newClientFixture(t *testing.T, legacyToken string, handler http.HandlerFunc) *clientFixture {
	t.Helper()
	f := &clientFixture{
		flag:      alert.NewFlag(),
		federated: &stubFederated{token: "fed-token"},
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:   server.URL,
		Legacy:    stubLegacy{token: legacyToken},
		Federated: f.federated,
		Flag:      f.flag,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	f.client = client
	return f
}

func TestCallSendsAuthorizedRequest(t *testing.T) {
	f := newClientFixture(t, "legacy.jwt", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/incidence/incidents" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer legacy.jwt" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		w.Write([]byte(`[{"id":1}]`))
	})

	body, err := f.client.Call(context.Background(), "/incidents", CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(body) != `[{"id":1}]` {
		t.Errorf("body = %s", body)
	}
}

func TestCallFailsFastWithoutToken(t *testing.T) {
	f := newClientFixture(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request may reach the network without a token")
	})
	f.federated.token = ""

	_, err := f.client.Call(context.Background(), "/incidents", CallOptions{Token: PreferLegacy})
	if err != auth.ErrNoToken {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	_, err = f.client.Call(context.Background(), "/incidents", CallOptions{})
	if err != auth.ErrNoToken {
		t.Fatalf("auto preference with no tokens: expected ErrNoToken, got %v", err)
	}
}

func TestCallAutoFallsBackToFederated(t *testing.T) {
	f := newClientFixture(t, "", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer fed-token" {
			t.Errorf("Authorization = %q; want federated fallback", got)
		}
		w.Write([]byte(`{}`))
	})

	if _, err := f.client.Call(context.Background(), "/incidents", CallOptions{}); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestCallIncludesFederatedHeader(t *testing.T) {
	f := newClientFixture(t, "legacy.jwt", func(w http.ResponseWriter, r *http.Request) {
		// Raw token value in a plain "token" header, no Bearer scheme.
		if got := r.Header.Get("token"); got != "fed-token" {
			t.Errorf("token header = %q; want raw federated token", got)
		}
		w.Write([]byte(`{}`))
	})

	_, err := f.client.Call(context.Background(), "/incidents", CallOptions{IncludeFederatedToken: true})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestCallAuthRejectionRaisesFlagKeepsSession(t *testing.T) {
	f := newClientFixture(t, "legacy.jwt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "Token no autorizado"})
	})

	_, err := f.client.Call(context.Background(), "/incidents", CallOptions{})
	if !auth.IsAuthRejected(err) {
		t.Fatalf("expected auth rejection, got %v", err)
	}
	if !f.flag.Raised() {
		t.Error("auth rejection must raise the alert flag")
	}

	// The background refresh fires; the legacy token source was never
	// told to clear anything.
	deadline := time.Now().Add(2 * time.Second)
	for f.federated.refreshes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.federated.refreshes.Load() == 0 {
		t.Error("auth rejection should trigger a background refresh")
	}
}

func TestCallAuthRelatedMessageOnOddStatus(t *testing.T) {
	// A 400 whose message talks about the token still counts as an
	// auth rejection.
	f := newClientFixture(t, "legacy.jwt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid token supplied"})
	})

	_, err := f.client.Call(context.Background(), "/incidents", CallOptions{})
	if !auth.IsAuthRejected(err) {
		t.Fatalf("expected auth rejection for token-flavored message, got %v", err)
	}
	if !f.flag.Raised() {
		t.Error("flag must be raised")
	}
}

func TestCallResourceGone(t *testing.T) {
	f := newClientFixture(t, "legacy.jwt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	_, err := f.client.Call(context.Background(), "/incidents/9", CallOptions{})
	if err != auth.ErrResourceGone {
		t.Fatalf("expected ErrResourceGone, got %v", err)
	}
	if f.flag.Raised() {
		t.Error("410 is not an auth problem")
	}
}

func TestCallTimeoutClassifiedAsCommunication(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // stall well past the client deadline
	}))
	t.Cleanup(server.Close)

	flag := alert.NewFlag()
	client, err := NewClient(ClientConfig{
		BaseURL: server.URL,
		Legacy:  stubLegacy{token: "legacy.jwt"},
		Flag:    flag,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Call(context.Background(), "/incidents", CallOptions{})
	authErr, ok := err.(*auth.AuthError)
	if !ok || authErr.Type != auth.ErrTypeCommunication {
		t.Fatalf("expected communication error on timeout, got %v", err)
	}
	if flag.Raised() {
		t.Error("a timeout is not an auth rejection and must not raise the flag")
	}
}

func TestCallServerErrorClassifiedAsProvider(t *testing.T) {
	f := newClientFixture(t, "legacy.jwt", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"database exploded"}`, http.StatusInternalServerError)
	})

	_, err := f.client.Call(context.Background(), "/incidents", CallOptions{})
	authErr, ok := err.(*auth.AuthError)
	if !ok || authErr.Type != auth.ErrTypeProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if f.flag.Raised() {
		t.Error("a plain 500 must not raise the auth flag")
	}
}

func TestCallJSONDecodes(t *testing.T) {
	f := newClientFixture(t, "legacy.jwt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":7,"title":"pump failure"}`))
	})

	var out struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	if err := f.client.CallJSON(context.Background(), "/incidents/7", CallOptions{}, &out); err != nil {
		t.Fatalf("CallJSON: %v", err)
	}
	if out.ID != 7 || out.Title != "pump failure" {
		t.Errorf("out = %+v", out)
	}
}

func TestDirectoryFindByEmail(t *testing.T) {
	f := newClientFixture(t, "legacy.jwt", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/incidence/users" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"user_id":"1","email":"bob@example.com","job_position":"Operator"},
			{"user_id":"2","email":"ANA@example.com","job_position":"Dispatcher"}
		]`))
	})
	directory := NewDirectory(f.client)

	entry, err := directory.FindByEmail(context.Background(), "ana@EXAMPLE.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if entry == nil || entry.UserID != "2" || entry.JobPosition != "Dispatcher" {
		t.Errorf("entry = %+v; want case-insensitive match", entry)
	}

	missing, err := directory.FindByEmail(context.Background(), "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("no match should be (nil, nil); got %+v, %v", missing, err)
	}
}
