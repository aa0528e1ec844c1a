package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testToken builds an unsigned-but-well-formed JWT around the claims.
func testToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + body + ".sig"
}

func TestDecodeClaimsEmptyPayload(t *testing.T) {
	// {"alg":"HS256"} header with an empty {} payload.
	claims, err := DecodeClaims("eyJhbGciOiJIUzI1NiJ9.e30.sig")
	if err != nil {
		t.Fatalf("DecodeClaims: %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("expected empty claims map, got %v", claims)
	}
}

func TestDecodeClaimsRejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "no-dots-here", "a.b", "x.###.z"} {
		if _, err := DecodeClaims(token); err == nil {
			t.Errorf("DecodeClaims(%q) should fail", token)
		}
	}
}

func TestClaimExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	claims, err := DecodeClaims(testToken(t, map[string]interface{}{"exp": exp}))
	if err != nil {
		t.Fatalf("DecodeClaims: %v", err)
	}
	got, ok := claimExpiry(claims)
	if !ok {
		t.Fatal("expected exp to be present")
	}
	if got.Unix() != exp {
		t.Errorf("expiry = %v; want unix %d", got, exp)
	}

	if _, ok := claimExpiry(jwt.MapClaims{}); ok {
		t.Error("missing exp must report absent")
	}
}

func TestEmailFromClaimsFallbackOrder(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{
			"sub shaped like an email wins",
			jwt.MapClaims{"sub": "ana@example.com", "email": "other@example.com"},
			"ana@example.com",
		},
		{
			"opaque sub defers to email",
			jwt.MapClaims{"sub": "f3c1-uuid", "email": "ana@example.com"},
			"ana@example.com",
		},
		{
			"preferred_username next",
			jwt.MapClaims{"sub": "f3c1-uuid", "preferred_username": "ana@example.com"},
			"ana@example.com",
		},
		{
			"username last",
			jwt.MapClaims{"username": "ana@example.com"},
			"ana@example.com",
		},
		{
			"placeholder when nothing usable",
			jwt.MapClaims{"sub": "f3c1-uuid"},
			placeholderEmail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := emailFromClaims(tt.claims); got != tt.want {
				t.Errorf("emailFromClaims = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestProfileFromClaims(t *testing.T) {
	claims := jwt.MapClaims{
		"user_id":    "42",
		"email":      "ana@example.com",
		"given_name": "Ana",
		"surname":    "Lopez",
		"rol":        "operator",
		"company":    "Acme",
	}
	profile := profileFromClaims(claims)

	if profile.UserID != "42" {
		t.Errorf("UserID = %q", profile.UserID)
	}
	if profile.Email != "ana@example.com" {
		t.Errorf("Email = %q", profile.Email)
	}
	if profile.FirstName != "Ana" || profile.LastName != "Lopez" {
		t.Errorf("name = %q %q", profile.FirstName, profile.LastName)
	}
	if profile.Role != "operator" {
		t.Errorf("Role = %q; want rol claim honored", profile.Role)
	}
	if !profile.Active {
		t.Error("Active should default to true")
	}
}

func TestProfileFromClaimsRolesArray(t *testing.T) {
	claims := jwt.MapClaims{"roles": []interface{}{"admin", "viewer"}}
	if got := profileFromClaims(claims).Role; got != "admin" {
		t.Errorf("Role = %q; want first roles entry", got)
	}
}

func TestProfileFromClaimsActiveFlag(t *testing.T) {
	if profileFromClaims(jwt.MapClaims{"active": false}).Active {
		t.Error("active=false must carry through")
	}
	if profileFromClaims(jwt.MapClaims{"enabled": false}).Active {
		t.Error("enabled=false must carry through")
	}
}
