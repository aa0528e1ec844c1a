package auth

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

// Claim reading is trust-on-receipt: tokens come from our own backend or
// the identity provider over a same-origin proxy, so payloads are decoded
// without signature verification. This is a documented limitation, not a
// security boundary.

var fieldValidator = validator.New()

// placeholderEmail is used when no claim yields a usable address.
const placeholderEmail = "unknown@no-reply.invalid"

// DecodeClaims base64url-decodes the payload segment of a JWT into its
// claims map. Malformed tokens (not three dot-separated segments, bad
// base64, bad JSON) return an error; callers normalize that to "no
// valid token" rather than surfacing it.
func DecodeClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token payload: %w", err)
	}
	return claims, nil
}

// claimExpiry extracts the exp claim as wall-clock time.
func claimExpiry(claims jwt.MapClaims) (time.Time, bool) {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// firstString walks keys in order and returns the first non-empty string
// claim. Issuer configurations differ in which claim they populate, so
// every profile field reads through an ordered chain like this instead
// of a single guessed name.
func firstString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if value, ok := claims[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// emailFromClaims resolves the profile email: sub when it is shaped like
// an address, then email, preferred_username, username, and finally a
// fixed placeholder.
func emailFromClaims(claims jwt.MapClaims) string {
	if sub, ok := claims["sub"].(string); ok && looksLikeEmail(sub) {
		return sub
	}
	if email := firstString(claims, "email", "preferred_username", "username"); email != "" {
		return email
	}
	return placeholderEmail
}

func looksLikeEmail(value string) bool {
	return fieldValidator.Var(value, "email") == nil
}

// profileFromClaims maps legacy token claims to a UserProfile using the
// per-field fallback chains.
func profileFromClaims(claims jwt.MapClaims) *UserProfile {
	profile := &UserProfile{
		UserID:      firstString(claims, "user_id", "userId", "uid", "sub"),
		Email:       emailFromClaims(claims),
		FirstName:   firstString(claims, "given_name", "first_name", "name"),
		LastName:    firstString(claims, "family_name", "last_name", "surname"),
		JobPosition: firstString(claims, "job_position", "position", "job_title"),
		Company:     firstString(claims, "company", "organization", "org"),
		Role:        firstString(claims, "role", "rol", "user_role"),
		Active:      true,
	}

	if profile.Role == "" {
		if roles, ok := claims["roles"].([]interface{}); ok && len(roles) > 0 {
			if role, ok := roles[0].(string); ok {
				profile.Role = role
			}
		}
	}
	if active, ok := claims["active"].(bool); ok {
		profile.Active = active
	} else if enabled, ok := claims["enabled"].(bool); ok {
		profile.Active = enabled
	}

	return profile
}
