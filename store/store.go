package store

import (
	"strconv"
	"time"
)

// Source identifies which identity issued a token pair.
type Source string

const (
	// SourceLegacy is the dashboard backend's own JWT, used for all
	// business API calls. It has no refresh flow and simply expires.
	SourceLegacy Source = "legacy"

	// SourceFederated is the external identity provider's token pair,
	// kept alive through refresh grants.
	SourceFederated Source = "federated"
)

// Storage keys. All session state lives under these keys so a full
// teardown can remove it atomically.
const (
	KeyLegacyToken      = "legacy_token"
	KeyFederatedAccess  = "idp_access_token"
	KeyFederatedRefresh = "idp_refresh_token"
	KeyFederatedExpiry  = "idp_expires_at" // epoch milliseconds
	KeyUserProfile      = "user_profile"   // cached profile JSON
)

// WatchedKeys are the keys whose external mutation requires in-memory
// caches to re-sync (the cross-process analog of a storage event).
var WatchedKeys = []string{
	KeyLegacyToken,
	KeyFederatedAccess,
	KeyUserProfile,
}

// TokenPair is one identity source's credentials as persisted.
type TokenPair struct {
	AccessToken  string
	RefreshToken string    // only the federated source has one
	ExpiresAt    time.Time // zero when the source carries expiry inside the JWT
}

// Store is the typed accessor layer over a Backend. It holds no business
// logic. Backend failures are swallowed: reads come back absent and
// writes become no-ops, so storage unavailability never crashes callers.
type Store struct {
	backend Backend
}

// New creates a Store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// SaveTokens persists a token pair for the source, replacing whatever
// was stored before.
func (s *Store) SaveTokens(source Source, pair TokenPair) {
	switch source {
	case SourceLegacy:
		s.set(KeyLegacyToken, pair.AccessToken)
	case SourceFederated:
		s.set(KeyFederatedAccess, pair.AccessToken)
		if pair.RefreshToken != "" {
			s.set(KeyFederatedRefresh, pair.RefreshToken)
		}
		if pair.ExpiresAt.IsZero() {
			s.delete(KeyFederatedExpiry)
		} else {
			s.set(KeyFederatedExpiry, strconv.FormatInt(pair.ExpiresAt.UnixMilli(), 10))
		}
	}
}

// Tokens loads the stored pair for the source. The second return is
// false when no access token is stored.
func (s *Store) Tokens(source Source) (TokenPair, bool) {
	switch source {
	case SourceLegacy:
		token := s.get(KeyLegacyToken)
		if token == "" {
			return TokenPair{}, false
		}
		return TokenPair{AccessToken: token}, true

	case SourceFederated:
		pair := TokenPair{
			AccessToken:  s.get(KeyFederatedAccess),
			RefreshToken: s.get(KeyFederatedRefresh),
		}
		if raw := s.get(KeyFederatedExpiry); raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				pair.ExpiresAt = time.UnixMilli(ms)
			}
		}
		if pair.AccessToken == "" && pair.RefreshToken == "" {
			return TokenPair{}, false
		}
		return pair, true
	}
	return TokenPair{}, false
}

// ClearTokens removes everything stored for the source.
func (s *Store) ClearTokens(source Source) {
	switch source {
	case SourceLegacy:
		s.delete(KeyLegacyToken)
	case SourceFederated:
		s.delete(KeyFederatedAccess)
		s.delete(KeyFederatedRefresh)
		s.delete(KeyFederatedExpiry)
	}
}

// DropAccessToken removes only the access token and its expiry, keeping
// the refresh token so a renewal can still succeed.
func (s *Store) DropAccessToken(source Source) {
	switch source {
	case SourceLegacy:
		s.delete(KeyLegacyToken)
	case SourceFederated:
		s.delete(KeyFederatedAccess)
		s.delete(KeyFederatedExpiry)
	}
}

// SaveProfile persists the cached profile mirror (raw JSON).
func (s *Store) SaveProfile(raw []byte) {
	s.set(KeyUserProfile, string(raw))
}

// Profile returns the cached profile mirror, if any.
func (s *Store) Profile() ([]byte, bool) {
	raw := s.get(KeyUserProfile)
	if raw == "" {
		return nil, false
	}
	return []byte(raw), true
}

// ClearProfile removes the cached profile mirror.
func (s *Store) ClearProfile() {
	s.delete(KeyUserProfile)
}

// ClearAll removes both token pairs and the cached profile. Repeated
// calls have no additional effect.
func (s *Store) ClearAll() {
	s.ClearTokens(SourceLegacy)
	s.ClearTokens(SourceFederated)
	s.ClearProfile()
}

func (s *Store) get(key string) string {
	value, err := s.backend.Get(key)
	if err != nil {
		return ""
	}
	return value
}

func (s *Store) set(key, value string) {
	_ = s.backend.Set(key, value)
}

func (s *Store) delete(key string) {
	_ = s.backend.Delete(key)
}
