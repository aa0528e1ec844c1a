package auth

import (
	"context"
)

// UserProfile is the identity presented to the dashboard. It is derived
// from the legacy token's claims and optionally enriched from the user
// directory; for identity-critical fields the token always wins.
type UserProfile struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	JobPosition string `json:"job_position"`
	Company     string `json:"company"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
}

// DirectoryEntry is one record of the remote user directory, used for
// best-effort profile enrichment (matched by email).
type DirectoryEntry struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	JobPosition string `json:"job_position"`
	Company     string `json:"company"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
}

// DirectoryLookup finds a directory entry for an email address,
// case-insensitively. A nil entry with a nil error means "no match";
// the coordinator then falls back to the token-derived profile.
type DirectoryLookup interface {
	FindByEmail(ctx context.Context, email string) (*DirectoryEntry, error)
}

// TokenRefresher renews the federated access token. Implemented by
// IdPClient; the scheduler depends on this interface so tests can
// substitute their own.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}
