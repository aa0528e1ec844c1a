package api

import (
	"context"
	"strings"

	"inciwatch.com/session/auth"
)

// Directory resolves user records from the backend's user list for
// profile enrichment. It satisfies auth.DirectoryLookup.
type Directory struct {
	client *Client
}

// NewDirectory creates a directory over the API client.
func NewDirectory(client *Client) *Directory {
	return &Directory{client: client}
}

// FindByEmail fetches the user list and matches by email ignoring
// case. No match is (nil, nil); the caller treats that as "use the
// token profile".
func (d *Directory) FindByEmail(ctx context.Context, email string) (*auth.DirectoryEntry, error) {
	var entries []auth.DirectoryEntry
	if err := d.client.CallJSON(ctx, "/users", CallOptions{Token: PreferLegacy}, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		if strings.EqualFold(entries[i].Email, email) {
			return &entries[i], nil
		}
	}
	return nil, nil
}
