package auth

import (
	"strings"
	"sync"
)

// profileCache memoizes the resolved user profile so repeated reads do
// not re-decode the token or hit the directory. Invalidated whenever the
// legacy token changes identity or disappears.
type profileCache struct {
	mu      sync.RWMutex
	profile *UserProfile
}

func (c *profileCache) get() *UserProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func (c *profileCache) set(profile *UserProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = profile
}

func (c *profileCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = nil
}

// identityMatches reports whether two profiles describe the same user:
// same user ID and the same email ignoring case. Either field differing
// means the cached profile belongs to a previous session.
func identityMatches(a, b *UserProfile) bool {
	if a == nil || b == nil {
		return false
	}
	return a.UserID == b.UserID && strings.EqualFold(a.Email, b.Email)
}

// mergeDirectoryProfile overlays a directory entry onto a token-derived
// profile. The token wins on identity-critical fields (user ID, email,
// role, company); the directory supplies the job position and fills
// name fields the token left empty.
func mergeDirectoryProfile(tokenProfile *UserProfile, entry *DirectoryEntry) *UserProfile {
	if entry == nil {
		return tokenProfile
	}

	merged := *tokenProfile
	merged.JobPosition = entry.JobPosition
	if merged.FirstName == "" {
		merged.FirstName = entry.FirstName
	}
	if merged.LastName == "" {
		merged.LastName = entry.LastName
	}
	return &merged
}
