package auth

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"inciwatch.com/session/alert"
	"inciwatch.com/session/store"
)

// Coordinator sequences the dual login, owns logout teardown, and
// resolves the current user profile. It is the one place that knows
// both token families exist.
type Coordinator struct {
	store     *store.Store
	idp       *IdPClient
	legacy    *LegacyClient
	flag      *alert.Flag
	directory DirectoryLookup // optional enrichment source
	log       *zap.Logger

	cache profileCache

	mu        sync.Mutex
	stopHooks []func()
}

// CoordinatorConfig wires a Coordinator. Directory and Logger may be nil.
type CoordinatorConfig struct {
	Store     *store.Store
	IdP       *IdPClient
	Legacy    *LegacyClient
	Flag      *alert.Flag
	Directory DirectoryLookup
	Logger    *zap.Logger
}

// NewCoordinator creates the session coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		store:     config.Store,
		idp:       config.IdP,
		legacy:    config.Legacy,
		flag:      config.Flag,
		directory: config.Directory,
		log:       log,
	}
}

// OnLogout registers a hook run during Logout, after local state is
// cleared. Used to stop the refresh scheduler and alert poller.
func (c *Coordinator) OnLogout(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopHooks = append(c.stopHooks, hook)
}

// Login signs the user in against both systems, identity provider
// first. Any previous session state is cleared before the first network
// call so a failed attempt can never leave a half-session behind; a
// legacy failure after a provider success also tears the provider pair
// down. On full success the auth alert flag is cleared.
func (c *Coordinator) Login(ctx context.Context, email, password string) error {
	c.teardown()

	if _, err := c.idp.PasswordLogin(ctx, email, password); err != nil {
		c.log.Info("identity provider login failed", zap.String("email", email), zap.Error(err))
		return err
	}

	if _, err := c.legacy.PasswordLogin(ctx, email, password); err != nil {
		c.log.Info("legacy login failed after provider success", zap.String("email", email), zap.Error(err))
		c.teardown()
		return err
	}

	c.flag.Clear()
	c.log.Info("session established", zap.String("email", email))
	return nil
}

// Logout clears all session state and runs the registered stop hooks.
// Safe to call repeatedly and without a live session.
func (c *Coordinator) Logout() {
	c.teardown()
	c.flag.Clear()

	c.mu.Lock()
	hooks := make([]func(), len(c.stopHooks))
	copy(hooks, c.stopHooks)
	c.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}
	c.log.Info("session terminated")
}

// teardown removes tokens, the profile mirror, and the in-memory cache.
func (c *Coordinator) teardown() {
	c.store.ClearAll()
	c.cache.clear()
}

// CurrentUserProfile resolves the signed-in user's profile. The legacy
// token is the source of truth: without a valid one there is no profile,
// whatever the cache or mirror say. With force false the cached profile
// is returned as long as it still matches the token identity; otherwise
// the profile is rebuilt from token claims, enriched from the directory
// when one is configured, and mirrored back to the store. Directory
// failures degrade to the token-derived profile, never to an error.
func (c *Coordinator) CurrentUserProfile(ctx context.Context, force bool) *UserProfile {
	token := c.legacy.ValidToken()
	if token == "" {
		c.cache.clear()
		c.store.ClearProfile()
		return nil
	}

	claims, err := DecodeClaims(token)
	if err != nil {
		c.cache.clear()
		return nil
	}
	tokenProfile := profileFromClaims(claims)

	if !force {
		if cached := c.cache.get(); cached != nil && identityMatches(cached, tokenProfile) {
			return cached
		}
		if mirrored := c.mirroredProfile(); mirrored != nil && identityMatches(mirrored, tokenProfile) {
			c.cache.set(mirrored)
			return mirrored
		}
	}

	profile := tokenProfile
	if c.directory != nil {
		entry, err := c.directory.FindByEmail(ctx, tokenProfile.Email)
		if err != nil {
			c.log.Warn("directory lookup failed, using token profile", zap.Error(err))
		} else {
			profile = mergeDirectoryProfile(tokenProfile, entry)
		}
	}

	c.cache.set(profile)
	if raw, err := json.Marshal(profile); err == nil {
		c.store.SaveProfile(raw)
	}
	return profile
}

// mirroredProfile reads the persisted profile copy, tolerating a stale
// or unparsable mirror.
func (c *Coordinator) mirroredProfile() *UserProfile {
	raw, ok := c.store.Profile()
	if !ok {
		return nil
	}
	var profile UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		c.store.ClearProfile()
		return nil
	}
	return &profile
}

// HandleStorageChange reacts to an external mutation of a watched store
// key (another process sharing the backend). Token or profile movement
// invalidates the in-memory cache so the next read re-resolves.
func (c *Coordinator) HandleStorageChange(key, value string) {
	switch key {
	case store.KeyLegacyToken, store.KeyUserProfile:
		c.log.Debug("session storage changed externally", zap.String("key", key))
		c.cache.clear()
	}
}
