// Package session keeps an incident-dashboard user signed in against
// two backends at once: a Keycloak-compatible identity provider and the
// original incidence API with its own bearer token. It persists both
// token families, refreshes the federated pair ahead of expiry, fronts
// authenticated API calls with retries and failure classification, and
// surfaces a sticky alert when the backend stops accepting credentials.
package session

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"

	"inciwatch.com/session/alert"
	"inciwatch.com/session/api"
	"inciwatch.com/session/auth"
	"inciwatch.com/session/config"
	"inciwatch.com/session/store"
)

// Kit is the fully wired session module. Construct it once at startup,
// call Start after a session exists (Login does this for you through
// the fiber handlers), and Close on shutdown.
type Kit struct {
	Settings    *config.Settings
	Store       *store.Store
	Watcher     *store.Watcher
	IdP         *auth.IdPClient
	Legacy      *auth.LegacyClient
	Coordinator *auth.Coordinator
	Scheduler   *auth.RefreshScheduler
	API         *api.Client
	Directory   *api.Directory
	Flag        *alert.Flag
	Poller      *alert.Poller

	backend store.Backend
	log     *zap.Logger
}

// New wires the module from validated settings. A nil logger gets a
// no-op one.
func New(ctx context.Context, settings *config.Settings, log *zap.Logger) (*Kit, error) {
	if log == nil {
		log = zap.NewNop()
	}

	backendConfig := store.BackendConfig{
		Type:        store.BackendType(settings.StoreBackend),
		FilePath:    settings.StoreFilePath,
		PostgresURL: settings.PostgresURL,
	}
	if len(settings.StoreEncryptionKey) > 0 {
		backendConfig.EncryptionKey = base64.StdEncoding.EncodeToString(settings.StoreEncryptionKey)
	}
	backend, err := store.NewBackend(ctx, backendConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store backend: %w", err)
	}

	st := store.New(backend)
	flag := alert.NewFlag()

	idp := auth.NewIdPClient(auth.IdPClientConfig{
		Issuer:       settings.IdPIssuer,
		Realm:        settings.IdPRealm,
		ClientID:     settings.IdPClientID,
		ClientSecret: settings.IdPClientSecret,
		Logger:       log.Named("idp"),
	}, st)

	legacy := auth.NewLegacyClient(auth.LegacyClientConfig{
		BaseURL: settings.LegacyBaseURL,
		Logger:  log.Named("legacy"),
	}, st)

	apiClient, err := api.NewClient(api.ClientConfig{
		BaseURL:   settings.LegacyBaseURL,
		Legacy:    legacy,
		Federated: idp,
		Flag:      flag,
		Timeout:   settings.CallTimeout,
		Logger:    log.Named("api"),
	})
	if err != nil {
		return nil, err
	}
	directory := api.NewDirectory(apiClient)

	coordinator := auth.NewCoordinator(auth.CoordinatorConfig{
		Store:     st,
		IdP:       idp,
		Legacy:    legacy,
		Flag:      flag,
		Directory: directory,
		Logger:    log.Named("session"),
	})

	scheduler := auth.NewRefreshScheduler(auth.SchedulerConfig{
		Refresher: idp,
		Store:     st,
		Margin:    settings.RefreshMargin,
		Sweep:     settings.SweepInterval,
		Logger:    log.Named("refresh"),
	})

	poller := alert.NewPoller(flag, alert.PollerConfig{
		Interval: settings.AlertPollInterval,
		Logout:   coordinator.Logout,
		Logger:   log.Named("alert"),
	})

	watcher := store.NewWatcher(backend, nil, settings.WatchInterval, log.Named("watch"))
	watcher.Subscribe(coordinator.HandleStorageChange)

	coordinator.OnLogout(scheduler.Stop)

	return &Kit{
		Settings:    settings,
		Store:       st,
		Watcher:     watcher,
		IdP:         idp,
		Legacy:      legacy,
		Coordinator: coordinator,
		Scheduler:   scheduler,
		API:         apiClient,
		Directory:   directory,
		Flag:        flag,
		Poller:      poller,
		backend:     backend,
		log:         log,
	}, nil
}

// NewFromEnv loads settings through the config manager and wires the
// module.
func NewFromEnv(ctx context.Context, log *zap.Logger) (*Kit, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	return New(ctx, settings, log)
}

// Start launches the background components: token refresh, storage
// watching, and alert polling. Idempotent.
func (k *Kit) Start() {
	k.Scheduler.Start()
	k.Watcher.Start()
	k.Poller.Start()
}

// Close stops all background work and releases the storage backend.
func (k *Kit) Close() {
	k.Scheduler.Stop()
	k.Watcher.Stop()
	k.Poller.Stop()
	if closer, ok := k.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}
