package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings is the validated, typed view of the session module's
// configuration. Values are resolved through the global config manager,
// so they can come from the environment, a .env file, or Key Vault
// depending on CONFIG_SOURCE.
type Settings struct {
	// Identity provider
	IdPIssuer       string `validate:"required,url"`
	IdPRealm        string `validate:"required"`
	IdPClientID     string `validate:"required"`
	IdPClientSecret string

	// Legacy backend (also serves the dashboard API)
	LegacyBaseURL string `validate:"required,url"`

	// Timings; zero means "use the component default"
	CallTimeout       time.Duration
	RefreshMargin     time.Duration
	SweepInterval     time.Duration
	AlertPollInterval time.Duration
	WatchInterval     time.Duration

	// Token store backend
	StoreBackend       string `validate:"oneof=file memory postgres"`
	StoreFilePath      string
	StoreEncryptionKey []byte // nil disables at-rest encryption
	PostgresURL        string
}

// Config keys
const (
	KeyIdPIssuer          = "IDP_ISSUER"
	KeyIdPRealm           = "IDP_REALM"
	KeyIdPClientID        = "IDP_CLIENT_ID"
	KeyIdPClientSecret    = "IDP_CLIENT_SECRET"
	KeyLegacyBaseURL      = "LEGACY_BASE_URL"
	KeyCallTimeout        = "API_CALL_TIMEOUT"
	KeyRefreshMargin      = "TOKEN_REFRESH_MARGIN"
	KeySweepInterval      = "TOKEN_SWEEP_INTERVAL"
	KeyAlertPollInterval  = "ALERT_POLL_INTERVAL"
	KeyWatchInterval      = "STORE_WATCH_INTERVAL"
	KeyStoreBackend       = "STORE_BACKEND"
	KeyStoreFilePath      = "STORE_FILE_PATH"
	KeyStoreEncryptionKey = "STORE_ENCRYPTION_KEY"
	KeyPostgresURL        = "STORE_POSTGRES_URL"
)

var settingsValidator = validator.New()

// LoadSettings resolves and validates the module settings. The global
// config must be initialized first.
func LoadSettings() (*Settings, error) {
	if !IsGlobalConfigInitialized() {
		if err := InitGlobalConfig(); err != nil {
			return nil, fmt.Errorf("failed to initialize config: %w", err)
		}
	}

	s := &Settings{
		IdPIssuer:       GetConfig(KeyIdPIssuer),
		IdPRealm:        GetConfig(KeyIdPRealm),
		IdPClientID:     GetConfig(KeyIdPClientID),
		IdPClientSecret: GetConfig(KeyIdPClientSecret),
		LegacyBaseURL:   GetConfig(KeyLegacyBaseURL),
		StoreBackend:    GetConfigWithDefault(KeyStoreBackend, "file"),
		StoreFilePath:   GetConfig(KeyStoreFilePath),
		PostgresURL:     GetConfig(KeyPostgresURL),
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{KeyCallTimeout, &s.CallTimeout},
		{KeyRefreshMargin, &s.RefreshMargin},
		{KeySweepInterval, &s.SweepInterval},
		{KeyAlertPollInterval, &s.AlertPollInterval},
		{KeyWatchInterval, &s.WatchInterval},
	}
	for _, d := range durations {
		raw := GetConfig(d.key)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if rawKey := GetConfig(KeyStoreEncryptionKey); rawKey != "" {
		key, err := base64.StdEncoding.DecodeString(rawKey)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyStoreEncryptionKey, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", KeyStoreEncryptionKey, len(key))
		}
		s.StoreEncryptionKey = key
	}

	if err := settingsValidator.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if s.StoreBackend == "postgres" && s.PostgresURL == "" {
		return nil, fmt.Errorf("%s is required for the postgres store backend", KeyPostgresURL)
	}
	return s, nil
}
