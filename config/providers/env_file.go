package providers

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// Load the .env file once per process; variables already set in the
// environment win over file entries.
var loadEnvFileOnce sync.Once

// EnvFileProvider implements ConfigProvider for environment variables,
// seeded from a .env file when one exists next to the binary.
type EnvFileProvider struct {
	config map[string]interface{}
}

// NewEnvFileProvider creates a new environment file provider
func NewEnvFileProvider(config ProviderConfig) (ConfigProvider, error) {
	loadEnvFileOnce.Do(func() {
		path := ".env"
		if custom, ok := config.Config["env_file"].(string); ok && custom != "" {
			path = custom
		}
		// Missing file is fine; plain environment variables still work.
		_ = godotenv.Load(path)
	})
	return &EnvFileProvider{
		config: config.Config,
	}, nil
}

// Get retrieves a configuration value from environment variables
func (ep *EnvFileProvider) Get(ctx context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("environment variable '%s' not set", key)
	}
	return value, nil
}

// GetWithDefault retrieves a configuration value with fallback
func (ep *EnvFileProvider) GetWithDefault(ctx context.Context, key, defaultValue string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return value, nil
}

// validateEnvFileConfig checks the provider configuration. The env-file
// provider has no required settings.
func validateEnvFileConfig(config ProviderConfig) error {
	if custom, ok := config.Config["env_file"]; ok {
		if _, isString := custom.(string); !isString {
			return fmt.Errorf("env_file must be a string path")
		}
	}
	return nil
}
