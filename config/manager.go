package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"inciwatch.com/session/config/providers"
)

// ConfigManager manages configuration from different sources
type ConfigManager struct {
	configSource     string
	provider         providers.ConfigProvider
	fallbackProvider providers.ConfigProvider
	log              *zap.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() (*ConfigManager, error) {
	// These two environment variables are needed to bootstrap the config system
	// They must be read directly since the config manager isn't available yet
	configSource := os.Getenv("CONFIG_SOURCE")
	if configSource == "" {
		configSource = "env-file" // Default to environment file
	}

	// Read provider-specific configuration only if needed
	var configSourceConfig map[string]interface{}
	if configSource != "env-file" {
		configSourceConfigStr := os.Getenv("CONFIG_SOURCE_CONFIG")
		if configSourceConfigStr != "" {
			if err := json.Unmarshal([]byte(configSourceConfigStr), &configSourceConfig); err != nil {
				return nil, fmt.Errorf("failed to parse CONFIG_SOURCE_CONFIG: %w", err)
			}
		}
	}

	factory := &providers.ProviderFactory{}

	providerConfig := providers.ProviderConfig{
		ProviderType: providers.ProviderType(configSource),
		Config:       configSourceConfig,
	}

	if err := factory.ValidateProviderConfig(providerConfig); err != nil {
		return nil, fmt.Errorf("invalid provider configuration: %w", err)
	}

	provider, err := factory.NewProvider(providerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary provider: %w", err)
	}

	// Create fallback provider (always env-file)
	fallbackConfig := providers.ProviderConfig{
		ProviderType: providers.ProviderTypeEnvFile,
		Config:       make(map[string]interface{}),
	}

	fallbackProvider, err := factory.NewProvider(fallbackConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback provider: %w", err)
	}

	log := zap.NewNop()
	if configSource != "env-file" {
		if production, err := zap.NewProduction(); err == nil {
			log = production
		}
	}

	cm := &ConfigManager{
		configSource:     configSource,
		provider:         provider,
		fallbackProvider: fallbackProvider,
		log:              log,
	}

	log.Info("configuration manager initialized", zap.String("config_source", configSource))

	return cm, nil
}

// Get retrieves a configuration value with proper key normalization
func (cm *ConfigManager) Get(key string) string {
	ctx := context.Background()

	// For env-file source, use the key as-is
	// For other sources (like Azure Key Vault), normalize the key
	var searchKey string
	if cm.configSource == "env-file" {
		searchKey = key
	} else {
		searchKey = cm.normalizeKey(key)
	}

	// Try primary provider first
	value, err := cm.provider.Get(ctx, searchKey)
	if err != nil {
		// Only try fallback if primary provider is NOT env-file
		// (because if primary is env-file, fallback is also env-file, so it will fail the same way)
		if cm.configSource != "env-file" {
			cm.log.Debug("primary provider failed, falling back to env-file",
				zap.String("key", key),
				zap.String("search_key", searchKey),
				zap.Error(err),
			)

			// Try fallback provider with original key (env vars use underscores)
			value, err = cm.fallbackProvider.Get(ctx, key)
			if err != nil {
				cm.log.Debug("fallback provider also failed", zap.String("key", key), zap.Error(err))
				return ""
			}
		} else {
			// For env-file source, just return empty string without trying fallback
			return ""
		}
	}

	return value
}

// GetWithDefault retrieves a configuration value with fallback
func (cm *ConfigManager) GetWithDefault(key, defaultValue string) string {
	ctx := context.Background()

	var searchKey string
	if cm.configSource == "env-file" {
		searchKey = key
	} else {
		searchKey = cm.normalizeKey(key)
	}

	value, err := cm.provider.Get(ctx, searchKey)
	if err != nil || value == "" {
		if cm.configSource != "env-file" {
			value, err = cm.fallbackProvider.Get(ctx, key)
			if err != nil || value == "" {
				return defaultValue
			}
		} else {
			return defaultValue
		}
	}

	return value
}

// IsKeyVaultEnabled returns true if Azure Key Vault is the primary provider
func (cm *ConfigManager) IsKeyVaultEnabled() bool {
	return cm.configSource == "azure-keyvault"
}

// GetConfigSource returns the current configuration source
func (cm *ConfigManager) GetConfigSource() string {
	return cm.configSource
}

// normalizeKey normalizes keys based on the configuration source
func (cm *ConfigManager) normalizeKey(key string) string {
	switch cm.configSource {
	case "azure-keyvault":
		// Azure Key Vault doesn't support underscores, use hyphens
		return strings.ReplaceAll(key, "_", "-")
	default:
		return key
	}
}
