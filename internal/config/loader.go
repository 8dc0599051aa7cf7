// Package config provides configuration management using the Singleton pattern.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultConfigName = "config"
	defaultConfigType = "yaml"
	envPrefix         = "EB_AGENT"

	// EnvAccessTokens is the primary environment variable for the token pool (comma-separated).
	// This takes PRIORITY over file configuration.
	EnvAccessTokens = "EB_AGENT_ACCESS_TOKENS"

	// EnvConfigPath names an explicit config file, skipping the search paths.
	EnvConfigPath = "EB_AGENT_CONFIG"
)

// loadConfig loads the configuration from environment variables and files.
// Priority order (highest to lowest):
// 1. EB_AGENT_ACCESS_TOKENS env var (comma-separated) for the token pool
// 2. Environment variables (prefixed with EB_AGENT_)
// 3. config.yaml, for local development
// 4. Default values
// EB_AGENT_ACCESS_TOKEN, EB_AGENT_AK and EB_AGENT_SK fill gaps left by all of the above.
func loadConfig(configPath string) (*Configuration, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure Viper
	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)

	// Add config search paths
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hpn-ernie-router")
		v.AddConfigPath("$HOME/.hpn-ernie-router")
	}

	// Enable environment variable override
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Read configuration file (fallback only)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintf(os.Stderr, "[SECURITY] Config file not found, using environment variables only (recommended)\n")
		} else {
			return nil, &ConfigError{
				Op:  "read",
				Err: fmt.Errorf("failed to read config file: %w", err),
			}
		}
	} else {
		fmt.Fprintf(os.Stderr, "[SECURITY] Warning: Using config.yaml - prefer %s env var in production\n", EnvAccessTokens)
	}

	// Unmarshal configuration
	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{
			Op:  "unmarshal",
			Err: fmt.Errorf("failed to unmarshal config: %w", err),
		}
	}

	// PRIORITY: Load the token pool from EB_AGENT_ACCESS_TOKENS first
	if loadTokensFromPrimaryEnv(&cfg) {
		fmt.Fprintf(os.Stderr, "[SECURITY] Using %s env var (file config tokens ignored)\n", EnvAccessTokens)
	}

	applyGlobalCredentials(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 0)
	v.SetDefault("server.shutdown_timeout_seconds", 15)

	// Upstream defaults
	v.SetDefault("ernie.model", "ernie-3.5")
	v.SetDefault("ernie.api_type", "aistudio")
	v.SetDefault("ernie.ak", "")
	v.SetDefault("ernie.sk", "")
	v.SetDefault("ernie.timeout_seconds", 60)
	v.SetDefault("ernie.enable_multi_step_tool_call", false)
	v.SetDefault("ernie.aistudio_base_url", "")
	v.SetDefault("ernie.qianfan_base_url", "")
	v.SetDefault("ernie.token_url", "")

	// Token pool defaults
	v.SetDefault("key_pool.retry_count", 3)
	v.SetDefault("key_pool.cooldown_seconds", 60)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.driver", CacheDriverMemory)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "eb-agent:cache:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "")
}

// loadTokensFromPrimaryEnv loads the token pool from EB_AGENT_ACCESS_TOKENS.
// Format: comma-separated list of tokens (e.g., "tok1,tok2,tok3").
// Returns true if tokens were loaded from this source.
func loadTokensFromPrimaryEnv(cfg *Configuration) bool {
	tokens := splitTokens(os.Getenv(EnvAccessTokens))
	if len(tokens) == 0 {
		return false
	}

	cfg.KeyPool.Tokens = tokens
	return true
}

// applyGlobalCredentials adds the single-token and ak/sk environment variables
// to whatever the file and pool variables left unset.
func applyGlobalCredentials(cfg *Configuration) {
	if token := GlobalAccessToken(); token != "" && !contains(cfg.KeyPool.Tokens, token) {
		cfg.KeyPool.Tokens = append(cfg.KeyPool.Tokens, token)
	}

	if cfg.Ernie.AK == "" && cfg.Ernie.SK == "" {
		if creds := GlobalAKSK(); creds.HasKeyPair() {
			cfg.Ernie.AK = creds.AK
			cfg.Ernie.SK = creds.SK
		}
	}
}

func splitTokens(value string) []string {
	if value == "" {
		return nil
	}

	var tokens []string
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" || contains(tokens, token) {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
