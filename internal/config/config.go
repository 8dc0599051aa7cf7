// Package config provides configuration management using the Singleton pattern.
// It loads configuration from environment variables and config.yaml using Viper.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hpn/hpn-ernie-router/internal/domain"
)

// Configuration holds all application configuration values.
type Configuration struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// ERNIE Bot upstream configuration
	Ernie ErnieConfig `json:"ernie" mapstructure:"ernie"`

	// Access token pool configuration
	KeyPool KeyPoolConfig `json:"key_pool" mapstructure:"key_pool"`

	// Response cache configuration
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	// Host is the server bind address.
	Host string `json:"host" mapstructure:"host"`

	// Port is the server port number.
	Port int `json:"port" mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeoutSeconds int `json:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Streamed completions can run long; zero disables the limit.
	WriteTimeoutSeconds int `json:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`

	// ShutdownTimeout is the maximum duration to wait for active connections to finish.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

// ErnieConfig selects the backend, the default model and the qianfan key pair.
type ErnieConfig struct {
	// Model is used when a request names a model we do not serve.
	Model string `json:"model" mapstructure:"model"`

	// APIType is the backend: aistudio or qianfan.
	APIType domain.APIType `json:"api_type" mapstructure:"api_type"`

	// AK and SK are the qianfan key pair, used when no access token is pooled.
	AK string `json:"ak" mapstructure:"ak"`
	SK string `json:"sk" mapstructure:"sk"`

	// TimeoutSeconds bounds one upstream exchange.
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`

	// EnableMultiStepToolCall lets the model chain several function calls in one turn.
	EnableMultiStepToolCall bool `json:"enable_multi_step_tool_call" mapstructure:"enable_multi_step_tool_call"`

	// Base URL overrides, mostly for tests and private deployments.
	AIStudioBaseURL string `json:"aistudio_base_url" mapstructure:"aistudio_base_url"`
	QianfanBaseURL  string `json:"qianfan_base_url" mapstructure:"qianfan_base_url"`
	TokenURL        string `json:"token_url" mapstructure:"token_url"`
}

// Timeout returns the upstream timeout as a duration.
func (e ErnieConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Credentials returns the configured qianfan key pair.
func (e ErnieConfig) Credentials() domain.Credentials {
	return domain.Credentials{AK: e.AK, SK: e.SK}
}

// KeyPoolConfig holds access token pool configuration.
type KeyPoolConfig struct {
	// Tokens is the list of access tokens rotated across requests.
	Tokens []string `json:"tokens" mapstructure:"tokens"`

	// RetryCount is the number of times to retry with a different token on failure.
	RetryCount int `json:"retry_count" mapstructure:"retry_count"`

	// CooldownSeconds is how long a failing token stays out of rotation.
	CooldownSeconds int `json:"cooldown_seconds" mapstructure:"cooldown_seconds"`
}

// Cooldown returns the bench duration as a duration.
func (k KeyPoolConfig) Cooldown() time.Duration {
	return time.Duration(k.CooldownSeconds) * time.Second
}

// Cache drivers.
const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

// CacheConfig holds response cache configuration.
type CacheConfig struct {
	// Enabled turns the response cache on.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Driver is memory or redis.
	Driver string `json:"driver" mapstructure:"driver"`

	// TTLSeconds is how long a cached completion stays valid.
	TTLSeconds int `json:"ttl_seconds" mapstructure:"ttl_seconds"`

	// Redis is used when Driver is redis.
	Redis RedisConfig `json:"redis" mapstructure:"redis"`
}

// TTL returns the cache lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RedisConfig holds the Redis connection used by the redis cache driver.
type RedisConfig struct {
	Addr      string `json:"addr" mapstructure:"addr"`
	Password  string `json:"password" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `json:"level" mapstructure:"level"`

	// Format is the log format (json, text).
	Format string `json:"format" mapstructure:"format"`

	// OutputPath is the file path for log output (empty for stdout).
	OutputPath string `json:"output_path" mapstructure:"output_path"`
}

// configInstance holds the singleton configuration instance.
var (
	configInstance *Configuration
	configOnce     sync.Once
	configErr      error
)

// GetConfig returns the singleton Configuration instance.
// The config file named by EB_AGENT_CONFIG is used when set; otherwise the
// default search paths are tried.
func GetConfig() (*Configuration, error) {
	return GetConfigWithPath(os.Getenv(EnvConfigPath))
}

// GetConfigWithPath returns the singleton Configuration instance with a custom config path.
// Only the first call loads; later calls return the same result whatever the path.
func GetConfigWithPath(configPath string) (*Configuration, error) {
	configOnce.Do(func() {
		configInstance, configErr = loadConfig(configPath)
	})
	return configInstance, configErr
}

// ResetConfig resets the singleton instance.
// This is primarily used for testing purposes.
func ResetConfig() {
	configOnce = sync.Once{}
	configInstance = nil
	configErr = nil
}

// Validate validates the configuration and returns an error if required fields are missing.
func (c *Configuration) Validate() error {
	var validationErrors []string

	// Validate server configuration
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		validationErrors = append(validationErrors, "server.port must be between 1 and 65535")
	}

	// Validate upstream configuration
	if !domain.IsSupportedModel(c.Ernie.Model) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"ernie.model '%s' is invalid, must be one of: %v", c.Ernie.Model, domain.SupportedModels(),
		))
	}

	if !c.Ernie.APIType.IsValid() {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"ernie.api_type '%s' is invalid, must be one of: aistudio, qianfan", c.Ernie.APIType,
		))
	}

	// Validate credentials for the selected backend
	switch c.Ernie.APIType {
	case domain.APITypeAIStudio:
		if len(c.KeyPool.Tokens) == 0 {
			validationErrors = append(validationErrors,
				"key_pool.tokens cannot be empty, at least one access token is required for aistudio")
		}
	case domain.APITypeQianfan:
		if len(c.KeyPool.Tokens) == 0 && !c.Ernie.Credentials().HasKeyPair() {
			validationErrors = append(validationErrors,
				"qianfan requires key_pool.tokens or both ernie.ak and ernie.sk")
		}
	}

	for i, token := range c.KeyPool.Tokens {
		if token == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("key_pool.tokens[%d] is empty", i))
		}
	}

	// Validate cache configuration
	if c.Cache.Enabled {
		switch c.Cache.Driver {
		case CacheDriverMemory:
		case CacheDriverRedis:
			if c.Cache.Redis.Addr == "" {
				validationErrors = append(validationErrors, "cache.redis.addr is required for the redis driver")
			}
		default:
			validationErrors = append(validationErrors, fmt.Sprintf(
				"cache.driver '%s' is invalid, must be one of: memory, redis", c.Cache.Driver,
			))
		}
		if c.Cache.TTLSeconds <= 0 {
			validationErrors = append(validationErrors, "cache.ttl_seconds must be positive")
		}
	}

	// Validate logging configuration
	if c.Logging.Level != "" && !isValidLogLevel(c.Logging.Level) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.level '%s' is invalid, must be one of: debug, info, warn, error",
			c.Logging.Level,
		))
	}

	if len(validationErrors) > 0 {
		return &ValidationError{Errors: validationErrors}
	}

	return nil
}

// isValidLogLevel checks if the log level is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
