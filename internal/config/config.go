// Package config loads sentinel-chat configuration from defaults, a YAML
// file and SENTINEL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/embeddings"
)

// envKeys are the settings that can be overridden from the environment
// without appearing in the config file, e.g. SENTINEL_LLM_API_KEY.
var envKeys = []string{
	"server.port",
	"logging.level",
	"logging.format",
	"entity.threshold",
	"entity.cross_type_matching",
	"recognizer.type",
	"recognizer.presidio.url",
	"embedding.type",
	"embedding.model.base_url",
	"embedding.model.api_key",
	"embedding.redis_enabled",
	"embedding.redis_url",
	"llm.provider",
	"llm.model",
	"llm.base_url",
	"llm.api_key",
	"chat.strict_privacy",
	"session.ttl",
	"session.redis_enabled",
	"session.redis.redis_url",
	"audit.enabled",
	"audit.database_url",
	"rate_limit.enabled",
	"rate_limit.requests_per_min",
	"websocket.username",
	"websocket.password",
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/sentinel-chat/")
	v.AddConfigPath("$HOME/.sentinel-chat/")

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return v
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaults()
	// a list in the file replaces the default list instead of overlaying it
	replaceSlices := func(dc *mapstructure.DecoderConfig) { dc.ZeroFields = true }
	if err := v.Unmarshal(config, replaceSlices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Entity.Threshold <= 0 || config.Entity.Threshold > 1 {
		return fmt.Errorf("invalid entity threshold: %v (must be in (0, 1])", config.Entity.Threshold)
	}

	switch config.Recognizer.Type {
	case "rule":
	case "presidio", "composite":
		if config.Recognizer.Presidio.URL == "" {
			return fmt.Errorf("recognizer.presidio.url required for recognizer type %s", config.Recognizer.Type)
		}
	default:
		return fmt.Errorf("invalid recognizer type: %s (must be rule, presidio, or composite)", config.Recognizer.Type)
	}

	if err := embeddings.ValidateServiceConfig(config.Embedding); err != nil {
		return err
	}

	switch strings.ToLower(config.LLM.Provider) {
	case "echo", "openai", "ollama":
	default:
		return fmt.Errorf("invalid llm provider: %s (must be openai, ollama, or echo)", config.LLM.Provider)
	}

	limits := config.Chat.Limits
	if limits.MinPromptLength < 0 || limits.MaxPromptLength < limits.MinPromptLength {
		return fmt.Errorf("invalid prompt length limits: min %d, max %d", limits.MinPromptLength, limits.MaxPromptLength)
	}
	if limits.MaxFiles < 0 || limits.MaxFileSize <= 0 {
		return fmt.Errorf("invalid file limits: max_files %d, max_file_size %d", limits.MaxFiles, limits.MaxFileSize)
	}

	if config.Session.TTL <= 0 {
		return fmt.Errorf("invalid session ttl: %s", config.Session.TTL)
	}
	if config.Session.RedisEnabled && config.Session.Redis.RedisURL == "" {
		return fmt.Errorf("session.redis.redis_url required when session.redis_enabled is true")
	}

	if config.Audit.Enabled && config.Audit.DatabaseURL == "" {
		return fmt.Errorf("audit.database_url required when audit is enabled")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	return nil
}

// Watch reloads configPath on change and hands every valid configuration to
// callback. Invalid edits are logged and ignored.
func Watch(configPath string, logger *zap.Logger, callback func(*Config)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}

		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
