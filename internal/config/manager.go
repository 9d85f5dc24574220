// Package config provides environment-based configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Constants for configuration validation
const (
	minPort = 1
	maxPort = 65535
)

// Manager implements types.ConfigManager backed by environment variables.
// The parsed configuration lives behind an atomic pointer; readers take the
// current snapshot lock-free while ReloadConfig validates a candidate and
// swaps it in only when it passes, so a failed reload never disturbs the
// running configuration.
type Manager struct {
	config atomic.Pointer[Config]
}

// Config aggregates all configuration sections.
type Config struct {
	Server      types.ServerConfig
	Auth        types.AuthConfig
	CORS        types.CORSConfig
	Performance types.PerformanceConfig
	Log         types.LogConfig
	Database    types.DatabaseConfig
	Upstream    types.UpstreamConfig
	Hooks       types.HookConfig
	Commands    types.CommandConfig
	Passthrough bool
}

// NewManager creates a new configuration manager, loading .env if present.
func NewManager() (types.ConfigManager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	m := &Manager{}
	m.config.Store(cfg)
	return m, nil
}

func loadConfig() *Config {
	return &Config{
		Server: types.ServerConfig{
			Port:                    parseInteger(os.Getenv("PORT"), 10000),
			Host:                    getEnvOrDefault("HOST", "127.0.0.1"),
			ReadTimeout:             parseInteger(os.Getenv("SERVER_READ_TIMEOUT"), 120),
			WriteTimeout:            parseInteger(os.Getenv("SERVER_WRITE_TIMEOUT"), 1800),
			IdleTimeout:             parseInteger(os.Getenv("SERVER_IDLE_TIMEOUT"), 120),
			GracefulShutdownTimeout: parseInteger(os.Getenv("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT"), 10),
		},
		Auth: types.AuthConfig{
			Key: os.Getenv("AUTH_KEY"),
		},
		CORS: types.CORSConfig{
			Enabled:          parseBoolean(os.Getenv("ENABLE_CORS"), false),
			AllowedOrigins:   parseArray(os.Getenv("ALLOWED_ORIGINS"), "*"),
			AllowedMethods:   parseArray(os.Getenv("ALLOWED_METHODS"), "GET,POST,OPTIONS"),
			AllowedHeaders:   parseArray(os.Getenv("ALLOWED_HEADERS"), "*"),
			AllowCredentials: parseBoolean(os.Getenv("ALLOW_CREDENTIALS"), false),
		},
		Performance: types.PerformanceConfig{
			MaxConcurrentRequests: parseInteger(os.Getenv("MAX_CONCURRENT_REQUESTS"), 100),
		},
		Log: types.LogConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			Format:     getEnvOrDefault("LOG_FORMAT", "text"),
			EnableFile: parseBoolean(os.Getenv("LOG_ENABLE_FILE"), false),
			FilePath:   getEnvOrDefault("LOG_FILE_PATH", "./data/logs/proxy.log"),
		},
		Database: types.DatabaseConfig{
			DSN: getEnvOrDefault("DATABASE_DSN", "./data/proxy.db"),
		},
		Upstream: types.UpstreamConfig{
			Mode:            strings.ToLower(getEnvOrDefault("UPSTREAM_MODE", "chat")),
			BaseURL:         strings.TrimSuffix(getEnvOrDefault("UPSTREAM_BASE_URL", "https://api.openai.com/v1"), "/"),
			APIKey:          firstNonEmpty(os.Getenv("UPSTREAM_API_KEY"), os.Getenv("OPENAI_API_KEY")),
			Model:           os.Getenv("UPSTREAM_MODEL"),
			TLSImpersonate:  parseBoolean(os.Getenv("UPSTREAM_TLS_IMPERSONATE"), false),
			ExposeReasoning: parseBoolean(os.Getenv("UPSTREAM_EXPOSE_REASONING"), false),
			ConnectTimeout:  time.Duration(parseInteger(os.Getenv("UPSTREAM_CONNECT_TIMEOUT"), 15)) * time.Second,
			IdleReadTimeout: time.Duration(parseInteger(os.Getenv("UPSTREAM_IDLE_READ_TIMEOUT"), 120)) * time.Second,
			RequestTimeout:  time.Duration(parseInteger(os.Getenv("UPSTREAM_REQUEST_TIMEOUT"), 600)) * time.Second,
		},
		Hooks: types.HookConfig{
			Path:           os.Getenv("HOOKS_PATH"),
			DefaultTimeout: time.Duration(parseInteger(os.Getenv("HOOK_DEFAULT_TIMEOUT"), 10)) * time.Second,
			PhaseTimeout:   time.Duration(parseInteger(os.Getenv("HOOK_PHASE_TIMEOUT"), 30)) * time.Second,
		},
		Commands: types.CommandConfig{
			Dir:      os.Getenv("COMMANDS_DIR"),
			MaxDepth: parseInteger(os.Getenv("COMMAND_MAX_DEPTH"), 3),
		},
		Passthrough: parseBoolean(os.Getenv("PLAIN_PASSTHROUGH"), false),
	}
}

// ReloadConfig re-reads the environment into a candidate configuration and
// publishes it atomically. An invalid candidate is discarded and the previous
// snapshot stays in effect.
func (m *Manager) ReloadConfig() error {
	if err := godotenv.Overload(); err != nil {
		logrus.Debug("No .env file found during reload")
	}
	candidate := loadConfig()
	if err := validateConfig(candidate); err != nil {
		logrus.WithError(err).Error("Config reload rejected, keeping previous configuration")
		return err
	}
	m.config.Store(candidate)
	return nil
}

// Validate checks the current configuration snapshot for errors.
func (m *Manager) Validate() error {
	return validateConfig(m.config.Load())
}

func validateConfig(cfg *Config) error {
	var errs []string

	server := cfg.Server
	if server.Port < minPort || server.Port > maxPort {
		errs = append(errs, fmt.Sprintf("invalid port: %d (must be %d-%d)", server.Port, minPort, maxPort))
	}

	up := cfg.Upstream
	if up.Mode != "chat" && up.Mode != "responses" {
		errs = append(errs, fmt.Sprintf("invalid UPSTREAM_MODE: %q (must be 'chat' or 'responses')", up.Mode))
	}
	if up.BaseURL == "" {
		errs = append(errs, "UPSTREAM_BASE_URL must not be empty")
	}

	if cfg.Commands.MaxDepth < 1 {
		errs = append(errs, "COMMAND_MAX_DEPTH must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (m *Manager) GetAuthConfig() types.AuthConfig               { return m.config.Load().Auth }
func (m *Manager) GetCORSConfig() types.CORSConfig               { return m.config.Load().CORS }
func (m *Manager) GetPerformanceConfig() types.PerformanceConfig { return m.config.Load().Performance }
func (m *Manager) GetLogConfig() types.LogConfig                 { return m.config.Load().Log }
func (m *Manager) GetDatabaseConfig() types.DatabaseConfig       { return m.config.Load().Database }
func (m *Manager) GetUpstreamConfig() types.UpstreamConfig       { return m.config.Load().Upstream }
func (m *Manager) GetHookConfig() types.HookConfig               { return m.config.Load().Hooks }
func (m *Manager) GetCommandConfig() types.CommandConfig         { return m.config.Load().Commands }
func (m *Manager) GetEffectiveServerConfig() types.ServerConfig  { return m.config.Load().Server }
func (m *Manager) IsPlainPassthrough() bool                      { return m.config.Load().Passthrough }

// DisplayServerConfig logs the effective configuration at startup.
func (m *Manager) DisplayServerConfig() {
	cfg := m.config.Load()
	logrus.Info("")
	logrus.Info("======= Proxy Configuration =======")
	logrus.Infof("  Listen:            %s:%d", cfg.Server.Host, cfg.Server.Port)
	logrus.Infof("  Upstream mode:     %s", cfg.Upstream.Mode)
	logrus.Infof("  Upstream base URL: %s", cfg.Upstream.BaseURL)
	logrus.Infof("  TLS impersonation: %t", cfg.Upstream.TLSImpersonate)
	logrus.Infof("  Commands dir:      %s", displayOrNone(cfg.Commands.Dir))
	logrus.Infof("  Hooks path:        %s", displayOrNone(cfg.Hooks.Path))
	logrus.Infof("  Plain passthrough: %t", cfg.Passthrough)
	logrus.Info("===================================")
	logrus.Info("")
}

func displayOrNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInteger(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolean(value string, defaultValue bool) bool {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseArray(value, defaultValue string) []string {
	if value == "" {
		value = defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
