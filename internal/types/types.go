package types

import "time"

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetAuthConfig() AuthConfig
	GetCORSConfig() CORSConfig
	GetPerformanceConfig() PerformanceConfig
	GetLogConfig() LogConfig
	GetDatabaseConfig() DatabaseConfig
	GetUpstreamConfig() UpstreamConfig
	GetHookConfig() HookConfig
	GetCommandConfig() CommandConfig
	GetEffectiveServerConfig() ServerConfig
	IsPlainPassthrough() bool
	Validate() error
	DisplayServerConfig()
	ReloadConfig() error
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// AuthConfig represents inbound authentication configuration.
// An empty Key disables inbound auth (local CLI usage).
type AuthConfig struct {
	Key string `json:"key"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// PerformanceConfig represents performance configuration
type PerformanceConfig struct {
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}

// DatabaseConfig represents the audit log database configuration
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// UpstreamConfig selects and parameterizes the active upstream provider.
type UpstreamConfig struct {
	// Mode selects the wire dialect: "chat" (chat-completions delta stream)
	// or "responses" (structured output-item stream).
	Mode string `json:"mode"`
	// BaseURL is the upstream API root, e.g. https://api.example.com/v1
	BaseURL string `json:"base_url"`
	// APIKey is the bearer credential attached to upstream calls.
	APIKey string `json:"-"`
	// Model maps the client's logical model name to the upstream identifier.
	// Empty means passthrough.
	Model string `json:"model"`
	// TLSImpersonate enables browser TLS fingerprint impersonation for
	// upstreams behind anti-bot layers.
	TLSImpersonate bool `json:"tls_impersonate"`
	// ExposeReasoning forwards reasoning deltas to the client as reasoning
	// items instead of suppressing them.
	ExposeReasoning bool `json:"expose_reasoning"`

	ConnectTimeout  time.Duration `json:"connect_timeout"`
	IdleReadTimeout time.Duration `json:"idle_read_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

// HookConfig locates the hook definition document and bounds hook execution.
type HookConfig struct {
	// Path to the hook definition JSON document. Empty disables hooks.
	Path string `json:"path"`
	// DefaultTimeout applies to hooks without an explicit timeout.
	DefaultTimeout time.Duration `json:"default_timeout"`
	// PhaseTimeout bounds one whole phase across all hooks.
	PhaseTimeout time.Duration `json:"phase_timeout"`
}

// CommandConfig locates the slash command catalog.
type CommandConfig struct {
	// Dir is the directory of markdown command definitions. Empty disables
	// command expansion.
	Dir string `json:"dir"`
	// MaxDepth bounds nested command references during expansion.
	MaxDepth int `json:"max_depth"`
}
