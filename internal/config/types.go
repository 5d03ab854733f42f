package config

import "time"

// Config represents the complete storegate configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Store        StoreConfig        `yaml:"store"`
	Platform     PlatformConfig     `yaml:"platform"`
	Webhooks     WebhooksConfig     `yaml:"webhooks"`
	Provider     ProviderConfig     `yaml:"provider"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`

	// SourceFile is the path the config was loaded from.
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name   string `yaml:"name"`
	Listen string `yaml:"listen"`
	// PublicURL is the externally reachable base URL of this service. The
	// function-call bridge URL handed to the provider is derived from it.
	PublicURL       string        `yaml:"public_url"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the database. The fallback is a second PostgreSQL
// credential for the same database, used when the primary credential cannot
// write tenant rows.
type StoreConfig struct {
	Driver         string `yaml:"driver"`
	DSN            string `yaml:"dsn"`
	FallbackDriver string `yaml:"fallback_driver,omitempty"`
	FallbackDSN    string `yaml:"fallback_dsn,omitempty"`
	MaxOpenConns   int    `yaml:"max_open_conns,omitempty"`
}

// PlatformConfig holds the app credentials and OAuth settings.
type PlatformConfig struct {
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	Scopes          []string      `yaml:"scopes"`
	APIVersion      string        `yaml:"api_version"`
	AdminBaseURL    string        `yaml:"admin_base_url,omitempty"`
	DomainSuffix    string        `yaml:"domain_suffix"`
	RedirectURI     string        `yaml:"redirect_uri"`
	LandingPath     string        `yaml:"landing_path"`
	Timeout         time.Duration `yaml:"timeout"`
	InsecureCookies bool          `yaml:"insecure_cookies,omitempty"`
	TrialUsageLimit int64         `yaml:"trial_usage_limit"`
}

// WebhooksConfig defines webhook verification settings.
type WebhooksConfig struct {
	// Secret defaults to platform.client_secret.
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	TopicHeader     string `yaml:"topic_header"`
	TenantHeader    string `yaml:"tenant_header"`
	EventIDHeader   string `yaml:"event_id_header"`
	MaxBodySize     string `yaml:"max_body_size"`
}

// ProviderConfig points at the voice assistant provider.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProvisioningConfig tunes the provisioning orchestrator.
type ProvisioningConfig struct {
	AreaCodes           []string      `yaml:"area_codes"`
	ContextLimit        int           `yaml:"context_limit"`
	MaxAttempts         int           `yaml:"max_attempts"`
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	CompensationTimeout time.Duration `yaml:"compensation_timeout"`
	RunTimeout          time.Duration `yaml:"run_timeout"`
}

// BridgeConfig secures the function-call bridge.
type BridgeConfig struct {
	// Secret is given to the provider at provisioning time and must be
	// presented on every function call.
	Secret      string `yaml:"secret"`
	SearchLimit int    `yaml:"search_limit"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "storegate",
			Listen:          "127.0.0.1:8080",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "./data/storegate.db",
		},
		Platform: PlatformConfig{
			Scopes:          []string{"read_products", "read_orders"},
			APIVersion:      "2025-01",
			DomainSuffix:    ".myshop.com",
			LandingPath:     "/app",
			Timeout:         10 * time.Second,
			TrialUsageLimit: 100,
		},
		Webhooks: WebhooksConfig{
			SignatureHeader: "X-Signature",
			TopicHeader:     "X-Topic",
			TenantHeader:    "X-Shop-Domain",
			EventIDHeader:   "X-Event-Id",
			MaxBodySize:     "1MB",
		},
		Provider: ProviderConfig{
			Timeout: 15 * time.Second,
		},
		Provisioning: ProvisioningConfig{
			AreaCodes:           []string{"415", "646", "312", "737"},
			ContextLimit:        20,
			MaxAttempts:         3,
			BaseDelay:           500 * time.Millisecond,
			MaxDelay:            5 * time.Second,
			CompensationTimeout: 15 * time.Second,
			RunTimeout:          2 * time.Minute,
		},
		Bridge: BridgeConfig{
			SearchLimit: 5,
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1,
		},
	}
}
