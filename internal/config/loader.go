package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable checked first by Discover.
const EnvConfigPath = "STOREGATE_CONFIG"

// Load reads, interpolates, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourceFile = absPath
	return cfg, nil
}

// Parse builds a validated Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $STOREGATE_CONFIG, ~/.config/storegate/config.yaml,
// /etc/storegate/config.yaml, ./config.yaml.
func Discover() (string, error) {
	candidates := make([]string, 0, 4)
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "storegate", "config.yaml"))
	}
	candidates = append(candidates, "/etc/storegate/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/storegate/config.yaml, /etc/storegate/config.yaml, ./config.yaml)", EnvConfigPath)
}

func applyConfigDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.Listen == "" {
		cfg.Service.Listen = d.Service.Listen
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = d.Service.LogFormat
	}
	if cfg.Service.ShutdownTimeout == 0 {
		cfg.Service.ShutdownTimeout = d.Service.ShutdownTimeout
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = d.Store.DSN
	}
	if cfg.Store.FallbackDSN != "" && cfg.Store.FallbackDriver == "" {
		cfg.Store.FallbackDriver = cfg.Store.Driver
	}

	p := &cfg.Platform
	if len(p.Scopes) == 0 {
		p.Scopes = d.Platform.Scopes
	}
	if p.APIVersion == "" {
		p.APIVersion = d.Platform.APIVersion
	}
	if p.DomainSuffix == "" {
		p.DomainSuffix = d.Platform.DomainSuffix
	}
	if p.LandingPath == "" {
		p.LandingPath = d.Platform.LandingPath
	}
	if p.Timeout == 0 {
		p.Timeout = d.Platform.Timeout
	}
	if p.TrialUsageLimit == 0 {
		p.TrialUsageLimit = d.Platform.TrialUsageLimit
	}
	if p.RedirectURI == "" && cfg.Service.PublicURL != "" {
		p.RedirectURI = strings.TrimRight(cfg.Service.PublicURL, "/") + "/auth/callback"
	}

	w := &cfg.Webhooks
	if w.Secret == "" {
		w.Secret = p.ClientSecret
	}
	if w.SignatureHeader == "" {
		w.SignatureHeader = d.Webhooks.SignatureHeader
	}
	if w.TopicHeader == "" {
		w.TopicHeader = d.Webhooks.TopicHeader
	}
	if w.TenantHeader == "" {
		w.TenantHeader = d.Webhooks.TenantHeader
	}
	if w.EventIDHeader == "" {
		w.EventIDHeader = d.Webhooks.EventIDHeader
	}
	if w.MaxBodySize == "" {
		w.MaxBodySize = d.Webhooks.MaxBodySize
	}

	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = d.Provider.Timeout
	}

	pr := &cfg.Provisioning
	if len(pr.AreaCodes) == 0 {
		pr.AreaCodes = d.Provisioning.AreaCodes
	}
	if pr.ContextLimit == 0 {
		pr.ContextLimit = d.Provisioning.ContextLimit
	}
	if pr.MaxAttempts == 0 {
		pr.MaxAttempts = d.Provisioning.MaxAttempts
	}
	if pr.BaseDelay == 0 {
		pr.BaseDelay = d.Provisioning.BaseDelay
	}
	if pr.MaxDelay == 0 {
		pr.MaxDelay = d.Provisioning.MaxDelay
	}
	if pr.CompensationTimeout == 0 {
		pr.CompensationTimeout = d.Provisioning.CompensationTimeout
	}
	if pr.RunTimeout == 0 {
		pr.RunTimeout = d.Provisioning.RunTimeout
	}

	if cfg.Bridge.SearchLimit == 0 {
		cfg.Bridge.SearchLimit = d.Bridge.SearchLimit
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = d.Telemetry.SampleRatio
	}
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validation reports it if the field is required.
		return match
	})
}

// MaxBodyBytes returns webhooks.max_body_size in bytes.
func (w WebhooksConfig) MaxBodyBytes() (int64, error) {
	return ParseSize(w.MaxBodySize)
}

// FunctionBaseURL is the public bridge URL the tenant id is appended to.
func (c *Config) FunctionBaseURL() string {
	if c.Service.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(c.Service.PublicURL, "/") + "/functions"
}

// ParseSize parses sizes such as "512KB", "1MB" or "1048576".
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	if upper == "" {
		return 0, fmt.Errorf("size is empty")
	}

	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}} {
		if n, ok := strings.CutSuffix(upper, unit.suffix); ok {
			upper, multiplier = n, unit.factor
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
