package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/mattjoyce/storegate/internal/storage"
)

var areaCodePattern = regexp.MustCompile(`^[2-9][0-9]{2}$`)

func validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		add("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		add("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.PublicURL != "" {
		if u, err := url.Parse(cfg.Service.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("service.public_url must be an absolute URL (got %q)", cfg.Service.PublicURL)
		}
	}

	for _, s := range []struct{ field, driver string }{
		{"store.driver", cfg.Store.Driver},
		{"store.fallback_driver", cfg.Store.FallbackDriver},
	} {
		if s.driver != "" && s.driver != "sqlite" && s.driver != "pgx" {
			add("%s must be sqlite or pgx (got %q)", s.field, s.driver)
		}
	}

	unresolved := envVarPattern.MatchString(cfg.Store.DSN) || envVarPattern.MatchString(cfg.Store.FallbackDSN)
	if cfg.Store.FallbackDSN != "" && !unresolved {
		switch {
		case cfg.Store.Driver != storage.DriverPostgres || cfg.Store.FallbackDriver != storage.DriverPostgres:
			add("store.fallback_dsn requires store.driver and store.fallback_driver to be pgx")
		default:
			if err := storage.SameDatabase(cfg.Store.DSN, cfg.Store.FallbackDSN); err != nil {
				add("store.fallback_dsn must address the primary database: %v", err)
			}
		}
	}

	required := []struct{ field, value string }{
		{"platform.client_id", cfg.Platform.ClientID},
		{"platform.client_secret", cfg.Platform.ClientSecret},
		{"platform.redirect_uri", cfg.Platform.RedirectURI},
		{"webhooks.secret", cfg.Webhooks.Secret},
		{"provider.base_url", cfg.Provider.BaseURL},
		{"provider.api_key", cfg.Provider.APIKey},
		{"bridge.secret", cfg.Bridge.Secret},
	}
	for _, r := range required {
		if err := checkValue(r.field, r.value, true); err != nil {
			errs = append(errs, err)
		}
	}
	for _, o := range []struct{ field, value string }{
		{"store.dsn", cfg.Store.DSN},
		{"store.fallback_dsn", cfg.Store.FallbackDSN},
		{"telemetry.endpoint", cfg.Telemetry.Endpoint},
	} {
		if err := checkValue(o.field, o.value, false); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := cfg.Webhooks.MaxBodyBytes(); err != nil {
		add("webhooks.max_body_size: %v", err)
	}

	for i, code := range cfg.Provisioning.AreaCodes {
		if !areaCodePattern.MatchString(code) {
			add("provisioning.area_codes[%d]: %q is not a three digit area code", i, code)
		}
	}
	if cfg.Provisioning.ContextLimit < 1 || cfg.Provisioning.ContextLimit > 20 {
		add("provisioning.context_limit must be between 1 and 20 (got %d)", cfg.Provisioning.ContextLimit)
	}
	if cfg.Provisioning.MaxAttempts < 1 {
		add("provisioning.max_attempts must be at least 1")
	}
	if cfg.Provisioning.MaxDelay < cfg.Provisioning.BaseDelay {
		add("provisioning.max_delay must not be less than base_delay")
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		add("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		add("telemetry.sample_ratio must be within [0, 1]")
	}

	return errors.Join(errs...)
}

// checkValue reports a missing required value or an unresolved ${VAR}.
// Values are never echoed since most of them are secrets.
func checkValue(field, value string, required bool) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	if required && value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}
