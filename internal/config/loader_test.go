package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
service:
  public_url: https://gate.example.com/
platform:
  client_id: cid
  client_secret: ${TEST_CLIENT_SECRET}
provider:
  base_url: https://voice.example.com
  api_key: vk
bridge:
  secret: bridge-secret
`

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: minimalYAML,
			env:  map[string]string{"TEST_CLIENT_SECRET": "csecret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Platform.ClientSecret != "csecret" {
					t.Error("client_secret not interpolated")
				}
				if cfg.Webhooks.Secret != "csecret" {
					t.Error("webhooks.secret should default to client_secret")
				}
				if cfg.Platform.RedirectURI != "https://gate.example.com/auth/callback" {
					t.Errorf("redirect_uri = %q", cfg.Platform.RedirectURI)
				}
				if cfg.FunctionBaseURL() != "https://gate.example.com/functions" {
					t.Errorf("function base url = %q", cfg.FunctionBaseURL())
				}
				if cfg.Store.Driver != "sqlite" || cfg.Store.DSN == "" {
					t.Error("store defaults not applied")
				}
				if cfg.Provisioning.RunTimeout != 2*time.Minute {
					t.Errorf("run_timeout = %s", cfg.Provisioning.RunTimeout)
				}
				if cfg.Provisioning.MaxAttempts != 3 || cfg.Provisioning.BaseDelay != 500*time.Millisecond {
					t.Error("provisioning defaults not applied")
				}
				n, err := cfg.Webhooks.MaxBodyBytes()
				if err != nil || n != 1<<20 {
					t.Errorf("max body = %d, %v", n, err)
				}
			},
		},
		{
			name: "explicit values win",
			yaml: minimalYAML + `
webhooks:
  secret: hook-secret
  max_body_size: 64KB
store:
  driver: pgx
  dsn: postgres://gate@db/gate
  fallback_dsn: postgres://gate_tenants@db/gate
provisioning:
  area_codes: ["212", "718"]
  base_delay: 1s
  max_delay: 4s
`,
			env: map[string]string{"TEST_CLIENT_SECRET": "csecret"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "hook-secret", cfg.Webhooks.Secret)
				assert.Equal(t, "pgx", cfg.Store.Driver)
				assert.Equal(t, "pgx", cfg.Store.FallbackDriver)
				assert.Equal(t, []string{"212", "718"}, cfg.Provisioning.AreaCodes)
				assert.Equal(t, time.Second, cfg.Provisioning.BaseDelay)
				n, err := cfg.Webhooks.MaxBodyBytes()
				require.NoError(t, err)
				assert.Equal(t, int64(64<<10), n)
			},
		},
		{
			name: "sqlite fallback rejected",
			yaml: minimalYAML + `
store:
  fallback_dsn: ./data/fallback.db
`,
			env:     map[string]string{"TEST_CLIENT_SECRET": "csecret"},
			wantErr: "store.fallback_dsn requires store.driver and store.fallback_driver to be pgx",
		},
		{
			name: "fallback on another database rejected",
			yaml: minimalYAML + `
store:
  driver: pgx
  dsn: postgres://gate@db/gate
  fallback_dsn: postgres://gate@db/gate_shadow
`,
			env:     map[string]string{"TEST_CLIENT_SECRET": "csecret"},
			wantErr: "store.fallback_dsn must address the primary database",
		},
		{
			name:    "unresolved secret",
			yaml:    minimalYAML,
			wantErr: "platform.client_secret: environment variable ${TEST_CLIENT_SECRET} is not set",
		},
		{
			name:    "malformed yaml",
			yaml:    "service: [",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, cfg.SourceFile)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestValidationCollectsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
service:
  log_level: loud
provisioning:
  area_codes: ["12a"]
  context_limit: 50
telemetry:
  enabled: true
`))
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"service.log_level",
		"platform.client_id is required",
		"bridge.secret is required",
		`provisioning.area_codes[0]: "12a"`,
		"provisioning.context_limit",
		"telemetry.endpoint is required",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestLoadDirectory(t *testing.T) {
	t.Setenv("TEST_CLIENT_SECRET", "csecret")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(minimalYAML), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.SourceFile)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestDiscoverPrefersEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))
	t.Setenv(EnvConfigPath, path)

	got, err := Discover()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1048576", 1048576, false},
		{"512KB", 512 << 10, false},
		{"1mb", 1 << 20, false},
		{" 2 MB ", 2 << 20, false},
		{"1GB", 1 << 30, false},
		{"", 0, true},
		{"0", 0, true},
		{"-1KB", 0, true},
		{"lots", 0, true},
		{strings.Repeat("9", 18) + "GB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
