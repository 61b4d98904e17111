package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  mode: jwt
  jwt_secret: secret
  issuer: ci
tasks:
  concurrency: 6
  queue_depth: 128
  job_timeout_seconds: 45
archive:
  max_upload_bytes: 1024
  installed_themes: ["classic", "dialect"]
storage:
  records: postgres
  backend: gcs
  gcs_bucket: bucket
db:
  dsn: postgres://localhost/sitetemplates
logging:
  development: false
export_parameters:
  DELETE_PORTLET_DATA: "true"
seed:
  users:
    - id: 20156
      company_id: 1
      locale: en-US
      time_zone: UTC
  templates:
    - id: 30101
      company_id: 1
      group_id: 40101
      name:
        en-US: Blog
  layouts:
    - group_id: 40101
      private_layout: true
      layout_id: 1
      friendly_url: /home
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.Mode != "jwt" || cfg.Auth.JWTSecret != "secret" || cfg.Auth.Issuer != "ci" {
		t.Fatalf("expected jwt auth overrides: %+v", cfg.Auth)
	}
	if cfg.Tasks.Concurrency != 6 || cfg.Tasks.QueueDepth != 128 {
		t.Fatalf("expected task overrides to apply: %+v", cfg.Tasks)
	}
	if got := cfg.JobTimeout(); got != 45*time.Second {
		t.Fatalf("expected job timeout 45s, got %v", got)
	}
	if len(cfg.Archive.InstalledThemes) != 2 || cfg.Archive.MaxUploadBytes != 1024 {
		t.Fatalf("expected archive overrides: %+v", cfg.Archive)
	}
	// Viper lowercases map keys.
	if cfg.Export["delete_portlet_data"] != "true" {
		t.Fatalf("expected export parameter override: %+v", cfg.Export)
	}
	if len(cfg.Seed.Users) != 1 || cfg.Seed.Users[0].ID != 20156 || cfg.Seed.Users[0].Locale != "en-US" {
		t.Fatalf("expected seeded user: %+v", cfg.Seed.Users)
	}
	tmpl := cfg.Seed.Templates[0].Template()
	if tmpl.GroupID != 40101 || !tmpl.Active || len(tmpl.Name) != 1 {
		t.Fatalf("unexpected seeded template: %+v", tmpl)
	}
	if l := cfg.Seed.Layouts[0].Layout(); !l.PrivateLayout || l.FriendlyURL != "/home" {
		t.Fatalf("unexpected seeded layout: %+v", l)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  mode: header\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Mode != "header" || cfg.Auth.Header != "X-User-Id" {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.Locale.Default != "en-US" || cfg.Storage.Backend != "memory" || cfg.Storage.Records != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Archive.MaxEntryBytes != 16<<20 || cfg.Archive.MaxExpandedBytes != 512<<20 {
		t.Fatalf("unexpected archive limits: %+v", cfg.Archive)
	}
	if cfg.RateLimitMaxWait() != 5*time.Second {
		t.Fatalf("unexpected rate limit wait %v", cfg.RateLimitMaxWait())
	}
}

func TestLoadDefaults_RequireAuthChoice(t *testing.T) {
	t.Parallel()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Fatalf("expected default jwt mode to require a secret, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Auth:    AuthConfig{Mode: "header"},
		Tasks:   TasksConfig{Concurrency: 1, QueueDepth: 1},
		Archive: ArchiveConfig{MaxUploadBytes: 1},
		Storage: StorageConfig{Backend: "memory", Records: "memory"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Tasks.Concurrency = 0 }, "tasks.concurrency"},
		{"invalid queue depth", func(c *Config) { c.Tasks.QueueDepth = 0 }, "tasks.queue_depth"},
		{"invalid upload cap", func(c *Config) { c.Archive.MaxUploadBytes = 0 }, "archive.max_upload_bytes"},
		{"negative entry cap", func(c *Config) { c.Archive.MaxEntryBytes = -1 }, "archive.max_entry_bytes"},
		{"jwt without secret", func(c *Config) { c.Auth.Mode = "jwt" }, "auth.jwt_secret"},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "basic" }, "auth.mode"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.gcs_bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Records = "postgres" }, "db.dsn"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SITETEMPLATE_CI_AUTH_MODE", "header")
	t.Setenv("SITETEMPLATE_CI_SERVER_PORT", "7070")
	t.Setenv("SITETEMPLATE_CI_TASKS_CONCURRENCY", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Tasks.Concurrency != 9 {
		t.Fatalf("expected env overrides, got port=%d concurrency=%d", cfg.Server.Port, cfg.Tasks.Concurrency)
	}
}
