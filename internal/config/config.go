// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Locale    LocaleConfig      `mapstructure:"locale"`
	Tasks     TasksConfig       `mapstructure:"tasks"`
	Archive   ArchiveConfig     `mapstructure:"archive"`
	Storage   StorageConfig     `mapstructure:"storage"`
	DB        DBConfig          `mapstructure:"db"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	RateLimit RateLimitConfig   `mapstructure:"ratelimit"`
	Telemetry TelemetryConfig   `mapstructure:"telemetry"`
	Export    map[string]string `mapstructure:"export_parameters"`
	Import    map[string]string `mapstructure:"import_parameters"`
	Seed      SeedConfig        `mapstructure:"seed"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ReadHeaderTimeoutSec   int `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Mode      string `mapstructure:"mode"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Header    string `mapstructure:"header"`
}

// LocaleConfig sets the platform default locale.
type LocaleConfig struct {
	Default string `mapstructure:"default"`
}

// TasksConfig governs the background task runner.
type TasksConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// ArchiveConfig controls archive uploads and placement.
type ArchiveConfig struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// MaxEntryBytes and MaxExpandedBytes cap decompressed archive content.
	MaxEntryBytes    int64    `mapstructure:"max_entry_bytes"`
	MaxExpandedBytes int64    `mapstructure:"max_expanded_bytes"`
	ExportPrefix     string   `mapstructure:"export_prefix"`
	UploadPrefix     string   `mapstructure:"upload_prefix"`
	InstalledThemes  []string `mapstructure:"installed_themes"`
}

// StorageConfig selects the blob backend and where configuration and task records live.
type StorageConfig struct {
	Records   string `mapstructure:"records"`
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeSec int    `mapstructure:"conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for task completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig throttles dispatch endpoints per user.
type RateLimitConfig struct {
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
	MaxWaitSeconds int     `mapstructure:"max_wait_seconds"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SeedConfig preloads the in-memory directory and template stores.
type SeedConfig struct {
	Users     []portal.User  `mapstructure:"users"`
	Templates []SeedTemplate `mapstructure:"templates"`
	Layouts   []SeedLayout   `mapstructure:"layouts"`
}

// SeedTemplate is a site template present at startup.
type SeedTemplate struct {
	ID          int64             `mapstructure:"id"`
	CompanyID   int64             `mapstructure:"company_id"`
	GroupID     int64             `mapstructure:"group_id"`
	Name        map[string]string `mapstructure:"name"`
	Description map[string]string `mapstructure:"description"`
}

// SeedLayout is a layout present at startup.
type SeedLayout struct {
	GroupID        int64             `mapstructure:"group_id"`
	PrivateLayout  bool              `mapstructure:"private_layout"`
	LayoutID       int64             `mapstructure:"layout_id"`
	ParentLayoutID int64             `mapstructure:"parent_layout_id"`
	Name           map[string]string `mapstructure:"name"`
	FriendlyURL    string            `mapstructure:"friendly_url"`
	Type           string            `mapstructure:"type"`
	ThemeID        string            `mapstructure:"theme_id"`
}

// Template converts the seed entry.
func (s SeedTemplate) Template() portal.Template {
	return portal.Template{
		ID:                s.ID,
		CompanyID:         s.CompanyID,
		GroupID:           s.GroupID,
		Name:              s.Name,
		Description:       s.Description,
		Active:            true,
		LayoutsUpdateable: true,
	}
}

// Layout converts the seed entry.
func (s SeedLayout) Layout() portal.Layout {
	return portal.Layout{
		GroupID:        s.GroupID,
		PrivateLayout:  s.PrivateLayout,
		LayoutID:       s.LayoutID,
		ParentLayoutID: s.ParentLayoutID,
		Name:           s.Name,
		FriendlyURL:    s.FriendlyURL,
		Type:           s.Type,
		ThemeID:        s.ThemeID,
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITETEMPLATE_CI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	// Header mode trusts a client-supplied header, so it must be chosen explicitly.
	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.header", "X-User-Id")
	v.SetDefault("locale.default", "en-US")
	v.SetDefault("tasks.concurrency", 2)
	v.SetDefault("tasks.queue_depth", 64)
	v.SetDefault("tasks.job_timeout_seconds", 600)
	v.SetDefault("archive.max_upload_bytes", 256<<20)
	v.SetDefault("archive.max_entry_bytes", 16<<20)
	v.SetDefault("archive.max_expanded_bytes", 512<<20)
	v.SetDefault("archive.export_prefix", "exports")
	v.SetDefault("archive.upload_prefix", "uploads")
	v.SetDefault("archive.installed_themes", []string{"classic"})
	v.SetDefault("storage.records", "memory")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_seconds", 1800)
	v.SetDefault("ratelimit.rps", 2)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("ratelimit.max_wait_seconds", 5)
	v.SetDefault("pubsub.topic_name", "site-template-tasks")
	v.SetDefault("telemetry.service_name", "site-template-ci")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Tasks.Concurrency <= 0 {
		return fmt.Errorf("tasks.concurrency must be > 0")
	}
	if c.Tasks.QueueDepth <= 0 {
		return fmt.Errorf("tasks.queue_depth must be > 0")
	}
	if c.Archive.MaxUploadBytes <= 0 {
		return fmt.Errorf("archive.max_upload_bytes must be > 0")
	}
	if c.Archive.MaxEntryBytes < 0 || c.Archive.MaxExpandedBytes < 0 {
		return fmt.Errorf("archive.max_entry_bytes and archive.max_expanded_bytes must not be negative")
	}
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must be set when auth.mode is jwt")
		}
	case "header":
	default:
		return fmt.Errorf("auth.mode must be jwt or header, got %q", c.Auth.Mode)
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend)
	}
	switch c.Storage.Records {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.records is postgres")
		}
	default:
		return fmt.Errorf("storage.records must be memory or postgres, got %q", c.Storage.Records)
	}
	return nil
}

// JobTimeout is the per-task execution budget.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Tasks.JobTimeoutSeconds) * time.Second
}

// RateLimitMaxWait is how long a dispatch request may queue for a token.
func (c Config) RateLimitMaxWait() time.Duration {
	return time.Duration(c.RateLimit.MaxWaitSeconds) * time.Second
}
