// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Content  ContentConfig  `mapstructure:"content"`
	Convert  ConvertConfig  `mapstructure:"convert"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Geocoder GeocoderConfig `mapstructure:"geocoder"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StoreConfig selects and configures the entity store backend.
type StoreConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// QueueConfig selects and configures the task queue backend.
type QueueConfig struct {
	Provider     string `mapstructure:"provider"`
	Depth        int    `mapstructure:"depth"`
	ProjectID    string `mapstructure:"project_id"`
	TopicID      string `mapstructure:"topic_id"`
	Subscription string `mapstructure:"subscription"`
}

// ContentConfig sets where fetched documents and derived artifacts live.
type ContentConfig struct {
	Root           string `mapstructure:"root"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ConvertConfig names the external conversion tools and their options.
// The binaries are version-pinned outside this service; only their names
// and invocation options are configurable here.
type ConvertConfig struct {
	Pdftotext         string `mapstructure:"pdftotext"`
	Pdfimages         string `mapstructure:"pdfimages"`
	Pdftoppm          string `mapstructure:"pdftoppm"`
	TextEncoding      string `mapstructure:"text_encoding"`
	ThumbnailScaleTo  int    `mapstructure:"thumbnail_scale_to"`
	ImageThumbnailDim int    `mapstructure:"image_thumbnail_dim"`
	MinImageWidth     int    `mapstructure:"min_image_width"`
	MinImageHeight    int    `mapstructure:"min_image_height"`
}

// PipelineConfig governs worker pool and retry behavior.
type PipelineConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// GeocoderConfig selects the geocoding provider and its credentials.
type GeocoderConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Region       string `mapstructure:"region"`
	Bounds       string `mapstructure:"bounds"`
}

// IngestConfig configures the record source and upsert behavior.
type IngestConfig struct {
	RecordURL      string `mapstructure:"record_url"`
	SourceURL      string `mapstructure:"source_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScheduleConfig holds the cron expressions for the recurring jobs.
type ScheduleConfig struct {
	Scrape  string `mapstructure:"scrape"`
	Recover string `mapstructure:"recover"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERMITPIPE")
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
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.ensure_schema", true)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("content.root", "data/content")
	v.SetDefault("content.timeout_seconds", 60)
	v.SetDefault("convert.pdftotext", "pdftotext")
	v.SetDefault("convert.pdfimages", "pdfimages")
	v.SetDefault("convert.pdftoppm", "pdftoppm")
	// The upstream's PDFs mostly declare no encoding; ISO-8859-9 is the
	// guess that has worked so far.
	v.SetDefault("convert.text_encoding", "ISO-8859-9")
	v.SetDefault("convert.thumbnail_scale_to", 200)
	v.SetDefault("convert.image_thumbnail_dim", 300)
	v.SetDefault("convert.min_image_width", 130)
	v.SetDefault("convert.min_image_height", 110)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("geocoder.provider", "arcgis")
	v.SetDefault("ingest.source_url",
		"http://www.somervillema.gov/departments/planning-board/reports-and-decisions")
	v.SetDefault("ingest.timeout_seconds", 30)
	v.SetDefault("schedule.scrape", "0 */6 * * *")
	v.SetDefault("schedule.recover", "30 2 * * *")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.max_attempts must be > 0")
	}
	if c.Content.Root == "" {
		return fmt.Errorf("content.root is required")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store provider %q", c.Store.Provider)
	}
	switch c.Queue.Provider {
	case "memory":
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicID == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic_id and queue.subscription are required when queue.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown queue provider %q", c.Queue.Provider)
	}
	switch c.Geocoder.Provider {
	case "google":
		if c.Geocoder.APIKey == "" {
			return fmt.Errorf("geocoder.api_key is required when geocoder.provider is google")
		}
	case "arcgis":
	default:
		return fmt.Errorf("unknown geocoder provider %q", c.Geocoder.Provider)
	}
	return nil
}
