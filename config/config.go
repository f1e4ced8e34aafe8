package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mateNemeth/kona2.0/pacing"
)

// Config holds the configuration of every pipeline loop.
type Config struct {
	Source      SourceConfig     `yaml:"source"`
	Database    DatabaseConfig   `yaml:"database"`
	Discovery   DiscoveryConfig  `yaml:"discovery"`
	Extraction  ExtractionConfig `yaml:"extraction"`
	Dispatcher  DispatcherConfig `yaml:"dispatcher"`
	Mail        MailConfig       `yaml:"mail"`
	Archive     ArchiveConfig    `yaml:"archive"`
	MetricsAddr string           `yaml:"metrics_addr"`
	Verbose     bool             `yaml:"verbose"`
}

// SourceConfig describes how the listing source is fetched.
type SourceConfig struct {
	BaseURL          string        `yaml:"base_url"`
	ListingPath      string        `yaml:"listing_path"`
	UserAgent        string        `yaml:"user_agent"`
	Timeout          time.Duration `yaml:"timeout"`
	Delay            time.Duration `yaml:"delay"`
	RandomDelay      time.Duration `yaml:"random_delay"`
	RespectRobotsTxt bool          `yaml:"respect_robots_txt"`
}

// DatabaseConfig selects and addresses the store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres or memory
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	// Fixtures seeds subscribers and filters into the memory store.
	Fixtures string `yaml:"fixtures"`
}

// DiscoveryConfig tunes the listing page poller.
type DiscoveryConfig struct {
	Pacing           pacing.Policy `yaml:"pacing"`
	ErrorDelay       time.Duration `yaml:"error_delay"`
	SpeedUpThreshold int           `yaml:"speed_up_threshold"`
	SeenCacheSize    int           `yaml:"seen_cache_size"`
}

// ExtractionConfig tunes the detail page poller.
type ExtractionConfig struct {
	Pacing    pacing.Policy `yaml:"pacing"`
	MaxErrors int           `yaml:"max_errors"`
}

// DispatcherConfig tunes the work queue consumer.
type DispatcherConfig struct {
	Pacing        pacing.Policy `yaml:"pacing"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

// MailConfig configures the SES alert mailer. The mailer is disabled when
// From is empty.
type MailConfig struct {
	Region        string  `yaml:"region"`
	AccessKey     string  `yaml:"access_key"`
	SecretKey     string  `yaml:"secret_key"`
	From          string  `yaml:"from"`
	Bcc           string  `yaml:"bcc"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// ArchiveConfig configures the dispatched-listing archive. An empty File
// disables it.
type ArchiveConfig struct {
	File   string `yaml:"file"`
	Format string `yaml:"format"` // csv or json
}

// DefaultConfig returns the production polling cadence for AutoScout24.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:     "https://www.autoscout24.hu",
			ListingPath: "/lst/?sort=age&desc=1&offer=J%2CU%2CO%2CD&ustate=N%2CU&size=20&page=1&cy=A&atype=C&ac=0&",
			UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
			Timeout:     20 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "kona",
			SSLMode:  "disable",
			MaxConns: 4,
		},
		Discovery: DiscoveryConfig{
			Pacing: pacing.Policy{
				Initial:    150 * time.Second,
				Floor:      30 * time.Second,
				Ceiling:    15 * time.Minute,
				Step:       6 * time.Second,
				Resolution: 6 * time.Second,
			},
			ErrorDelay:       3 * time.Minute,
			SpeedUpThreshold: 5,
			SeenCacheSize:    4096,
		},
		Extraction: ExtractionConfig{
			Pacing: pacing.Policy{
				Initial:    12 * time.Second,
				Floor:      12 * time.Second,
				Ceiling:    150 * time.Second,
				Step:       6 * time.Second,
				Resolution: 6 * time.Second,
			},
			MaxErrors: 5,
		},
		Dispatcher: DispatcherConfig{
			Pacing: pacing.Policy{
				Initial:    2 * time.Second,
				Floor:      2 * time.Second,
				Ceiling:    2 * time.Minute,
				Step:       10 * time.Second,
				Resolution: time.Second,
			},
			NotifyTimeout: 30 * time.Second,
			StaleAfter:    10 * time.Minute,
		},
		Mail: MailConfig{
			Region:        "eu-central-1",
			RatePerSecond: 10,
			Burst:         1,
		},
		Archive: ArchiveConfig{
			Format: "json",
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.Source.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if c.Source.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Source.Delay < 0 || c.Source.RandomDelay < 0 {
		return fmt.Errorf("request delay cannot be negative")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("database host or url is required")
		}
		if c.Database.MaxConns < 0 {
			return fmt.Errorf("database max conns cannot be negative")
		}
	default:
		return fmt.Errorf("database driver must be postgres or memory, got %q", c.Database.Driver)
	}

	if err := c.Discovery.Pacing.Validate(); err != nil {
		return fmt.Errorf("discovery pacing: %w", err)
	}
	if c.Discovery.ErrorDelay <= 0 {
		return fmt.Errorf("discovery error delay must be positive")
	}
	if c.Discovery.SpeedUpThreshold < 0 {
		return fmt.Errorf("discovery speed up threshold cannot be negative")
	}
	if c.Discovery.SeenCacheSize <= 0 {
		return fmt.Errorf("discovery seen cache size must be positive")
	}

	if err := c.Extraction.Pacing.Validate(); err != nil {
		return fmt.Errorf("extraction pacing: %w", err)
	}
	if c.Extraction.MaxErrors <= 0 {
		return fmt.Errorf("extraction max errors must be positive")
	}

	if err := c.Dispatcher.Pacing.Validate(); err != nil {
		return fmt.Errorf("dispatcher pacing: %w", err)
	}
	if c.Dispatcher.NotifyTimeout <= 0 {
		return fmt.Errorf("dispatcher notify timeout must be positive")
	}
	if c.Dispatcher.StaleAfter <= 0 {
		return fmt.Errorf("dispatcher stale after must be positive")
	}

	if c.Mail.From != "" {
		if c.Mail.Region == "" {
			return fmt.Errorf("mail region is required when a sender is set")
		}
		if c.Mail.RatePerSecond <= 0 {
			return fmt.Errorf("mail rate must be positive")
		}
	}

	if c.Archive.File != "" && c.Archive.Format != "csv" && c.Archive.Format != "json" {
		return fmt.Errorf("archive format must be csv or json")
	}

	return nil
}

// DSN returns the Postgres connection string, preferring an explicit URL.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}
	if mode := strings.TrimSpace(d.SSLMode); mode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(mode)
	}
	return u.String()
}
