package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, an optional YAML file, an
// optional dotenv file and the process environment, in that order.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads envFile into the environment without overriding
// variables that are already set. A missing default ".env" is not an error.
func LoadDotEnv(envFile string) error {
	name := envFile
	if name == "" {
		name = ".env"
	}
	if err := godotenv.Load(name); err != nil {
		if envFile == "" && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", name, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if v, ok := EnvString("SOURCE_BASE_URL"); ok {
		cfg.Source.BaseURL = v
	}
	if v, ok := EnvString("KONA_STORE"); ok {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v, ok := EnvString("DATABASE_URL"); ok {
		cfg.Database.URL = v
	}
	if v, ok := EnvString("DB_HOST"); ok {
		cfg.Database.Host = v
	}
	if v, ok, err := EnvInt("DB_PORT"); err != nil {
		return err
	} else if ok {
		cfg.Database.Port = v
	}
	if v, ok := EnvString("DB_USER"); ok {
		cfg.Database.User = v
	}
	if v, ok := EnvString("DB_PASSWORD"); ok {
		cfg.Database.Password = v
	}
	if v, ok := EnvString("DB_DB"); ok {
		cfg.Database.Name = v
	}
	if v, ok := EnvString("DB_SSLMODE"); ok {
		cfg.Database.SSLMode = v
	}
	if v, ok := EnvString("KONA_FIXTURES"); ok {
		cfg.Database.Fixtures = v
	}

	if v, ok := EnvString("AMAZON_REGION"); ok {
		cfg.Mail.Region = v
	}
	if v, ok := EnvString("AMAZON_ACCESS_KEY"); ok {
		cfg.Mail.AccessKey = v
	}
	if v, ok := EnvString("AMAZON_SECRET_KEY"); ok {
		cfg.Mail.SecretKey = v
	}
	if v, ok := EnvString("FROM_EMAIL"); ok {
		cfg.Mail.From = v
	}
	if v, ok := EnvString("BCC_EMAIL"); ok {
		cfg.Mail.Bcc = v
	}

	if v, ok := EnvString("ARCHIVE_FILE"); ok {
		cfg.Archive.File = v
	}
	if v, ok := EnvString("ARCHIVE_FORMAT"); ok {
		cfg.Archive.Format = strings.ToLower(v)
	}
	if v, ok := EnvString("METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok, err := EnvDuration("DISCOVERY_ERROR_DELAY"); err != nil {
		return err
	} else if ok {
		cfg.Discovery.ErrorDelay = v
	}
	if v, ok, err := EnvInt("EXTRACTION_MAX_ERRORS"); err != nil {
		return err
	} else if ok {
		cfg.Extraction.MaxErrors = v
	}
	if v, ok, err := EnvBool("KONA_VERBOSE"); err != nil {
		return err
	} else if ok {
		cfg.Verbose = v
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, true, nil
}

// EnvDuration parses key as a Go duration such as "90s".
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, true, nil
}
