// Package config loads server configuration.
//
// PRECEDENCE (lowest to highest):
//  1. Defaults()            sensible local-development values
//  2. YAML file             only when a path is given (--config)
//  3. .env file             loaded into the process environment if present
//  4. environment variables PORT, DB_PATH, ACCESS_TOKEN_SECRET, ...
//
// A .env file never overrides a variable that is already set in the real
// environment, so deployment settings always win over a stray .env.
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

const (
	MediaLocal = "local"
	MediaS3    = "s3"
)

// minSecretLen matches what auth.NewTokenService enforces.
const minSecretLen = 16

type Config struct {
	Port           int      `yaml:"port"`
	DBPath         string   `yaml:"db_path"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	CookieSecure   bool     `yaml:"cookie_secure"`

	Auth  AuthConfig  `yaml:"auth"`
	Media MediaConfig `yaml:"media"`
	Log   LogConfig   `yaml:"log"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"access_token_secret"`
	AccessTTL     time.Duration `yaml:"access_token_expiry"`
	RefreshSecret string        `yaml:"refresh_token_secret"`
	RefreshTTL    time.Duration `yaml:"refresh_token_expiry"`
}

// UnmarshalYAML accepts the expiries in the same forms as the environment
// ("15m", "36h", "10d"). Keys absent from the file keep their current value.
func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		AccessSecret  *string `yaml:"access_token_secret"`
		AccessTTL     *string `yaml:"access_token_expiry"`
		RefreshSecret *string `yaml:"refresh_token_secret"`
		RefreshTTL    *string `yaml:"refresh_token_expiry"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.AccessSecret != nil {
		a.AccessSecret = *raw.AccessSecret
	}
	if raw.RefreshSecret != nil {
		a.RefreshSecret = *raw.RefreshSecret
	}
	for key, field := range map[string]struct {
		src *string
		dst *time.Duration
	}{
		"access_token_expiry":  {raw.AccessTTL, &a.AccessTTL},
		"refresh_token_expiry": {raw.RefreshTTL, &a.RefreshTTL},
	} {
		if field.src == nil {
			continue
		}
		d, err := ParseDuration(*field.src)
		if err != nil {
			return fmt.Errorf("auth.%s: %w", key, err)
		}
		*field.dst = d
	}
	return nil
}

type MediaConfig struct {
	Backend string   `yaml:"backend"` // "local" or "s3"
	Dir     string   `yaml:"dir"`     // local backend: where files are written
	BaseURL string   `yaml:"base_url"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PublicURL string `yaml:"public_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Defaults returns a configuration that runs locally out of the box, except
// for the token secrets, which must always be supplied.
func Defaults() Config {
	return Config{
		Port:           8000,
		DBPath:         "data/videotube.db",
		CORSOrigins:    []string{"http://localhost:4000"},
		MaxUploadBytes: 10 << 20,
		CookieSecure:   true,
		Auth: AuthConfig{
			AccessTTL:  24 * time.Hour,
			RefreshTTL: 10 * 24 * time.Hour,
		},
		Media: MediaConfig{
			Backend: MediaLocal,
			Dir:     "public/temp",
			BaseURL: "http://localhost:8000/static",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays every variable that is set.
func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	str("DB_PATH", &c.DBPath)
	str("ACCESS_TOKEN_SECRET", &c.Auth.AccessSecret)
	str("REFRESH_TOKEN_SECRET", &c.Auth.RefreshSecret)
	str("MEDIA_BACKEND", &c.Media.Backend)
	str("MEDIA_DIR", &c.Media.Dir)
	str("MEDIA_BASE_URL", &c.Media.BaseURL)
	str("S3_BUCKET", &c.Media.S3.Bucket)
	str("S3_REGION", &c.Media.S3.Region)
	str("S3_ENDPOINT", &c.Media.S3.Endpoint)
	str("S3_ACCESS_KEY", &c.Media.S3.AccessKey)
	str("S3_SECRET_KEY", &c.Media.S3.SecretKey)
	str("S3_PUBLIC_URL", &c.Media.S3.PublicURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Port = port
	}

	if v, ok := os.LookupEnv("CORS_ORIGIN"); ok {
		c.CORSOrigins = splitList(v)
	}

	if v, ok := os.LookupEnv("COOKIE_SECURE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: COOKIE_SECURE: %w", err)
		}
		c.CookieSecure = b
	}

	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("config: MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}

	for key, dst := range map[string]*time.Duration{
		"ACCESS_TOKEN_EXPIRY":  &c.Auth.AccessTTL,
		"REFRESH_TOKEN_EXPIRY": &c.Auth.RefreshTTL,
	} {
		if v, ok := os.LookupEnv(key); ok {
			d, err := ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = d
		}
	}

	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if len(c.Auth.AccessSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("access token secret must be at least %d characters", minSecretLen))
	}
	if len(c.Auth.RefreshSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("refresh token secret must be at least %d characters", minSecretLen))
	}
	if c.Auth.AccessTTL <= 0 {
		errs = append(errs, errors.New("access token expiry must be positive"))
	}
	if c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("refresh token expiry must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}

	switch c.Media.Backend {
	case MediaLocal:
		if c.Media.Dir == "" {
			errs = append(errs, errors.New("media dir is required for the local backend"))
		}
	case MediaS3:
		if c.Media.S3.Bucket == "" || c.Media.S3.Region == "" {
			errs = append(errs, errors.New("s3 bucket and region are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown media backend %q", c.Media.Backend))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParseDuration accepts Go durations ("15m", "36h") and whole days ("1d",
// "10d"), the form token expiries are usually written in.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
