package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL   = "https://router.huggingface.co/v1"
	DefaultModel     = "openai/gpt-oss-120b:fireworks-ai"
	DefaultTimeout   = 300 * time.Second
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8000
	DefaultAPIPrefix = "/v1"
	logFormatText    = "text"
	logFormatJSON    = "json"
)

// Config is the immutable application configuration. It is built once at
// startup and passed by value.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Models   ModelsConfig   `yaml:"models"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	APIPrefix   string   `yaml:"api_prefix"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// UpstreamConfig describes the provider endpoint.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	Headers Headers       `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with each upstream request.
type Headers map[string]string

// ModelsConfig controls model id resolution.
type ModelsConfig struct {
	Default          string            `yaml:"default"`
	Aliases          map[string]string `yaml:"aliases"`
	ReasoningMarkers []string          `yaml:"reasoning_markers"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        DefaultHost,
			Port:        DefaultPort,
			APIPrefix:   DefaultAPIPrefix,
			CORSOrigins: []string{"*"},
		},
		Upstream: UpstreamConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultTimeout,
		},
		Models: ModelsConfig{
			Default:          DefaultModel,
			ReasoningMarkers: []string{"deepseek", "think"},
		},
		Logging: LoggingConfig{
			Format: logFormatText,
		},
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result. An empty path uses defaults plus environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	cfg.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Upstream.BaseURL), "/")
	if prefix := strings.Trim(strings.TrimSpace(cfg.Server.APIPrefix), "/"); prefix != "" {
		cfg.Server.APIPrefix = "/" + prefix
	} else {
		cfg.Server.APIPrefix = ""
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("HF_TOKEN", &c.Upstream.Token)
	str("HF_BASE_URL", &c.Upstream.BaseURL)
	str("DEFAULT_MODEL", &c.Models.Default)
	str("HOST", &c.Server.Host)
	str("API_PREFIX", &c.Server.APIPrefix)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_FILE", &c.Logging.File)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PORT must be an integer: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("REQUEST_TIMEOUT"); ok && v != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("REQUEST_TIMEOUT must be a number of seconds: %w", err)
		}
		c.Upstream.Timeout = time.Duration(secs) * time.Second
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.CORSOrigins = origins
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		c.Logging.Debug = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return errors.New("upstream.base_url must be provided")
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream.base_url %q must be an http(s) URL", c.Upstream.BaseURL)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive, got %s", c.Upstream.Timeout)
	}
	if strings.TrimSpace(c.Models.Default) == "" {
		return errors.New("models.default must be provided")
	}

	for headerKey := range c.Upstream.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("upstream: header %q is not a valid canonical HTTP header", headerKey)
		}
		if strings.EqualFold(headerKey, "Authorization") {
			return errors.New("upstream: Authorization header must be configured through upstream.token")
		}
	}

	for alias, target := range c.Models.Aliases {
		if strings.TrimSpace(alias) == "" {
			return errors.New("models: alias name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("models: alias %q target must not be empty", alias)
		}
	}

	switch c.Logging.Format {
	case logFormatText, logFormatJSON:
	default:
		return fmt.Errorf("logging.format %q must be one of %q or %q", c.Logging.Format, logFormatText, logFormatJSON)
	}

	return nil
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
