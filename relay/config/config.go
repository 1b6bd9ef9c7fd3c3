package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

// MinSigningKeyBytes is the shortest signing key Validate accepts.
const MinSigningKeyBytes = 32

var ErrInvalidConfig = errors.New("invalid configuration")

// NgrokConfig configures the optional development tunnel.
type NgrokConfig struct {
	Enabled   bool   `env:"NGROK_ENABLED"`
	AuthToken string `env:"NGROK_AUTHTOKEN"`
	Domain    string `env:"NGROK_DOMAIN"`
}

// Config is the relay runtime configuration.
type Config struct {
	Host            string        `env:"RELAY_HOST"              envDefault:"localhost"`
	Port            int           `env:"RELAY_PORT"              envDefault:"8080"`
	TLSCertFile     string        `env:"RELAY_TLS_CERT_FILE"`
	TLSKeyFile      string        `env:"RELAY_TLS_KEY_FILE"`
	SigningKey      string        `env:"RELAY_SIGNING_KEY"`
	TokenTTL        time.Duration `env:"RELAY_TOKEN_TTL"         envDefault:"10m"`
	RoomNamespace   string        `env:"RELAY_ROOM_NAMESPACE"    envDefault:"*"`
	IdleTimeout     time.Duration `env:"RELAY_IDLE_TIMEOUT"      envDefault:"30s"`
	AuthTimeout     time.Duration `env:"RELAY_AUTH_TIMEOUT"      envDefault:"10s"`
	QueueCapacity   int           `env:"RELAY_QUEUE_CAPACITY"    envDefault:"256"`
	MaxMessageBytes int64         `env:"RELAY_MAX_MESSAGE_BYTES" envDefault:"65536"`
	AllowedOrigins  []string      `env:"RELAY_ALLOWED_ORIGINS"   envSeparator:","`
	LogFormat       string        `env:"RELAY_LOG_FORMAT"        envDefault:"json"`
	Debug           bool          `env:"RELAY_DEBUG"`

	Ngrok NgrokConfig
}

// Load parses the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Addr returns the listener address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TLSEnabled reports whether the listener should serve TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// OriginAllowed reports whether origin may connect or read token responses.
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Port < 1 || c.Port > 65535 {
		add("RELAY_PORT %d out of range", c.Port)
	}

	switch {
	case c.SigningKey == "":
		add("RELAY_SIGNING_KEY is required")
	case len(c.SigningKey) < MinSigningKeyBytes:
		add("RELAY_SIGNING_KEY must be at least %d bytes", MinSigningKeyBytes)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		add("RELAY_TLS_CERT_FILE and RELAY_TLS_KEY_FILE must be set together")
	}
	for _, f := range []string{c.TLSCertFile, c.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			add("TLS file %s: %v", f, err)
		}
	}

	if c.TokenTTL <= 0 {
		add("RELAY_TOKEN_TTL must be positive")
	}
	if c.IdleTimeout <= 0 {
		add("RELAY_IDLE_TIMEOUT must be positive")
	}
	if c.AuthTimeout <= 0 {
		add("RELAY_AUTH_TIMEOUT must be positive")
	}
	if c.QueueCapacity < 1 {
		add("RELAY_QUEUE_CAPACITY must be at least 1")
	}
	if c.MaxMessageBytes < 1 {
		add("RELAY_MAX_MESSAGE_BYTES must be at least 1")
	}
	if err := token.ValidPattern(c.RoomNamespace); err != nil {
		add("RELAY_ROOM_NAMESPACE %q is not a valid pattern", c.RoomNamespace)
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		add("RELAY_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}

	return errors.Join(errs...)
}

// Logger builds the process logger.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if c.Debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
