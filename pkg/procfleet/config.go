package procfleet

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/procfleet/procfleet/pkg/restclient"
)

// DefaultTokenEnv is the environment variable consulted for the bearer token
// when the config does not name one.
const DefaultTokenEnv = "PROCFLEET_TOKEN" //nolint:gosec // env var name, not a credential

// Config is the client configuration, typically loaded from YAML.
type Config struct {
	BaseURL          string `yaml:"base_url"`
	TokenEnv         string `yaml:"token_env"`          // Env var holding the bearer token.
	Timeout          string `yaml:"timeout"`            // Per-attempt timeout as a duration string (e.g. "10s").
	MaxRetries       int    `yaml:"max_retries"`        // Retries after the first attempt.
	RetryDelay       string `yaml:"retry_delay"`        // Initial backoff as a duration string (e.g. "1s", "500ms").
	StreamRetryDelay string `yaml:"stream_retry_delay"` // Wait before re-dialing the event stream.
}

// LoadConfig reads a YAML file and returns a Config. Environment variables
// referenced as ${VAR} or $VAR in the YAML are expanded before parsing, so
// deployment-specific values need not be committed in the config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("procfleet: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("procfleet: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("procfleet: config: base_url is required")
	}

	for _, d := range []struct{ name, val string }{
		{"timeout", c.Timeout},
		{"retry_delay", c.RetryDelay},
		{"stream_retry_delay", c.StreamRetryDelay},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("procfleet: config: %s: %w", d.name, err)
		}
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("procfleet: config: max_retries must not be negative")
	}

	return nil
}

// NewClient builds a facade from the configuration, resolving the bearer
// token from the configured environment variable.
func (c Config) NewClient() (*Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	tokenEnv := c.TokenEnv
	if tokenEnv == "" {
		tokenEnv = DefaultTokenEnv
	}

	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("procfleet: config: no token in $%s", tokenEnv)
	}

	rest := restclient.New(c.BaseURL, token)

	if c.Timeout != "" {
		rest.Timeout, _ = time.ParseDuration(c.Timeout)
	}
	if c.RetryDelay != "" {
		rest.RetryDelay, _ = time.ParseDuration(c.RetryDelay)
	}
	if c.MaxRetries > 0 {
		rest.MaxRetries = c.MaxRetries
	}

	client := New(rest)

	if c.StreamRetryDelay != "" {
		client.stream.RetryDelay, _ = time.ParseDuration(c.StreamRetryDelay)
	}

	return client, nil
}
