package io

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/slok/ocrtrack/internal/model"
)

// ConfigYAMLRepository loads the client configuration from YAML files.
type ConfigYAMLRepository struct {
	fs fs.FS
}

// NewConfigYAMLRepository creates a new YAML config repository.
func NewConfigYAMLRepository(filesystem fs.FS) *ConfigYAMLRepository {
	return &ConfigYAMLRepository{fs: filesystem}
}

// GetConfig loads the client configuration from a YAML file and returns a validated domain model.
func (r *ConfigYAMLRepository) GetConfig(ctx context.Context, path string) (model.ClientConfig, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.ClientConfig{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return model.ClientConfig{}, ctx.Err()
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.ClientConfig{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return model.ClientConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg.toModel(), nil
}

// ClientConfig represents the YAML structure of the client configuration.
type ClientConfig struct {
	APIURL            string          `yaml:"api_url"`
	WSURL             string          `yaml:"ws_url"`
	Origin            string          `yaml:"origin"`
	Token             string          `yaml:"token"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
	KeepaliveInterval time.Duration   `yaml:"keepalive_interval"`
	Timeout           time.Duration   `yaml:"timeout"`
	MaxFileSizeMB     int             `yaml:"max_file_size_mb"`
	MaxConcurrent     int             `yaml:"max_concurrent"`
}

// ReconnectConfig represents the YAML structure of the progress reconnection.
type ReconnectConfig struct {
	Strategy string        `yaml:"strategy"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Jitter   float64       `yaml:"jitter"`
}

// validate returns all the configuration problems at once.
func (c ClientConfig) validate() error {
	var merr *multierror.Error

	if err := validateURL(c.APIURL, "http", "https"); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("api_url: %w", err))
	}
	if err := validateURL(c.WSURL, "http", "https", "ws", "wss"); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("ws_url: %w", err))
	}
	if c.KeepaliveInterval < 0 {
		merr = multierror.Append(merr, fmt.Errorf("keepalive_interval can't be negative, got: %s", c.KeepaliveInterval))
	}
	if c.Timeout < 0 {
		merr = multierror.Append(merr, fmt.Errorf("timeout can't be negative, got: %s", c.Timeout))
	}
	if c.MaxFileSizeMB < 0 {
		merr = multierror.Append(merr, fmt.Errorf("max_file_size_mb can't be negative, got: %d", c.MaxFileSizeMB))
	}
	if c.MaxConcurrent < 0 {
		merr = multierror.Append(merr, fmt.Errorf("max_concurrent can't be negative, got: %d", c.MaxConcurrent))
	}
	if err := c.Reconnect.validate(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("reconnect: %w", err))
	}

	return merr.ErrorOrNil()
}

func (c ClientConfig) toModel() model.ClientConfig {
	return model.ClientConfig{
		APIURL: c.APIURL,
		WSURL:  c.WSURL,
		Origin: c.Origin,
		Token:  c.Token,
		Reconnect: model.ReconnectConfig{
			Strategy: model.ReconnectStrategy(c.Reconnect.Strategy),
			Delay:    c.Reconnect.Delay,
			MaxDelay: c.Reconnect.MaxDelay,
			Jitter:   c.Reconnect.Jitter,
		},
		KeepaliveInterval: c.KeepaliveInterval,
		Timeout:           c.Timeout,
		MaxFileSizeMB:     c.MaxFileSizeMB,
		MaxConcurrent:     c.MaxConcurrent,
	}
}

func (r ReconnectConfig) validate() error {
	switch model.ReconnectStrategy(r.Strategy) {
	case "", model.ReconnectStrategyFixed, model.ReconnectStrategyExponential:
	default:
		return fmt.Errorf("unknown strategy %q (fixed or exponential)", r.Strategy)
	}
	if r.Delay < 0 {
		return fmt.Errorf("delay can't be negative, got: %s", r.Delay)
	}
	if r.MaxDelay < 0 {
		return fmt.Errorf("max_delay can't be negative, got: %s", r.MaxDelay)
	}
	if r.MaxDelay > 0 && r.MaxDelay < r.Delay {
		return fmt.Errorf("max_delay (%s) can't be lower than delay (%s)", r.MaxDelay, r.Delay)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("jitter must be between 0 and 1, got: %v", r.Jitter)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %v URL", raw, schemes)
}
