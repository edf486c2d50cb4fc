// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon-level settings file: listener addresses,
// logging, the workflow config location, and reactor definitions. This is
// distinct from the workflow configuration grammar (pkg/config), which
// describes the media pipelines themselves.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("durations must be strings like '30s': %w", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default values for daemon settings.
const (
	DefaultHTTPAddress  = "127.0.0.1:9011"
	DefaultWorkflowFile = "mmids.config"
)

// Config is the daemon configuration.
type Config struct {
	// HTTP configures the admin API listener.
	HTTP HTTPConfig `yaml:"http"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// WorkflowFile is the path of the workflow configuration file.
	WorkflowFile string `yaml:"workflow_file"`

	// WatchWorkflowFile enables hot reload of the workflow file.
	WatchWorkflowFile bool `yaml:"watch_workflow_file"`

	// Reactors defines the reactors to start.
	Reactors []ReactorConfig `yaml:"reactors"`
}

// HTTPConfig configures the admin API listener.
type HTTPConfig struct {
	// Address is the host:port to bind.
	Address string `yaml:"address"`

	// Enabled turns the admin API on. Default: true.
	Enabled *bool `yaml:"enabled"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReactorConfig defines one reactor.
type ReactorConfig struct {
	// Name identifies the reactor.
	Name string `yaml:"name"`

	// Executor selects the lookup strategy. Currently "http".
	Executor string `yaml:"executor"`

	// URL is the lookup endpoint for the http executor.
	URL string `yaml:"url"`

	// UpdateInterval is how often cached lookups are refreshed.
	// Zero disables re-polling.
	UpdateInterval Duration `yaml:"update_interval"`
}

// Default returns a Config with default values.
func Default() *Config {
	enabled := true
	return &Config{
		HTTP: HTTPConfig{
			Address: DefaultHTTPAddress,
			Enabled: &enabled,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		WorkflowFile:      DefaultWorkflowFile,
		WatchWorkflowFile: true,
	}
}

// Load reads the daemon configuration from the given path. An empty path
// returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.WorkflowFile == "" {
		return fmt.Errorf("workflow_file must not be empty")
	}

	seen := make(map[string]bool)
	for i, reactor := range c.Reactors {
		if reactor.Name == "" {
			return fmt.Errorf("reactor %d has no name", i)
		}
		if seen[reactor.Name] {
			return fmt.Errorf("duplicate reactor name '%s'", reactor.Name)
		}
		seen[reactor.Name] = true

		switch reactor.Executor {
		case "http":
			if reactor.URL == "" {
				return fmt.Errorf("reactor '%s' uses the http executor but has no url", reactor.Name)
			}
		default:
			return fmt.Errorf("reactor '%s' has unknown executor '%s'", reactor.Name, reactor.Executor)
		}

		if reactor.UpdateInterval < 0 {
			return fmt.Errorf("reactor '%s' has a negative update_interval", reactor.Name)
		}
	}

	return nil
}

// HTTPEnabled reports whether the admin API should be served.
func (c *Config) HTTPEnabled() bool {
	return c.HTTP.Enabled == nil || *c.HTTP.Enabled
}
