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

// Package config loads daemon configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Defaults applied when neither file nor environment sets a value.
const (
	DefaultHost   = "0.0.0.0"
	DefaultPort   = 3000
	DefaultDBPath = "maestro.db"
)

// Config is the complete daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Plugins PluginsConfig `yaml:"plugins"`
}

// ServerConfig configures the admission HTTP listener.
type ServerConfig struct {
	// Host is the bind address.
	// Environment: API_HOST
	Host string `yaml:"host"`

	// Port is the listen port.
	// Environment: API_PORT
	Port int `yaml:"port"`

	// Development widens API error bodies with internal detail.
	Development bool `yaml:"development,omitempty"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file path.
	// Environment: DB_PATH
	Path string `yaml:"path"`

	// WAL enables write-ahead logging for concurrent reads.
	WAL bool `yaml:"wal"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`

	// Format is json or text.
	Format string `yaml:"format,omitempty"`
}

// PluginsConfig configures plugin dispatch.
type PluginsConfig struct {
	// Namespace is the default Kubernetes namespace for cluster-local
	// plugin service URLs.
	// Environment: KUBE_NAMESPACE
	Namespace string `yaml:"namespace,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Store:  StoreConfig{Path: DefaultDBPath, WAL: true},
	}
}

// Load reads configuration from path (optional; empty path or a missing
// file yields defaults), applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, &maestroerrors.ConfigError{Key: path, Reason: "unreadable", Cause: err}
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &maestroerrors.ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with the documented environment
// variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("KUBE_NAMESPACE"); v != "" {
		c.Plugins.Namespace = v
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &maestroerrors.ConfigError{
			Key:    "server.port",
			Reason: fmt.Sprintf("port %d out of range", c.Server.Port),
		}
	}
	if c.Store.Path == "" {
		return &maestroerrors.ConfigError{
			Key:    "store.path",
			Reason: "database path is required",
		}
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
