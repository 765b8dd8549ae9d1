// Copyright 2026 Blink Labs Software
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

package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/database"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "multisig.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultPollInterval    = "15s"
	DefaultStorageBackend  = database.DefaultBackend
	DefaultVaultPath       = "/vault"
)

var ErrUnknownNetwork = errors.New("unknown network in config")

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// NetworkConfig overrides the built-in definition of a network. Custom
// networks must also set a family.
type NetworkConfig struct {
	Name        string            `yaml:"name,omitempty"`
	Family      network.Family    `yaml:"family,omitempty"`
	Testnet     *bool             `yaml:"testnet,omitempty"`
	RPCEndpoint string            `yaml:"rpcEndpoint,omitempty"`
	ChainID     int64             `yaml:"chainId,omitempty"`
	Currency    *network.Currency `yaml:"currency,omitempty"`
	Options     map[string]string `yaml:"options,omitempty"`
	Disabled    bool              `yaml:"disabled,omitempty"`
}

type Config struct {
	DatabasePath    string                   `yaml:"databasePath"    split_words:"true"`
	StorageBackend  string                   `yaml:"storageBackend"  split_words:"true"`
	BindAddr        string                   `yaml:"bindAddr"        split_words:"true"`
	MetricsPort     uint                     `yaml:"metricsPort"     split_words:"true"`
	VaultPort       uint                     `yaml:"vaultPort"       split_words:"true"`
	VaultToken      string                   `yaml:"vaultToken"      split_words:"true"`
	VaultEndpoint   string                   `yaml:"vaultEndpoint"   split_words:"true"`
	SessionTimeout  string                   `yaml:"sessionTimeout"  split_words:"true"`
	AuditLimit      int                      `yaml:"auditLimit"      split_words:"true"`
	BackupLocation  string                   `yaml:"backupLocation"  split_words:"true"`
	BackupSops      bool                     `yaml:"backupSops"      split_words:"true"`
	PollInterval    string                   `yaml:"pollInterval"    split_words:"true"`
	ShutdownTimeout string                   `yaml:"shutdownTimeout" split_words:"true"`
	TracingEnabled  bool                     `yaml:"tracingEnabled"  split_words:"true"`
	TracingStdout   bool                     `yaml:"tracingStdout"   split_words:"true"`
	Networks        map[string]NetworkConfig `yaml:"networks"        ignored:"true"`
}

func defaultConfig() *Config {
	return &Config{
		DatabasePath:    ".multisig",
		StorageBackend:  DefaultStorageBackend,
		BindAddr:        "127.0.0.1",
		MetricsPort:     12799,
		VaultPort:       8765,
		AuditLimit:      1000,
		PollInterval:    DefaultPollInterval,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

var globalConfig = defaultConfig()

// LoadConfig reads the YAML config file, then applies MULTISIG_*
// environment overrides. Without an explicit path it looks in
// ~/.multisig/multisig.yaml and /etc/multisig/multisig.yaml.
func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".multisig", "multisig.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/multisig/multisig.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("multisig", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	if err := globalConfig.Validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}

// Validate checks durations, the storage backend and network overrides
func (c *Config) Validate() error {
	for name, val := range map[string]string{
		"sessionTimeout":  c.SessionTimeout,
		"pollInterval":    c.PollInterval,
		"shutdownTimeout": c.ShutdownTimeout,
	} {
		if val == "" && name == "sessionTimeout" {
			// security level default
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, val, err)
		}
	}
	if !database.HasBackend(c.StorageBackend) {
		return fmt.Errorf("unknown storage backend: %s", c.StorageBackend)
	}
	_, err := c.NetworkInfos()
	return err
}

// SessionTimeoutDuration returns the parsed session timeout, zero when
// the security level default applies
func (c *Config) SessionTimeoutDuration() time.Duration {
	if c.SessionTimeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.SessionTimeout)
	return d
}

// PollIntervalDuration returns the parsed status polling interval
func (c *Config) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// VaultURL returns the websocket URL of the vault host
func (c *Config) VaultURL() string {
	if c.VaultEndpoint != "" {
		return c.VaultEndpoint
	}
	host := c.BindAddr
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d%s", host, c.VaultPort, DefaultVaultPath)
}

// NetworkInfos returns the built-in networks with config overrides
// applied, minus any that are disabled, sorted by id
func (c *Config) NetworkInfos() ([]network.Info, error) {
	infos := make(map[string]network.Info)
	for _, id := range network.KnownIDs() {
		info, _ := network.Known(id)
		infos[id] = info
	}
	for rawID, override := range c.Networks {
		id := strings.ToLower(rawID)
		info, ok := infos[id]
		if !ok {
			if override.Family == "" {
				return nil, fmt.Errorf("%w: %s has no family", ErrUnknownNetwork, id)
			}
			info = network.Info{ID: id, Name: id}
		}
		if override.Disabled {
			delete(infos, id)
			continue
		}
		info = override.apply(info)
		if err := info.Validate(); err != nil {
			return nil, fmt.Errorf("network %s: %w", id, err)
		}
		infos[id] = info
	}
	ret := make([]network.Info, 0, len(infos))
	for _, id := range slices.Sorted(maps.Keys(infos)) {
		ret = append(ret, infos[id])
	}
	return ret, nil
}

func (n NetworkConfig) apply(info network.Info) network.Info {
	ret := info.Clone()
	if n.Name != "" {
		ret.Name = n.Name
	}
	if n.Family != "" {
		ret.Family = n.Family
	}
	if n.Testnet != nil {
		ret.Testnet = *n.Testnet
	}
	if n.RPCEndpoint != "" {
		ret.RPCEndpoint = n.RPCEndpoint
	}
	if n.ChainID != 0 {
		ret.ChainID = n.ChainID
	}
	if n.Currency != nil {
		ret.Currency = *n.Currency
	}
	for k, v := range n.Options {
		ret = ret.WithOption(k, v)
	}
	return ret
}
