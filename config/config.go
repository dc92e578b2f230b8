// Package config loads and validates the engine's startup configuration.
// The resulting Config is immutable: it is validated once and never mutated
// afterwards.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axobase/agentpay/evm"
)

// Provider kinds.
const (
	KindNative = "native" // speaks the 402 challenge protocol
	KindLegacy = "legacy" // flat API key, cost estimated from token count
)

// ProviderConfig describes one inference provider.
type ProviderConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`

	// PricePer1KTokens is the legacy provider's price per 1000 tokens in
	// minor units. Ignored for native providers, which quote via 402.
	PricePer1KTokens string `yaml:"pricePer1kTokens,omitempty"`

	// APIKeyEnv names the environment variable holding the legacy
	// provider's credential. The key itself never appears in config files.
	APIKeyEnv string `yaml:"apiKeyEnv,omitempty"`
}

// AgentConfig identifies the paying agent.
type AgentConfig struct {
	Network         string `yaml:"network"`
	TokenContract   string `yaml:"tokenContract"`
	RPCURL          string `yaml:"rpcUrl"`
	ValidForSeconds int64  `yaml:"validForSeconds"`
}

// FacilitatorConfig locates the settlement facilitator.
type FacilitatorConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// ThresholdConfig holds the balance alert thresholds in minor units.
type ThresholdConfig struct {
	Low      string `yaml:"low"`
	Critical string `yaml:"critical"`
}

// MonitorConfig controls the balance refresh loop.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Config is the full engine configuration.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Facilitator FacilitatorConfig `yaml:"facilitator"`
	Thresholds  ThresholdConfig   `yaml:"thresholds"`
	Monitor     MonitorConfig     `yaml:"monitor"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Agent.ValidForSeconds == 0 {
		c.Agent.ValidForSeconds = 60
	}
	if c.Agent.TokenContract == "" {
		if network, err := evm.GetNetworkConfig(c.Agent.Network); err == nil {
			c.Agent.TokenContract = network.DefaultAsset.Address
		}
	}
	if c.Facilitator.RequestTimeout == 0 {
		c.Facilitator.RequestTimeout = 30 * time.Second
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 60 * time.Second
	}
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	if c.Agent.Network == "" {
		return fmt.Errorf("agent.network is required")
	}
	if !evm.IsValidNetwork(c.Agent.Network) {
		return fmt.Errorf("agent.network: unsupported network %q", c.Agent.Network)
	}
	if c.Agent.TokenContract == "" {
		return fmt.Errorf("agent.tokenContract is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		if p.URL == "" {
			return fmt.Errorf("provider %q: url is required", p.Name)
		}
		switch p.Kind {
		case KindNative:
		case KindLegacy:
			if _, ok := new(big.Int).SetString(p.PricePer1KTokens, 10); !ok {
				return fmt.Errorf("provider %q: pricePer1kTokens must be a minor-unit integer", p.Name)
			}
			if p.APIKeyEnv == "" {
				return fmt.Errorf("provider %q: apiKeyEnv is required for legacy providers", p.Name)
			}
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	for _, field := range []struct{ name, v string }{
		{"thresholds.low", c.Thresholds.Low},
		{"thresholds.critical", c.Thresholds.Critical},
	} {
		if field.v == "" {
			continue
		}
		if _, ok := new(big.Int).SetString(field.v, 10); !ok {
			return fmt.Errorf("%s must be a minor-unit integer", field.name)
		}
	}
	return nil
}
