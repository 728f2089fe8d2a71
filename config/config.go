// Package config loads facilitator configuration from YAML. Secrets are
// referenced as ${ENV_VAR} placeholders and expanded from the process
// environment; a .env file, when present, is loaded first.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/x402labs/facilitator/clients"
	"github.com/x402labs/facilitator/types"
)

var validate = validator.New()

// NetworkConfig is one network's connection material.
type NetworkConfig struct {
	RPCURL string `yaml:"rpcUrl" validate:"required,url"`

	// AuthToken is sent as an API token to backends that want one.
	AuthToken string `yaml:"authToken"`

	// SorobanURL is required for Stellar networks.
	SorobanURL string `yaml:"sorobanUrl" validate:"omitempty,url"`
}

// SignerConfig holds the fee-sponsor key material, one entry per family.
// Families without a key are verify-only.
type SignerConfig struct {
	EVMPrivateKey    string `yaml:"evmPrivateKey"`
	SolanaPrivateKey string `yaml:"solanaPrivateKey"`
	NearAccountID    string `yaml:"nearAccountId"`
	NearSeed         string `yaml:"nearSeed"`
	StellarSeed      string `yaml:"stellarSeed"`
	AlgorandMnemonic string `yaml:"algorandMnemonic"`
	SuiSeed          string `yaml:"suiSeed"`
}

// ComplianceConfig points at the screening lists. Paths are newline-
// delimited address files.
type ComplianceConfig struct {
	SanctionedPath  string        `yaml:"sanctionedPath"`
	BlocklistPath   string        `yaml:"blocklistPath"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`

	// Disabled turns screening off entirely. Deliberate opt-out only.
	Disabled bool `yaml:"disabled"`
}

// Config is the full facilitator configuration.
type Config struct {
	Networks map[string]NetworkConfig `yaml:"networks" validate:"required,min=1"`

	Signers    SignerConfig     `yaml:"signers"`
	Compliance ComplianceConfig `yaml:"compliance"`

	// SettleTimeout bounds a whole settle call.
	SettleTimeout time.Duration `yaml:"settleTimeout"`

	// HoldTimeout bounds a held submission slot.
	HoldTimeout time.Duration `yaml:"holdTimeout"`

	// ConfirmTimeout bounds adapter confirmation waits.
	ConfirmTimeout time.Duration `yaml:"confirmTimeout"`

	// SuiGasCeiling caps sponsored Sui gas, in MIST.
	SuiGasCeiling uint64 `yaml:"suiGasCeiling"`
}

// Load reads and validates the configuration at path. A .env file next to
// the process, if any, populates the environment before ${VAR} expansion.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants beyond what the YAML shape gives.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, nc := range c.Networks {
		if nc.RPCURL == "" {
			return fmt.Errorf("network %s: rpcUrl is required", name)
		}
	}
	if !c.Compliance.Disabled && (c.Compliance.SanctionedPath == "" || c.Compliance.BlocklistPath == "") {
		return fmt.Errorf("compliance lists are required unless screening is explicitly disabled")
	}
	return nil
}

// Endpoints converts the network map into the client cache's shape.
func (c *Config) Endpoints() clients.Endpoints {
	out := make(clients.Endpoints, len(c.Networks))
	for name, nc := range c.Networks {
		out[types.Network(name)] = clients.Endpoint{
			URL:        nc.RPCURL,
			AuthToken:  nc.AuthToken,
			SorobanURL: nc.SorobanURL,
		}
	}
	return out
}
