// Package config provides configuration management for the exchange engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the complete engine configuration.
type Config struct {
	// Daemon settings
	HTTPAddr    string `json:"http_addr"`
	Development bool   `json:"development"` // human-readable logs

	// Planner settings
	Planner PlannerSettings `json:"planner"`

	// Fee/support settings
	FeeSupport FeeSupportSettings `json:"fee_support"`

	// Chain settings
	Chains []ChainSettings `json:"chains"`

	// Venue settings
	Venues VenueSettings `json:"venues"`

	// Signer settings
	Signer SignerSettings `json:"signer"`
}

// PlannerSettings tunes route search.
type PlannerSettings struct {
	MaxTopPaths int `json:"max_top_paths"`
	MaxHops     int `json:"max_hops"`
}

// FeeSupportSettings tunes the fee/support provider.
type FeeSupportSettings struct {
	QueriesPerSecond float64 `json:"queries_per_second"`
}

// ChainSettings holds connectivity for one chain.
type ChainSettings struct {
	ID     string `json:"id"`
	RPCURL string `json:"rpc_url"`
	WSURL  string `json:"ws_url,omitempty"`
}

// VenueSettings enumerates the configured venues.
type VenueSettings struct {
	AMMs      []AMMSettings      `json:"amms"`
	AssetHubs []AssetHubSettings `json:"asset_hubs"`
	Transfers TransferSettings   `json:"transfers"`
}

// AMMSettings configures one on-chain AMM venue.
type AMMSettings struct {
	Name     string `json:"name"`
	Chain    string `json:"chain"`
	EdgeCost string `json:"edge_cost"`
}

// AssetHubSettings configures one asset-hub AMM venue.
type AssetHubSettings struct {
	Name     string `json:"name"`
	Chain    string `json:"chain"`
	EdgeCost string `json:"edge_cost"`
}

// TransferSettings configures the cross-chain transfer venue.
type TransferSettings struct {
	Name                string        `json:"name"`
	Links               []LinkSetting `json:"links"`
	DeliveryPollSeconds int           `json:"delivery_poll_seconds"`
	DeliveryTimeoutSecs int           `json:"delivery_timeout_seconds"`
}

// LinkSetting is one cross-chain transfer lane.
type LinkSetting struct {
	FromChain   string `json:"from_chain"`
	FromAsset   string `json:"from_asset"`
	ToChain     string `json:"to_chain"`
	ToAsset     string `json:"to_asset"`
	DeliveryFee string `json:"delivery_fee"`
	EdgeCost    string `json:"edge_cost"`
}

// SignerSettings points at the wallet substrate's signing service.
type SignerSettings struct {
	RPCURL    string            `json:"rpc_url"`
	Addresses map[string]string `json:"addresses"` // chain id -> address
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:    ":8080",
		Development: false,
		Planner: PlannerSettings{
			MaxTopPaths: 4,
			MaxHops:     4,
		},
		FeeSupport: FeeSupportSettings{
			QueriesPerSecond: 10,
		},
		Venues: VenueSettings{
			Transfers: TransferSettings{
				Name:                "xcm",
				DeliveryPollSeconds: 5,
				DeliveryTimeoutSecs: int((10 * time.Minute).Seconds()),
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file, layered over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables, layered
// over the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("EXCHANGE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("EXCHANGE_DEVELOPMENT"); v != "" {
		cfg.Development = v == "1" || v == "true"
	}
	if v := os.Getenv("EXCHANGE_MAX_TOP_PATHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Planner.MaxTopPaths = n
		}
	}
	if v := os.Getenv("EXCHANGE_MAX_HOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Planner.MaxHops = n
		}
	}
	if v := os.Getenv("EXCHANGE_SIGNER_RPC_URL"); v != "" {
		cfg.Signer.RPCURL = v
	}

	return cfg
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.Planner.MaxTopPaths <= 0 {
		return fmt.Errorf("planner.max_top_paths must be positive")
	}
	if c.Planner.MaxHops <= 0 {
		return fmt.Errorf("planner.max_hops must be positive")
	}

	chains := make(map[string]bool, len(c.Chains))
	for i, chain := range c.Chains {
		if chain.ID == "" {
			return fmt.Errorf("chains[%d]: id is required", i)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("chain %s: rpc_url is required", chain.ID)
		}
		if chains[chain.ID] {
			return fmt.Errorf("chain %s: duplicate id", chain.ID)
		}
		chains[chain.ID] = true
	}

	for _, amm := range c.Venues.AMMs {
		if !chains[amm.Chain] {
			return fmt.Errorf("venue %s: unknown chain %s", amm.Name, amm.Chain)
		}
	}
	for _, hub := range c.Venues.AssetHubs {
		if !chains[hub.Chain] {
			return fmt.Errorf("venue %s: unknown chain %s", hub.Name, hub.Chain)
		}
	}
	for i, link := range c.Venues.Transfers.Links {
		if !chains[link.FromChain] {
			return fmt.Errorf("transfer link %d: unknown chain %s", i, link.FromChain)
		}
		if !chains[link.ToChain] {
			return fmt.Errorf("transfer link %d: unknown chain %s", i, link.ToChain)
		}
	}

	return nil
}
