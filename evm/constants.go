package evm

import (
	"fmt"
	"math/big"
)

// Default token decimals for USDC.
const DefaultDecimals = 6

// AssetInfo describes an ERC-20 token usable for payments.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig contains per-network configuration.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

var (
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)
)

// NetworkConfigs maps the network ids the engine accepts in challenges to
// their chain parameters.
var NetworkConfigs = map[string]NetworkConfig{
	"base": {
		ChainID: ChainIDBase,
		DefaultAsset: AssetInfo{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: DefaultDecimals,
		},
	},
	"base-sepolia": {
		ChainID: ChainIDBaseSepolia,
		DefaultAsset: AssetInfo{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:     "USDC",
			Version:  "2",
			Decimals: DefaultDecimals,
		},
	},
}

// IsValidNetwork reports whether the engine knows the network id.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig returns the configuration for a network id.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return &config, nil
}
