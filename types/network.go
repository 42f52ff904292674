package types

// NetworkConfig is the immutable per-network configuration injected into the
// client. It replaces scattered chain/asset literals with one struct, so a
// mock network for tests is just another config value.
type NetworkConfig struct {
	// Network is the x402 network identifier, e.g. "base".
	Network string

	// ChainID is the EVM chain id used in the EIP-712 domain.
	ChainID int64

	// USDCAddress is the EIP-3009 capable stablecoin contract address.
	USDCAddress string

	// EIP3009Name and EIP3009Version are the token's EIP-712 domain
	// parameters. USDC deployments differ between "USD Coin" and "USDC".
	EIP3009Name    string
	EIP3009Version string

	// NativeDecimals is the precision of the chain's native token.
	NativeDecimals int32
}

// Verified USDC deployments for the networks the client ships presets for.
var (
	NetworkBase = NetworkConfig{
		Network:        "base",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		NativeDecimals: 18,
	}

	NetworkBaseSepolia = NetworkConfig{
		Network:        "base-sepolia",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
		NativeDecimals: 18,
	}

	NetworkPolygon = NetworkConfig{
		Network:        "polygon",
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		NativeDecimals: 18,
	}

	NetworkPolygonAmoy = NetworkConfig{
		Network:        "polygon-amoy",
		ChainID:        80002,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
		NativeDecimals: 18,
	}

	NetworkAvalanche = NetworkConfig{
		Network:        "avalanche",
		ChainID:        43114,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		NativeDecimals: 18,
	}

	NetworkAvalancheFuji = NetworkConfig{
		Network:        "avalanche-fuji",
		ChainID:        43113,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		NativeDecimals: 18,
	}
)

var networkPresets = map[string]NetworkConfig{
	NetworkBase.Network:          NetworkBase,
	NetworkBaseSepolia.Network:   NetworkBaseSepolia,
	NetworkPolygon.Network:       NetworkPolygon,
	NetworkPolygonAmoy.Network:   NetworkPolygonAmoy,
	NetworkAvalanche.Network:     NetworkAvalanche,
	NetworkAvalancheFuji.Network: NetworkAvalancheFuji,
}

// NetworkConfigFor looks up a shipped preset by network identifier.
func NetworkConfigFor(network string) (NetworkConfig, bool) {
	cfg, ok := networkPresets[network]
	return cfg, ok
}

// IsTestnet reports whether the configured network is a test network.
func (c NetworkConfig) IsTestnet() bool {
	switch c.Network {
	case NetworkBaseSepolia.Network, NetworkPolygonAmoy.Network, NetworkAvalancheFuji.Network:
		return true
	}
	return false
}

// DomainName returns the EIP-712 domain name for the given asset, preferring
// the server-supplied Extra hint over the preset.
func (c NetworkConfig) DomainName(req *PaymentRequirements) string {
	if req != nil {
		if name, ok := req.Extra["name"].(string); ok && name != "" {
			return name
		}
	}
	if c.EIP3009Name != "" {
		return c.EIP3009Name
	}
	return "USD Coin"
}

// DomainVersion returns the EIP-712 domain version, preferring the
// server-supplied Extra hint over the preset.
func (c NetworkConfig) DomainVersion(req *PaymentRequirements) string {
	if req != nil {
		if v, ok := req.Extra["version"].(string); ok && v != "" {
			return v
		}
	}
	if c.EIP3009Version != "" {
		return c.EIP3009Version
	}
	return "2"
}
