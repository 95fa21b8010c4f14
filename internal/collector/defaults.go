package collector

import (
	"fmt"
	"strings"
	"time"
)

// RegistryConfig selects and tunes the adapters of NewDefaultRegistry.
type RegistryConfig struct {
	// Enabled lists provider names; empty enables every HTTP adapter.
	Enabled []string
	Proxy   string
	Timeout time.Duration
	// Overrides carries per-provider base URL and rate limit settings.
	Overrides map[string]HTTPConfig
}

var defaultProviders = []string{"binance", "bybit", "coinbase", "hyperliquid", "yahoo"}

// NewDefaultRegistry registers the enabled adapters in a fixed order.
func NewDefaultRegistry(cfg RegistryConfig) (*Registry, error) {
	enabled := cfg.Enabled
	if len(enabled) == 0 {
		enabled = defaultProviders
	}
	reg := NewRegistry()
	for _, name := range enabled {
		name = strings.ToLower(strings.TrimSpace(name))
		hc := cfg.Overrides[name]
		if hc.Proxy == "" {
			hc.Proxy = cfg.Proxy
		}
		if hc.Timeout == 0 {
			hc.Timeout = cfg.Timeout
		}
		switch name {
		case "binance":
			reg.Register(NewBinanceProvider(hc))
		case "bybit":
			reg.Register(NewBybitProvider(hc))
		case "coinbase":
			reg.Register(NewCoinbaseProvider(hc))
		case "hyperliquid":
			reg.Register(NewHyperliquidProvider(hc))
		case "yahoo":
			reg.Register(NewYahooProvider(hc))
		case "mock":
			reg.Register(NewMockProvider("mock", 100))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
	}
	return reg, nil
}
