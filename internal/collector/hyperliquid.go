package collector

import (
	"context"
	"fmt"
	"time"

	"TrendSentinel/internal/model"
)

// HyperliquidProvider reads perpetual daily candles from the Hyperliquid info API.
// Candle snapshots are queried by time range.
type HyperliquidProvider struct {
	rest restClient
	now  func() time.Time
}

func NewHyperliquidProvider(cfg HTTPConfig) *HyperliquidProvider {
	return &HyperliquidProvider{
		rest: newRESTClient(cfg, "https://api.hyperliquid.xyz", 5),
		now:  time.Now,
	}
}

func (h *HyperliquidProvider) Name() string { return "hyperliquid" }

type hlCandleRequest struct {
	Type string `json:"type"`
	Req  struct {
		Coin      string `json:"coin"`
		Interval  string `json:"interval"`
		StartTime int64  `json:"startTime"`
		EndTime   int64  `json:"endTime"`
	} `json:"req"`
}

type hlCandle struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Trades    int    `json:"n"`
}

func (h *HyperliquidProvider) FetchOHLCV(ctx context.Context, symbol string, limit int) ([]model.Bar, error) {
	coin, _, _ := splitSymbol(symbol)
	now := h.now()
	var req hlCandleRequest
	req.Type = "candleSnapshot"
	req.Req.Coin = coin
	req.Req.Interval = "1d"
	req.Req.StartTime = DayStart(now).AddDate(0, 0, -(limit + 3)).UnixMilli()
	req.Req.EndTime = now.UnixMilli()

	var candles []hlCandle
	if err := h.rest.postJSON(ctx, "/info", req, &candles); err != nil {
		if isStatus(err, 500) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnknownSymbol, symbol, err)
		}
		return nil, fmt.Errorf("hyperliquid candles: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: hyperliquid returned no candles for %s", ErrUnknownSymbol, symbol)
	}

	bars := make([]model.Bar, 0, len(candles))
	for i, c := range candles {
		o, hi, l, cl, v, err := parseOHLCV(c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid candle %d: %w", i, err)
		}
		bars = append(bars, model.Bar{
			Time: time.UnixMilli(c.OpenTime), Open: o, High: hi, Low: l, Close: cl, Volume: v,
		})
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

type hlMeta struct {
	Universe []struct {
		Name        string `json:"name"`
		IsDelisted  bool   `json:"isDelisted"`
		MaxLeverage int    `json:"maxLeverage"`
	} `json:"universe"`
}

func (h *HyperliquidProvider) ListSymbols(ctx context.Context) ([]model.SymbolEntry, error) {
	var meta hlMeta
	if err := h.rest.postJSON(ctx, "/info", map[string]string{"type": "meta"}, &meta); err != nil {
		return nil, fmt.Errorf("hyperliquid meta: %w", err)
	}
	out := make([]model.SymbolEntry, 0, len(meta.Universe))
	for _, u := range meta.Universe {
		if u.IsDelisted {
			continue
		}
		out = append(out, model.SymbolEntry{
			Provider: h.Name(),
			Symbol:   u.Name + "/USDC:USDC",
			Base:     u.Name,
			Quote:    "USDC",
			Kind:     model.KindPerp,
		})
	}
	return out, nil
}
