package collector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"TrendSentinel/internal/model"
)

// BinanceProvider reads spot daily klines from the Binance REST API.
type BinanceProvider struct {
	rest restClient
}

func NewBinanceProvider(cfg HTTPConfig) *BinanceProvider {
	return &BinanceProvider{rest: newRESTClient(cfg, "https://api.binance.com", 10)}
}

func (b *BinanceProvider) Name() string { return "binance" }

// binanceSymbol turns "BTC/USDT" into "BTCUSDT".
func binanceSymbol(symbol string) string {
	base, quote, _ := splitSymbol(symbol)
	return base + quote
}

func (b *BinanceProvider) FetchOHLCV(ctx context.Context, symbol string, limit int) ([]model.Bar, error) {
	if limit > 1000 {
		limit = 1000
	}
	q := url.Values{}
	q.Set("symbol", binanceSymbol(symbol))
	q.Set("interval", "1d")
	q.Set("limit", strconv.Itoa(limit))

	body, err := b.rest.get(ctx, "/api/v3/klines", q)
	if err != nil {
		if isStatus(err, 400) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnknownSymbol, symbol, err)
		}
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("binance klines: invalid json")
	}

	// Each row: [openTime, open, high, low, close, volume, closeTime, ...]
	rows := gjson.ParseBytes(body).Array()
	bars := make([]model.Bar, 0, len(rows))
	for i, row := range rows {
		cols := row.Array()
		if len(cols) < 6 {
			return nil, fmt.Errorf("binance klines: row %d has %d columns", i, len(cols))
		}
		o, h, l, c, v, err := parseOHLCV(cols[1].String(), cols[2].String(), cols[3].String(), cols[4].String(), cols[5].String())
		if err != nil {
			return nil, fmt.Errorf("binance klines row %d: %w", i, err)
		}
		bars = append(bars, model.Bar{
			Time: time.UnixMilli(cols[0].Int()), Open: o, High: h, Low: l, Close: c, Volume: v,
		})
	}
	return bars, nil
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

func (b *BinanceProvider) ListSymbols(ctx context.Context) ([]model.SymbolEntry, error) {
	var info binanceExchangeInfo
	if err := b.rest.getJSON(ctx, "/api/v3/exchangeInfo", nil, &info); err != nil {
		return nil, fmt.Errorf("binance exchangeInfo: %w", err)
	}
	out := make([]model.SymbolEntry, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Status, "TRADING") {
			continue
		}
		out = append(out, model.SymbolEntry{
			Provider: b.Name(),
			Symbol:   s.BaseAsset + "/" + s.QuoteAsset,
			Base:     s.BaseAsset,
			Quote:    s.QuoteAsset,
			Kind:     model.KindSpot,
		})
	}
	return out, nil
}
