package collector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"TrendSentinel/internal/model"
)

// BybitProvider reads spot daily klines from the Bybit v5 API.
type BybitProvider struct {
	rest restClient
}

func NewBybitProvider(cfg HTTPConfig) *BybitProvider {
	return &BybitProvider{rest: newRESTClient(cfg, "https://api.bybit.com", 10)}
}

func (b *BybitProvider) Name() string { return "bybit" }

type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

type bybitKlines struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"` // [start, open, high, low, close, volume, turnover], newest first
}

func (b *BybitProvider) FetchOHLCV(ctx context.Context, symbol string, limit int) ([]model.Bar, error) {
	if limit > 1000 {
		limit = 1000
	}
	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", binanceSymbol(symbol))
	q.Set("interval", "D")
	q.Set("limit", strconv.Itoa(limit))

	var resp bybitResponse[bybitKlines]
	if err := b.rest.getJSON(ctx, "/v5/market/kline", q, &resp); err != nil {
		return nil, fmt.Errorf("bybit kline: %w", err)
	}
	if resp.RetCode != 0 {
		if resp.RetCode == 10001 {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnknownSymbol, symbol, resp.RetMsg)
		}
		return nil, fmt.Errorf("bybit kline: code %d: %s", resp.RetCode, resp.RetMsg)
	}

	bars := make([]model.Bar, 0, len(resp.Result.List))
	for i, row := range resp.Result.List {
		if len(row) < 6 {
			return nil, fmt.Errorf("bybit kline: row %d has %d columns", i, len(row))
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit kline row %d: start time: %w", i, err)
		}
		o, h, l, c, v, err := parseOHLCV(row[1], row[2], row[3], row[4], row[5])
		if err != nil {
			return nil, fmt.Errorf("bybit kline row %d: %w", i, err)
		}
		bars = append(bars, model.Bar{
			Time: time.UnixMilli(start), Open: o, High: h, Low: l, Close: c, Volume: v,
		})
	}
	return bars, nil
}

type bybitInstruments struct {
	List []struct {
		Symbol    string `json:"symbol"`
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
		Status    string `json:"status"`
	} `json:"list"`
}

func (b *BybitProvider) ListSymbols(ctx context.Context) ([]model.SymbolEntry, error) {
	q := url.Values{}
	q.Set("category", "spot")
	var resp bybitResponse[bybitInstruments]
	if err := b.rest.getJSON(ctx, "/v5/market/instruments-info", q, &resp); err != nil {
		return nil, fmt.Errorf("bybit instruments: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit instruments: code %d: %s", resp.RetCode, resp.RetMsg)
	}
	out := make([]model.SymbolEntry, 0, len(resp.Result.List))
	for _, s := range resp.Result.List {
		if s.Status != "" && !strings.EqualFold(s.Status, "Trading") {
			continue
		}
		out = append(out, model.SymbolEntry{
			Provider: b.Name(),
			Symbol:   s.BaseCoin + "/" + s.QuoteCoin,
			Base:     s.BaseCoin,
			Quote:    s.QuoteCoin,
			Kind:     model.KindSpot,
		})
	}
	return out, nil
}
