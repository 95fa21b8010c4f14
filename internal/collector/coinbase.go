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

// coinbaseMaxCandles is the most candles one request may span.
const coinbaseMaxCandles = 300

// CoinbaseProvider reads daily candles from the Coinbase Exchange API, which
// only supports calendar-range queries.
type CoinbaseProvider struct {
	rest restClient
	now  func() time.Time
}

func NewCoinbaseProvider(cfg HTTPConfig) *CoinbaseProvider {
	return &CoinbaseProvider{
		rest: newRESTClient(cfg, "https://api.exchange.coinbase.com", 5),
		now:  time.Now,
	}
}

func (c *CoinbaseProvider) Name() string { return "coinbase" }

// coinbaseProduct turns "BTC/USD" into "BTC-USD".
func coinbaseProduct(symbol string) string {
	base, quote, _ := splitSymbol(symbol)
	if quote == "" {
		return base
	}
	return base + "-" + quote
}

func (c *CoinbaseProvider) FetchOHLCV(ctx context.Context, symbol string, limit int) ([]model.Bar, error) {
	product := coinbaseProduct(symbol)
	end := DayStart(c.now()).Add(day)
	// Over-fetch a few days so gaps in the product history still leave limit bars.
	start := end.AddDate(0, 0, -(limit + 3))

	var bars []model.Bar
	for from := start; from.Before(end); from = from.AddDate(0, 0, coinbaseMaxCandles) {
		to := from.AddDate(0, 0, coinbaseMaxCandles)
		if to.After(end) {
			to = end
		}
		chunk, err := c.fetchRange(ctx, product, from, to)
		if err != nil {
			if isStatus(err, 404) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
			}
			return nil, fmt.Errorf("coinbase candles: %w", err)
		}
		bars = append(bars, chunk...)
	}
	return bars, nil
}

func (c *CoinbaseProvider) fetchRange(ctx context.Context, product string, from, to time.Time) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("granularity", strconv.Itoa(int(day/time.Second)))
	q.Set("start", from.Format(time.RFC3339))
	q.Set("end", to.Format(time.RFC3339))
	body, err := c.rest.get(ctx, "/products/"+url.PathEscape(product)+"/candles", q)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json")
	}

	// Each row: [time, low, high, open, close, volume], newest first.
	rows := gjson.ParseBytes(body).Array()
	bars := make([]model.Bar, 0, len(rows))
	for i, row := range rows {
		cols := row.Array()
		if len(cols) < 6 {
			return nil, fmt.Errorf("row %d has %d columns", i, len(cols))
		}
		bars = append(bars, model.Bar{
			Time:   time.Unix(cols[0].Int(), 0),
			Low:    cols[1].Float(),
			High:   cols[2].Float(),
			Open:   cols[3].Float(),
			Close:  cols[4].Float(),
			Volume: cols[5].Float(),
		})
	}
	return bars, nil
}

type coinbaseProductInfo struct {
	ID              string `json:"id"`
	BaseCurrency    string `json:"base_currency"`
	QuoteCurrency   string `json:"quote_currency"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
}

func (c *CoinbaseProvider) ListSymbols(ctx context.Context) ([]model.SymbolEntry, error) {
	var products []coinbaseProductInfo
	if err := c.rest.getJSON(ctx, "/products", nil, &products); err != nil {
		return nil, fmt.Errorf("coinbase products: %w", err)
	}
	out := make([]model.SymbolEntry, 0, len(products))
	for _, p := range products {
		if p.TradingDisabled || (p.Status != "" && !strings.EqualFold(p.Status, "online")) {
			continue
		}
		out = append(out, model.SymbolEntry{
			Provider: c.Name(),
			Symbol:   p.BaseCurrency + "/" + p.QuoteCurrency,
			Base:     p.BaseCurrency,
			Quote:    p.QuoteCurrency,
			Kind:     model.KindSpot,
		})
	}
	return out, nil
}
