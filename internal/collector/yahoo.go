package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"TrendSentinel/internal/model"
)

// YahooProvider implements Provider using the Yahoo Finance chart API.
type YahooProvider struct {
	rest      restClient
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahooProvider creates a Yahoo Finance provider.
func NewYahooProvider(cfg HTTPConfig) *YahooProvider {
	return &YahooProvider{
		rest: newRESTClient(cfg, "https://query1.finance.yahoo.com", 2),
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
	}
}

func (f *YahooProvider) Name() string { return "yahoo" }

func (f *YahooProvider) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[strings.ToUpper(symbol)]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// yahooRange picks the smallest chart range that covers limit trading days.
// Weekends and holidays mean roughly 1.5 calendar days per bar.
func yahooRange(limit int) string {
	calendarDays := limit * 3 / 2
	switch {
	case calendarDays <= 30:
		return "1mo"
	case calendarDays <= 90:
		return "3mo"
	case calendarDays <= 180:
		return "6mo"
	case calendarDays <= 365:
		return "1y"
	case calendarDays <= 730:
		return "2y"
	default:
		return "5y"
	}
}

func (f *YahooProvider) FetchOHLCV(ctx context.Context, symbol string, limit int) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("range", yahooRange(limit))
	body, err := f.rest.get(ctx, "/v8/finance/chart/"+url.PathEscape(f.yahooSymbol(symbol)), q)
	if err != nil {
		if isStatus(err, 404) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, fmt.Errorf("%w: yahoo returned no data for %s", ErrUnknownSymbol, symbol)
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no quote block")
	}
	quote := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(quote.Open) < n || len(quote.High) < n || len(quote.Low) < n || len(quote.Close) < n {
		return nil, fmt.Errorf("yahoo: quote arrays shorter than timestamps")
	}

	bars := make([]model.Bar, 0, n)
	for i, ts := range result.Timestamp {
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue // null bars (holidays etc.)
		}
		var vol float64
		if i < len(quote.Volume) {
			vol = deref(quote.Volume[i])
		}
		bars = append(bars, model.Bar{
			Time:   time.Unix(ts, 0),
			Open:   *quote.Open[i],
			High:   *quote.High[i],
			Low:    *quote.Low[i],
			Close:  *quote.Close[i],
			Volume: vol,
		})
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}
