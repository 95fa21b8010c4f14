package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TrendSentinel/internal/model"
)

func serve(t *testing.T, h http.HandlerFunc) HTTPConfig {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return HTTPConfig{BaseURL: srv.URL, Timeout: 5 * time.Second, RateLimit: -1}
}

func TestBinance_FetchOHLCV(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		io.WriteString(w, `[
			[1741478400000,"80000.10","82000.00","79000.00","81000.50","1234.5",1741564799999,"0",1,"0","0","0"],
			[1741564800000,"81000.50","83000.00","80500.00","82500.00","987.25",1741651199999,"0",1,"0","0","0"]
		]`)
	})
	bars, err := NewBinanceProvider(cfg).FetchOHLCV(context.Background(), "btc/usdt", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.UnixMilli(1741478400000), bars[0].Time)
	assert.InDelta(t, 80000.10, bars[0].Open, 1e-9)
	assert.InDelta(t, 82000.00, bars[0].High, 1e-9)
	assert.InDelta(t, 79000.00, bars[0].Low, 1e-9)
	assert.InDelta(t, 81000.50, bars[0].Close, 1e-9)
	assert.InDelta(t, 987.25, bars[1].Volume, 1e-9)
}

func TestBinance_Errors(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "NOPEUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"code":-1121,"msg":"Invalid symbol."}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	p := NewBinanceProvider(cfg)

	_, err := p.FetchOHLCV(context.Background(), "NOPE/USDT", 10)
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	_, err = p.FetchOHLCV(context.Background(), "BTC/USDT", 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownSymbol)
	assert.True(t, isStatus(err, http.StatusInternalServerError))
}

func TestBinance_ListSymbols(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		io.WriteString(w, `{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"LUNAUSDT","status":"BREAK","baseAsset":"LUNA","quoteAsset":"USDT"}
		]}`)
	})
	entries, err := NewBinanceProvider(cfg).ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.SymbolEntry{
		{Provider: "binance", Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Kind: model.KindSpot},
	}, entries)
}

func TestBybit_FetchOHLCV(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "spot", q.Get("category"))
		assert.Equal(t, "D", q.Get("interval"))
		if q.Get("symbol") != "ETHUSDT" {
			io.WriteString(w, `{"retCode":10001,"retMsg":"Not supported symbols","result":{}}`)
			return
		}
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"symbol":"ETHUSDT","list":[
			["1741564800000","2100","2200","2050","2150","10","21000"],
			["1741478400000","2000","2120","1990","2100","12","24000"]
		]}}`)
	})
	p := NewBybitProvider(cfg)

	bars, err := p.FetchOHLCV(context.Background(), "ETH/USDT", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	// newest first on the wire; the normalizer sorts
	assert.InDelta(t, 2150.0, bars[0].Close, 1e-9)
	assert.Equal(t, time.UnixMilli(1741478400000), bars[1].Time)

	_, err = p.FetchOHLCV(context.Background(), "FOO/BAR", 2)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestCoinbase_FetchOHLCV(t *testing.T) {
	var hits atomic.Int32
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/products/NOPE-USD/candles" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"NotFound"}`)
			return
		}
		assert.Equal(t, "/products/BTC-USD/candles", r.URL.Path)
		assert.Equal(t, "86400", r.URL.Query().Get("granularity"))
		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		assert.NoError(t, err)
		end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
		assert.NoError(t, err)
		assert.LessOrEqual(t, end.Sub(start), coinbaseMaxCandles*day)
		io.WriteString(w, `[[1741564800,80500,83000,81000.5,82500,987.25],[1741478400,79000,82000,80000.1,81000.5,1234.5]]`)
	})
	p := NewCoinbaseProvider(cfg)
	p.now = func() time.Time { return testNow }

	bars, err := p.FetchOHLCV(context.Background(), "BTC/USD", 5)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int32(1), hits.Load())
	first := bars[0]
	assert.Equal(t, time.Unix(1741564800, 0), first.Time)
	assert.InDelta(t, 81000.5, first.Open, 1e-9)
	assert.InDelta(t, 83000.0, first.High, 1e-9)
	assert.InDelta(t, 80500.0, first.Low, 1e-9)
	assert.InDelta(t, 82500.0, first.Close, 1e-9)

	// 400 days span two windows of 300
	hits.Store(0)
	_, err = p.FetchOHLCV(context.Background(), "BTC/USD", 400)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = p.FetchOHLCV(context.Background(), "NOPE/USD", 5)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestCoinbase_ListSymbols(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"id":"BTC-USD","base_currency":"BTC","quote_currency":"USD","status":"online","trading_disabled":false},
			{"id":"OLD-USD","base_currency":"OLD","quote_currency":"USD","status":"delisted","trading_disabled":false},
			{"id":"HALT-USD","base_currency":"HALT","quote_currency":"USD","status":"online","trading_disabled":true}
		]`)
	})
	entries, err := NewCoinbaseProvider(cfg).ListSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BTC/USD", entries[0].Symbol)
	assert.Equal(t, "coinbase", entries[0].Provider)
}

func TestHyperliquid(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req struct {
			Type string `json:"type"`
			Req  struct {
				Coin      string `json:"coin"`
				Interval  string `json:"interval"`
				StartTime int64  `json:"startTime"`
				EndTime   int64  `json:"endTime"`
			} `json:"req"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		switch req.Type {
		case "meta":
			io.WriteString(w, `{"universe":[{"name":"BTC","maxLeverage":40},{"name":"OLD","isDelisted":true}]}`)
		case "candleSnapshot":
			assert.Equal(t, "1d", req.Req.Interval)
			assert.Less(t, req.Req.StartTime, req.Req.EndTime)
			if req.Req.Coin != "BTC" {
				io.WriteString(w, `[]`)
				return
			}
			var rows []string
			for i := 0; i < 4; i++ {
				ts := time.Date(2025, 3, 6+i, 0, 0, 0, 0, time.UTC).UnixMilli()
				rows = append(rows, fmt.Sprintf(
					`{"t":%d,"T":%d,"s":"BTC","i":"1d","o":"%d","c":"%d","h":"%d","l":"%d","v":"12.5","n":100}`,
					ts, ts+int64(day/time.Millisecond)-1, 100+i, 101+i, 105+i, 95+i))
			}
			io.WriteString(w, "["+strings.Join(rows, ",")+"]")
		default:
			t.Errorf("unexpected request type %q", req.Type)
		}
	})
	p := NewHyperliquidProvider(cfg)
	p.now = func() time.Time { return testNow }

	bars, err := p.FetchOHLCV(context.Background(), "BTC/USDC:USDC", 3)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), bars[0].Time.UTC())
	assert.InDelta(t, 104.0, bars[2].Close, 1e-9)
	assert.InDelta(t, 12.5, bars[2].Volume, 1e-9)

	_, err = p.FetchOHLCV(context.Background(), "DOGE/USDC:USDC", 3)
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	entries, err := p.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.SymbolEntry{
		{Provider: "hyperliquid", Symbol: "BTC/USDC:USDC", Base: "BTC", Quote: "USDC", Kind: model.KindPerp},
	}, entries)
}

func TestYahoo_FetchOHLCV(t *testing.T) {
	cfg := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v8/finance/chart/NOPE" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "/v8/finance/chart/^GSPC", r.URL.Path)
		assert.Equal(t, "1mo", r.URL.Query().Get("range"))
		io.WriteString(w, `{"chart":{"result":[{
			"timestamp":[1741267800,1741354200,1741613400,1741699800],
			"indicators":{"quote":[{
				"open":[5700,null,5650,5600],
				"high":[5750,null,5700,5680],
				"low":[5680,null,5600,5550],
				"close":[5720,null,5620,5580],
				"volume":[100,null,200,300]
			}]}
		}],"error":null}}`)
	})
	p := NewYahooProvider(cfg)

	bars, err := p.FetchOHLCV(context.Background(), "spx500", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, 5620.0, bars[0].Close, 1e-9)
	assert.InDelta(t, 5580.0, bars[1].Close, 1e-9)

	_, err = p.FetchOHLCV(context.Background(), "NOPE", 2)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		in, base, quote, settle string
	}{
		{"BTC/USDT", "BTC", "USDT", ""},
		{"eth/usdc:usdc", "ETH", "USDC", "USDC"},
		{" AAPL ", "AAPL", "", ""},
	}
	for _, tt := range tests {
		b, q, s := splitSymbol(tt.in)
		assert.Equal(t, tt.base, b, tt.in)
		assert.Equal(t, tt.quote, q, tt.in)
		assert.Equal(t, tt.settle, s, tt.in)
	}
}
