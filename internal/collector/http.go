package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// HTTPConfig holds the transport settings shared by the REST adapters.
type HTTPConfig struct {
	BaseURL   string
	Proxy     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 uses the adapter default, negative is unlimited
}

// restClient is the request plumbing every REST adapter embeds.
type restClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func newRESTClient(cfg HTTPConfig, defaultBase string, defaultRate float64) restClient {
	transport := &http.Transport{}
	if cfg.Proxy != "" {
		if u, err := url.Parse(cfg.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	rps := cfg.RateLimit
	if rps == 0 {
		rps = defaultRate
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return restClient{
		baseURL: base,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		limiter: limiter,
	}
}

// do waits for the rate limiter, sends the request and returns the body of a 2xx response.
func (c *restClient) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return body, nil
}

func (c *restClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, into any) error {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (c *restClient) postJSON(ctx context.Context, path string, payload, into any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d, body: %s", e.Code, e.Body)
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.Code == code
}

// splitSymbol splits "BASE/QUOTE" or "BASE/QUOTE:SETTLE" into its parts.
func splitSymbol(symbol string) (base, quote, settle string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.Index(s, ":"); i >= 0 {
		settle = s[i+1:]
		s = s[:i]
	}
	if i := strings.Index(s, "/"); i >= 0 {
		return s[:i], s[i+1:], settle
	}
	return s, "", settle
}

// parseNumber converts an exchange decimal string to float64.
func parseNumber(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// parseOHLCV parses the five price/volume strings of a kline row.
func parseOHLCV(open, high, low, closePrice, volume string) (o, h, l, c, v float64, err error) {
	if o, err = parseNumber(open); err != nil {
		return
	}
	if h, err = parseNumber(high); err != nil {
		return
	}
	if l, err = parseNumber(low); err != nil {
		return
	}
	if c, err = parseNumber(closePrice); err != nil {
		return
	}
	v, err = parseNumber(volume)
	return
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
