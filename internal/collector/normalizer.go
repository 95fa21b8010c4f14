package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"TrendSentinel/internal/model"
)

const day = 24 * time.Hour

// FetchObserver is notified after every provider call.
type FetchObserver func(provider string, took time.Duration, err error)

// NormalizerConfig controls how provider output is turned into a Series.
type NormalizerConfig struct {
	Timeout           time.Duration
	IncludeFormingBar bool
}

// Normalizer fetches from registered providers and enforces the canonical bar schema.
type Normalizer struct {
	registry       *Registry
	timeout        time.Duration
	includeForming bool
	validate       *validator.Validate
	now            func() time.Time
	observe        FetchObserver
}

// NewNormalizer creates a Normalizer over the given registry.
func NewNormalizer(registry *Registry, cfg NormalizerConfig) *Normalizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Normalizer{
		registry:       registry,
		timeout:        timeout,
		includeForming: cfg.IncludeFormingBar,
		validate:       NewBarValidator(),
		now:            time.Now,
	}
}

// SetClock overrides the wall clock used to detect the still-forming bar.
func (n *Normalizer) SetClock(now func() time.Time) { n.now = now }

// SetObserver registers a callback for fetch timing.
func (n *Normalizer) SetObserver(o FetchObserver) { n.observe = o }

// Registry returns the provider registry backing the normalizer.
func (n *Normalizer) Registry() *Registry { return n.registry }

// FetchDaily returns the most recent maxBars closed daily bars of symbol.
// Either a complete Series is returned or a *ProviderError.
func (n *Normalizer) FetchDaily(ctx context.Context, provider, symbol string, maxBars int) (model.Series, error) {
	fail := func(err error) (model.Series, error) {
		return nil, &ProviderError{Provider: provider, Symbol: symbol, Err: err}
	}
	if maxBars <= 0 {
		return fail(errors.New("maxBars must be positive"))
	}
	p, err := n.registry.Get(provider)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	// One extra bar covers the forming bar that is usually dropped.
	raw, err := p.FetchOHLCV(ctx, symbol, maxBars+1)
	if n.observe != nil {
		n.observe(provider, time.Since(start), err)
	}
	if err != nil {
		return fail(err)
	}

	series, err := n.normalize(raw, maxBars)
	if err != nil {
		return fail(err)
	}
	return series, nil
}

// normalize aligns and orders raw bars and drops the forming bar before
// validating, so a malformed forming bar never fails the fetch.
func (n *Normalizer) normalize(raw []model.Bar, maxBars int) (model.Series, error) {
	bars := make([]model.Bar, len(raw))
	for i, b := range raw {
		b.Time = DayStart(b.Time)
		bars[i] = b
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	// Collapse duplicate days, later rows win.
	series := make(model.Series, 0, len(bars))
	for _, b := range bars {
		if len(series) > 0 && series[len(series)-1].Time.Equal(b.Time) {
			series[len(series)-1] = b
			continue
		}
		series = append(series, b)
	}

	if !n.includeForming {
		now := n.now()
		for len(series) > 0 && series[len(series)-1].Time.Add(day).After(now) {
			series = series[:len(series)-1]
		}
	}

	for i, b := range series {
		if err := n.validate.Struct(b); err != nil {
			return nil, fmt.Errorf("bar %d (%s): %w", i, b.Time.Format("2006-01-02"), err)
		}
	}

	if len(series) > maxBars {
		series = series[len(series)-maxBars:]
	}
	if len(series) == 0 {
		return nil, errors.New("no bars returned")
	}
	return series, nil
}

// DayStart returns UTC midnight of the day containing t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewBarValidator returns a validator that understands the "finite" tag used on model.Bar.
func NewBarValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return v
}
