package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TrendSentinel/internal/alert"
	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/metrics"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/store"
	"TrendSentinel/internal/symbols"
	"TrendSentinel/internal/watchlist"
)

var day0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seriesFromMids(mids ...[]float64) model.Series {
	var all []float64
	for _, m := range mids {
		all = append(all, m...)
	}
	s := make(model.Series, len(all))
	for i, m := range all {
		s[i] = model.Bar{Time: day0.AddDate(0, 0, i), Open: m, High: m + 1, Low: m - 1, Close: m, Volume: 1}
	}
	return s
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func repeat(v float64, n int) []float64 { return ramp(v, 0, n) }

var (
	uptrend = seriesFromMids(ramp(100, 1, 40))
	crash   = seriesFromMids(ramp(100, 1, 30), repeat(10, 20))
)

type fakeFetcher struct {
	mu     sync.Mutex
	series map[string]model.Series
	errs   map[string]error
	panics map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{series: map[string]model.Series{}, errs: map[string]error{}, panics: map[string]bool{}}
}

func (f *fakeFetcher) set(inst model.Instrument, s model.Series) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[inst.Key()] = s
}

func (f *fakeFetcher) FetchDaily(_ context.Context, provider, symbol string, _ int) (model.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := provider + "_" + symbol
	if f.panics[key] {
		panic("adapter bug")
	}
	if err, ok := f.errs[key]; ok {
		return nil, &collector.ProviderError{Provider: provider, Symbol: symbol, Err: err}
	}
	s, ok := f.series[key]
	if !ok {
		return nil, &collector.ProviderError{Provider: provider, Symbol: symbol, Err: collector.ErrUnknownSymbol}
	}
	return s, nil
}

// gatedFetcher blocks every fetch until release is closed.
type gatedFetcher struct {
	SeriesFetcher
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedFetcher(inner SeriesFetcher) *gatedFetcher {
	return &gatedFetcher{SeriesFetcher: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedFetcher) FetchDaily(ctx context.Context, provider, symbol string, maxBars int) (model.Series, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.SeriesFetcher.FetchDaily(ctx, provider, symbol, maxBars)
}

// syncBuffer is a log sink shared by the worker goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type message struct{ subject, body string }

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message{subject, body})
	return r.err
}

func (r *recordingNotifier) messages() []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message(nil), r.msgs...)
}

type fixture struct {
	mon      *Monitor
	state    store.Store
	list     *watchlist.Watchlist
	alerts   *alert.Engine
	fetcher  *fakeFetcher
	notes    *recordingNotifier
	metrics  *metrics.Metrics
	logs     *syncBuffer
	registry *collector.Registry
}

func newFixture(t *testing.T, insts ...model.Instrument) *fixture {
	t.Helper()
	f := &fixture{
		state:    store.NewMemoryStore(),
		fetcher:  newFakeFetcher(),
		notes:    &recordingNotifier{},
		metrics:  metrics.New(),
		logs:     &syncBuffer{},
		registry: collector.NewRegistry(),
	}
	f.list = watchlist.New(f.state)
	f.alerts = alert.NewEngine(f.state, 0)
	for _, name := range []string{"binance", "bybit", "yahoo"} {
		f.registry.Register(collector.NewMockProvider(name, 0))
	}
	f.mon = New(Deps{
		Watchlist: f.list,
		Alerts:    f.alerts,
		Fetcher:   f.fetcher,
		Registry:  f.registry,
		Notifier:  f.notes,
		Metrics:   f.metrics,
	}, Config{Workers: 2})
	f.mon.SetLogger(zerolog.New(f.logs))
	for _, inst := range insts {
		_, err := f.list.Add(context.Background(), inst)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) errorLines() []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		if strings.Contains(line, `"level":"error"`) {
			out = append(out, line)
		}
	}
	return out
}

var (
	btc = model.Instrument{Exchange: "binance", Symbol: "BTC/USDT"}
	eth = model.Instrument{Exchange: "bybit", Symbol: "ETH/USDT"}
	spx = model.Instrument{Exchange: "yahoo", Symbol: "SPX500"}
)

func TestRunCheckCycle_IsolatesFailingInstrument(t *testing.T) {
	ctx := context.Background()
	reg := collector.NewRegistry()
	good := collector.NewMockProvider("binance", 100)
	broken := collector.NewMockProvider("bybit", 100)
	broken.Errors["ETH/USDT"] = errors.New("connection reset")
	reg.Register(good)
	reg.Register(broken)
	reg.Register(collector.NewMockProvider("yahoo", 5000))

	f := newFixture(t, btc, eth, spx)
	f.mon.Fetcher = collector.NewNormalizer(reg, collector.NormalizerConfig{})

	report := f.mon.RunCheckCycle(ctx)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Degraded)
	assert.Contains(t, report.Errors, eth.Key())
	assert.NotEmpty(t, report.ID)

	for _, inst := range []model.Instrument{btc, spx} {
		st, err := f.alerts.State(ctx, inst)
		require.NoError(t, err)
		require.NotNil(t, st, inst.Key())
		assert.Equal(t, model.TrendBullish, st.Trend)
		assert.Len(t, st.History, alert.DefaultHistoryLen)
	}
	st, err := f.alerts.State(ctx, eth)
	require.NoError(t, err)
	assert.Nil(t, st)

	lines := f.errorLines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"symbol":"ETH/USDT"`)
	assert.Contains(t, lines[0], "connection reset")

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ChecksTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChecksTotal.WithLabelValues("failed")))
}

func TestRunCheckCycle_TransitionNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc)
	f.fetcher.set(btc, uptrend)

	report := f.mon.RunCheckCycle(ctx)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Transitions)
	assert.Empty(t, f.notes.messages(), "first observation is silent")

	f.fetcher.set(btc, crash)
	report = f.mon.RunCheckCycle(ctx)
	assert.Equal(t, 1, report.Transitions)
	msgs := f.notes.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Market Alert: binance BTC/USDT changed to BEARISH", msgs[0].subject)
	assert.Contains(t, msgs[0].body, "BULLISH")

	report = f.mon.RunCheckCycle(ctx)
	assert.Zero(t, report.Transitions)
	assert.Len(t, f.notes.messages(), 1, "same trend again is silent")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TransitionsTotal.WithLabelValues("bearish")))
}

func TestCheckInstrument(t *testing.T) {
	f := newFixture(t, btc)
	f.fetcher.set(btc, crash)
	res, err := f.mon.CheckInstrument(context.Background(), btc)
	require.NoError(t, err)
	assert.Equal(t, model.TrendBearish, res.Trend)
	assert.Equal(t, 10.0, res.Price)
	assert.Equal(t, crash.Last().Time, res.BarTime)
	assert.Nil(t, res.Event)
}

func TestRunCheckCycle_InsufficientDataIsSkipped(t *testing.T) {
	f := newFixture(t, btc, eth)
	f.fetcher.set(btc, seriesFromMids(ramp(100, 1, 10)))
	f.fetcher.set(eth, uptrend)

	report := f.mon.RunCheckCycle(context.Background())
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Failed)
	assert.Empty(t, f.errorLines())
}

func TestRunCheckCycle_PanicIsContained(t *testing.T) {
	f := newFixture(t, btc, eth)
	f.fetcher.panics[btc.Key()] = true
	f.fetcher.set(eth, uptrend)

	report := f.mon.RunCheckCycle(context.Background())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Checked)
	assert.Contains(t, report.Errors[btc.Key()], "panic")
}

type brokenWrites struct{ store.Store }

func (brokenWrites) Set(context.Context, string, []byte) error { return errors.New("read-only filesystem") }

func TestRunCheckCycle_PersistenceFailureDegrades(t *testing.T) {
	f := newFixture(t, btc, eth)
	f.mon.Alerts = alert.NewEngine(brokenWrites{store.NewMemoryStore()}, 0)
	f.fetcher.set(btc, uptrend)
	f.fetcher.set(eth, uptrend)

	report := f.mon.RunCheckCycle(context.Background())
	assert.True(t, report.Degraded)
	assert.Equal(t, 2, report.Failed, "every instrument is still attempted")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CycleDegraded))
}

func TestNotificationFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc)
	f.notes.err = errors.New("telegram down")
	f.fetcher.set(btc, uptrend)
	f.mon.RunCheckCycle(ctx)

	f.fetcher.set(btc, crash)
	report := f.mon.RunCheckCycle(ctx)
	assert.Equal(t, 1, report.Checked, "notification failure does not fail the check")
	assert.Equal(t, 1, report.Transitions)

	st, err := f.alerts.State(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, model.TrendBearish, st.Trend)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotifyFailures))

	// the retry does not re-notify: the state already moved on
	f.notes.err = nil
	f.mon.RunCheckCycle(ctx)
	assert.Len(t, f.notes.messages(), 1)
}

func TestWeeklySummaryCountsFailuresSinceLastSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc, eth)
	f.fetcher.set(btc, uptrend)
	f.fetcher.errs[eth.Key()] = errors.New("timeout")

	f.mon.RunCheckCycle(ctx)
	f.mon.RunCheckCycle(ctx)
	require.NoError(t, f.mon.RunWeeklySummary(ctx))
	msgs := f.notes.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Weekly Trading Indicator Summary", msgs[0].subject)
	assert.Contains(t, msgs[0].body, "binance BTC/USDT</b>: BULLISH")
	assert.Contains(t, msgs[0].body, "bybit ETH/USDT</b>: not checked yet")
	assert.Contains(t, msgs[0].body, "2 failed checks, 0 degraded cycles")

	delete(f.fetcher.errs, eth.Key())
	f.fetcher.set(eth, uptrend)
	f.mon.RunCheckCycle(ctx)
	require.NoError(t, f.mon.RunWeeklySummary(ctx))
	assert.Contains(t, f.notes.messages()[1].body, "no failed checks")
}

func TestWeeklySummaryDeliveryFailureKeepsCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc)
	f.fetcher.errs[btc.Key()] = errors.New("timeout")
	f.mon.RunCheckCycle(ctx)

	f.notes.err = errors.New("down")
	assert.Error(t, f.mon.RunWeeklySummary(ctx))
	f.notes.err = nil
	require.NoError(t, f.mon.RunWeeklySummary(ctx))
	assert.Contains(t, f.notes.messages()[1].body, "1 failed checks")
}

func TestAddInstrument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.set(btc, uptrend)

	_, err := f.mon.AddInstrument(ctx, model.Instrument{Exchange: "kraken", Symbol: "BTC/USD"})
	assert.ErrorIs(t, err, collector.ErrUnknownProvider)

	_, err = f.mon.AddInstrument(ctx, model.Instrument{Exchange: "binance"})
	assert.Error(t, err)

	added, err := f.mon.AddInstrument(ctx, model.Instrument{Exchange: " Binance ", Symbol: "btc/usdt"})
	require.NoError(t, err)
	assert.True(t, added)
	f.mon.Wait()

	st, err := f.alerts.State(ctx, btc)
	require.NoError(t, err)
	require.NotNil(t, st, "new instrument is checked right away")

	added, err = f.mon.AddInstrument(ctx, btc)
	require.NoError(t, err)
	assert.False(t, added)

	list, err := f.list.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Instrument{btc}, list)
}

func TestAddInstrumentValidatesAgainstReadyIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.registry.Get("binance")
	require.NoError(t, err)
	p.(*collector.MockProvider).Symbols = []model.SymbolEntry{
		{Provider: "binance", Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Kind: model.KindSpot},
	}
	idx := symbols.NewIndex(f.registry.Listers(), symbols.Config{})
	f.mon.Index = idx

	// not ready yet: accepted without catalogue validation
	added, err := f.mon.AddInstrument(ctx, model.Instrument{Exchange: "binance", Symbol: "DOGE/USDT"})
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, idx.Refresh(ctx))
	_, err = f.mon.AddInstrument(ctx, model.Instrument{Exchange: "binance", Symbol: "PEPE/USDT"})
	assert.ErrorIs(t, err, collector.ErrUnknownSymbol)

	added, err = f.mon.AddInstrument(ctx, btc)
	require.NoError(t, err)
	assert.True(t, added)
	f.mon.Wait()

	assert.Equal(t, "BTC/USDT", f.mon.Search("btc")[0].Symbol)
}

func TestRemoveInstrumentPurgesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc)
	f.fetcher.set(btc, uptrend)
	f.mon.RunCheckCycle(ctx)

	removed, err := f.mon.RemoveInstrument(ctx, model.Instrument{Exchange: "BINANCE", Symbol: "btc/usdt"})
	require.NoError(t, err)
	assert.True(t, removed)
	st, err := f.alerts.State(ctx, btc)
	require.NoError(t, err)
	assert.Nil(t, st)

	removed, err = f.mon.RemoveInstrument(ctx, btc)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestInstallNotifiesOnlyOnFirstRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.mon.Install(ctx, []model.Instrument{{Exchange: "Binance", Symbol: "btc/usdt"}, eth})
	require.NoError(t, err)
	assert.True(t, first)
	msgs := f.notes.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Trading Alert Server Installed", msgs[0].subject)
	assert.Contains(t, msgs[0].body, "binance BTC/USDT")

	first, err = f.mon.Install(ctx, []model.Instrument{spx})
	require.NoError(t, err)
	assert.False(t, first)
	assert.Len(t, f.notes.messages(), 1)
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc)
	f.fetcher.set(btc, uptrend)
	f.fetcher.set(eth, crash)

	assert.Contains(t, f.mon.HandleCommand(ctx, "/help"), "/status")
	assert.Contains(t, f.mon.HandleCommand(ctx, "/status@TrendBot"), "not checked yet")
	assert.Contains(t, f.mon.HandleCommand(ctx, "/check"), "checked 1, skipped 0, failed 0")
	assert.Contains(t, f.mon.HandleCommand(ctx, "/status"), "BULLISH")

	assert.Equal(t, "✅ watching bybit ETH/USDT", f.mon.HandleCommand(ctx, "/add bybit eth/usdt"))
	f.mon.Wait()
	assert.Contains(t, f.mon.HandleCommand(ctx, "/add bybit ETH/USDT"), "already watched")
	assert.Contains(t, f.mon.HandleCommand(ctx, "/add kraken X"), "unknown exchange kraken (have: binance, bybit, yahoo)")
	assert.Contains(t, f.mon.HandleCommand(ctx, "/add binance"), "usage")
	assert.Contains(t, f.mon.HandleCommand(ctx, "/status"), "BEARISH")

	assert.Equal(t, "🗑 removed bybit ETH/USDT", f.mon.HandleCommand(ctx, "/remove bybit ETH/USDT"))
	assert.Contains(t, f.mon.HandleCommand(ctx, "/remove bybit ETH/USDT"), "is not watched")

	assert.Contains(t, f.mon.HandleCommand(ctx, "/search"), "usage")
	assert.Contains(t, f.mon.HandleCommand(ctx, "/search btc"), "No symbols match")
	assert.Empty(t, f.mon.HandleCommand(ctx, "/weekly"))
	assert.Contains(t, f.mon.HandleCommand(ctx, "/history binance BTC/USDT"), "No history")
	assert.Equal(t, "unknown command, try /help", f.mon.HandleCommand(ctx, "/launch"))
	assert.Empty(t, f.mon.HandleCommand(ctx, "   "))
}

func TestWorkerPoolChecksEveryInstrument(t *testing.T) {
	var insts []model.Instrument
	for i := 0; i < 25; i++ {
		insts = append(insts, model.Instrument{Exchange: "binance", Symbol: fmt.Sprintf("C%d/USDT", i)})
	}
	f := newFixture(t, insts...)
	for _, inst := range insts {
		f.fetcher.set(inst, uptrend)
	}
	report := f.mon.RunCheckCycle(context.Background())
	assert.Equal(t, 25, report.Checked)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRemoveDuringCheckDoesNotResurrectState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc)
	f.fetcher.set(btc, uptrend)
	gate := newGatedFetcher(f.fetcher)
	f.mon.Fetcher = gate

	checked := make(chan error, 1)
	go func() {
		_, err := f.mon.CheckInstrument(ctx, btc)
		checked <- err
	}()
	<-gate.entered

	removed, err := f.mon.RemoveInstrument(ctx, btc)
	require.NoError(t, err)
	require.True(t, removed)
	close(gate.release)
	assert.ErrorIs(t, <-checked, alert.ErrNotWatched)

	st, err := f.alerts.State(ctx, btc)
	require.NoError(t, err)
	assert.Nil(t, st, "state stays purged")

	// re-added, the next check is a first observation again
	f.mon.Fetcher = f.fetcher
	f.fetcher.set(btc, crash)
	_, err = f.list.Add(ctx, btc)
	require.NoError(t, err)
	res, err := f.mon.CheckInstrument(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, model.TrendBearish, res.Trend)
	assert.Nil(t, res.Event)
	assert.Empty(t, f.notes.messages())
}

func TestRemoveDuringCycleCountsAsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc)
	f.fetcher.set(btc, uptrend)
	gate := newGatedFetcher(f.fetcher)
	f.mon.Fetcher = gate

	reports := make(chan model.CycleReport, 1)
	go func() { reports <- f.mon.RunCheckCycle(ctx) }()
	<-gate.entered

	_, err := f.mon.RemoveInstrument(ctx, btc)
	require.NoError(t, err)
	close(gate.release)

	report := <-reports
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Empty(t, f.errorLines())
}

func TestRunCheckNowSkipsOverlappingCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc)
	f.fetcher.set(btc, uptrend)
	gate := newGatedFetcher(f.fetcher)
	f.mon.Fetcher = gate

	reports := make(chan model.CycleReport, 1)
	go func() {
		report, ran := f.mon.RunCheckNow(ctx)
		assert.True(t, ran)
		reports <- report
	}()
	<-gate.entered

	_, ran := f.mon.RunCheckNow(ctx)
	assert.False(t, ran)
	assert.Equal(t, "⏳ a check cycle is already running", f.mon.HandleCommand(ctx, "/check"))

	close(gate.release)
	assert.Equal(t, 1, (<-reports).Checked)

	_, ran = f.mon.RunCheckNow(ctx)
	assert.True(t, ran, "gate is released after the cycle")
}
