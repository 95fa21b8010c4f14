// Package monitor runs check cycles over the watchlist: fetch, classify,
// persist and notify, one instrument at a time per worker.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"TrendSentinel/internal/alert"
	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/indicator"
	"TrendSentinel/internal/metrics"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/notifier"
	"TrendSentinel/internal/recorder"
	"TrendSentinel/internal/symbols"
	"TrendSentinel/internal/watchlist"
)

// SeriesFetcher returns normalized daily bars. *collector.Normalizer implements it.
type SeriesFetcher interface {
	FetchDaily(ctx context.Context, provider, symbol string, maxBars int) (model.Series, error)
}

// Config tunes the orchestrator.
type Config struct {
	Workers      int           // concurrent instrument checks, default 4
	MaxBars      int           // bars requested per check, default 100
	HistoryLen   int           // closes kept in state, default 7
	CheckTimeout time.Duration // per instrument, default 2m
}

// Deps are the collaborators of a Monitor. Index, Metrics and Health may be nil.
type Deps struct {
	Watchlist *watchlist.Watchlist
	Alerts    *alert.Engine
	Fetcher   SeriesFetcher
	Registry  *collector.Registry
	Index     *symbols.Index
	Notifier  notifier.Notifier
	Recorder  recorder.Recorder
	Metrics   *metrics.Metrics
	Health    *metrics.Health
}

// Monitor is the check orchestrator driven by the scheduler and bot commands.
type Monitor struct {
	Deps
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu             sync.Mutex
	failedChecks   int // since the last weekly summary
	degradedCycles int

	// held by RunCheckNow for the duration of a cycle
	cycling sync.Mutex

	bg sync.WaitGroup
}

// New creates a Monitor. Missing optional collaborators get no-op defaults.
// The alert engine is guarded by the watchlist, so a check finishing after
// its instrument was removed writes nothing.
func New(deps Deps, cfg Config) *Monitor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxBars < indicator.MinSeriesLength {
		cfg.MaxBars = 100
	}
	if cfg.HistoryLen <= 0 {
		cfg.HistoryLen = alert.DefaultHistoryLen
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Minute
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.LogNotifier{}
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if deps.Alerts != nil && deps.Watchlist != nil {
		deps.Alerts.SetWatchGuard(deps.Watchlist.Contains)
	}
	return &Monitor{
		Deps: deps,
		cfg:  cfg,
		log:  log.Logger,
		now:  time.Now,
	}
}

// SetLogger replaces the logger used for cycle and check output.
func (m *Monitor) SetLogger(l zerolog.Logger) { m.log = l }

// SetClock overrides the wall clock used for reports.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Wait blocks until background checks started by AddInstrument finish.
func (m *Monitor) Wait() { m.bg.Wait() }

type outcome struct {
	inst   model.Instrument
	result *model.CheckResult
	err    error
}

// RunCheckNow runs a check cycle unless one started by RunCheckNow is still
// running, in which case it returns false without checking anything.
func (m *Monitor) RunCheckNow(ctx context.Context) (model.CycleReport, bool) {
	if !m.cycling.TryLock() {
		m.log.Warn().Msg("check cycle already running, skipping")
		return model.CycleReport{}, false
	}
	defer m.cycling.Unlock()
	return m.RunCheckCycle(ctx), true
}

// RunCheckCycle checks every watched instrument. Failures are logged once per
// instrument and counted in the report; the cycle itself never fails.
func (m *Monitor) RunCheckCycle(ctx context.Context) model.CycleReport {
	report := model.CycleReport{
		ID:        uuid.NewString(),
		StartedAt: m.now(),
		Errors:    map[string]string{},
	}
	logger := m.log.With().Str("cycle", report.ID).Logger()

	list, err := m.Watchlist.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("cannot read watchlist")
		report.Degraded = true
		report.Errors["watchlist"] = err.Error()
		return m.finishCycle(logger, report)
	}

	jobs := make(chan model.Instrument)
	results := make(chan outcome, len(list))
	workers := min(m.cfg.Workers, len(list))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range jobs {
				res, err := m.safeCheck(ctx, report.ID, inst)
				results <- outcome{inst: inst, result: res, err: err}
			}
		}()
	}
	for _, inst := range list {
		jobs <- inst
	}
	close(jobs)
	wg.Wait()
	close(results)

	for o := range results {
		m.tally(logger, &report, o)
	}
	return m.finishCycle(logger, report)
}

func (m *Monitor) tally(logger zerolog.Logger, report *model.CycleReport, o outcome) {
	l := logger.With().Str("exchange", o.inst.Exchange).Str("symbol", o.inst.Symbol).Logger()
	var pe *alert.PersistenceError
	switch {
	case o.err == nil:
		report.Checked++
		m.observeCheck("ok")
		if o.result.Event != nil {
			report.Transitions++
		}
	case errors.Is(o.err, indicator.ErrInsufficientData):
		report.Skipped++
		m.observeCheck("skipped")
		l.Warn().Err(o.err).Msg("not enough history, skipped")
	case errors.Is(o.err, alert.ErrNotWatched):
		report.Skipped++
		m.observeCheck("skipped")
		l.Debug().Msg("removed during check, skipped")
	case errors.As(o.err, &pe):
		report.Failed++
		report.Degraded = true
		report.Errors[o.inst.Key()] = o.err.Error()
		m.observeCheck("failed")
		l.Error().Err(o.err).Msg("state store failure")
	default:
		report.Failed++
		report.Errors[o.inst.Key()] = o.err.Error()
		m.observeCheck("failed")
		l.Error().Err(o.err).Msg("instrument check failed")
	}
}

func (m *Monitor) finishCycle(logger zerolog.Logger, report model.CycleReport) model.CycleReport {
	report.FinishedAt = m.now()

	m.mu.Lock()
	m.failedChecks += report.Failed
	if report.Degraded {
		m.degradedCycles++
	}
	m.mu.Unlock()

	if err := m.Recorder.RecordCycle(&report); err != nil {
		logger.Warn().Err(err).Msg("record cycle")
	}
	if m.Metrics != nil {
		m.Metrics.ObserveCycle(&report)
	}
	if m.Health != nil {
		m.Health.SetCycle(&report)
	}

	ev := logger.Info()
	if report.Degraded {
		ev = logger.Warn()
	}
	ev.Int("checked", report.Checked).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("transitions", report.Transitions).
		Bool("degraded", report.Degraded).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("check cycle finished")
	return report
}

func (m *Monitor) observeCheck(result string) {
	if m.Metrics != nil {
		m.Metrics.ObserveCheck(result)
	}
}

// CheckInstrument runs one check outside a cycle.
func (m *Monitor) CheckInstrument(ctx context.Context, inst model.Instrument) (*model.CheckResult, error) {
	return m.safeCheck(ctx, uuid.NewString(), inst)
}

// safeCheck turns a panic in any collaborator into an error for that instrument.
func (m *Monitor) safeCheck(ctx context.Context, cycleID string, inst model.Instrument) (res *model.CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during check: %v", r)
			m.log.Debug().Str("stack", string(debug.Stack())).Msg("recovered check panic")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	res, err = m.check(ctx, cycleID, inst)
	if err != nil && !errors.Is(err, alert.ErrNotWatched) {
		m.recordCheck(&recorder.CheckRecord{
			CycleID:    cycleID,
			Instrument: inst,
			CheckedAt:  m.now(),
			Error:      err.Error(),
		})
	}
	return res, err
}

func (m *Monitor) check(ctx context.Context, cycleID string, inst model.Instrument) (*model.CheckResult, error) {
	series, err := m.Fetcher.FetchDaily(ctx, inst.Exchange, inst.Symbol, m.cfg.MaxBars)
	if err != nil {
		return nil, err
	}
	cls, err := indicator.Latest(series)
	if err != nil {
		return nil, err
	}

	last := series.Last()
	change := series.Change24h()
	ev, err := m.Alerts.UpdateAndCheck(ctx, inst, cls.Trend, last.Close, change, series.RecentCloses(m.cfg.HistoryLen))
	if err != nil {
		return nil, err
	}

	res := &model.CheckResult{
		Instrument: inst,
		Trend:      cls.Trend,
		Price:      last.Close,
		Change24h:  change,
		BarTime:    last.Time,
		Event:      ev,
	}
	m.recordCheck(&recorder.CheckRecord{
		CycleID:    cycleID,
		Instrument: inst,
		Trend:      cls.Trend,
		Price:      last.Close,
		Change24h:  change,
		BarTime:    last.Time,
		CheckedAt:  m.now(),
	})

	m.log.Debug().
		Str("exchange", inst.Exchange).
		Str("symbol", inst.Symbol).
		Str("trend", cls.Trend.String()).
		Float64("price", last.Close).
		Msg("instrument checked")

	if ev != nil {
		m.onTransition(ctx, ev)
	}
	return res, nil
}

// onTransition runs after the new state is durable; nothing here can undo it.
func (m *Monitor) onTransition(ctx context.Context, ev *model.TransitionEvent) {
	m.log.Info().
		Str("exchange", ev.Instrument.Exchange).
		Str("symbol", ev.Instrument.Symbol).
		Str("old", ev.Old.String()).
		Str("new", ev.New.String()).
		Float64("price", ev.Price).
		Msg("trend transition")
	if m.Metrics != nil {
		m.Metrics.ObserveTransition(ev)
	}
	if err := m.Recorder.RecordTransition(ev); err != nil {
		m.log.Warn().Err(err).Msg("record transition")
	}
	subject, body := notifier.FormatTransition(*ev)
	m.notify(ctx, subject, body)
}

func (m *Monitor) recordCheck(rec *recorder.CheckRecord) {
	if err := m.Recorder.RecordCheck(rec); err != nil {
		m.log.Warn().Err(err).Msg("record check")
	}
}

// notify delivers best-effort: failures are logged and counted, never retried.
func (m *Monitor) notify(ctx context.Context, subject, body string) bool {
	if err := m.Notifier.Notify(ctx, subject, body); err != nil {
		m.log.Error().Err(err).Str("subject", subject).Msg("notification failed")
		if m.Metrics != nil {
			m.Metrics.IncNotifyFailure()
		}
		return false
	}
	return true
}
