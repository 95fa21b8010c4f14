package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/notifier"
	"TrendSentinel/internal/symbols"
)

var validate = validator.New()

// NormalizeInstrument lowercases the exchange and uppercases the symbol.
func NormalizeInstrument(inst model.Instrument) model.Instrument {
	return model.Instrument{
		Exchange: strings.ToLower(strings.TrimSpace(inst.Exchange)),
		Symbol:   strings.ToUpper(strings.TrimSpace(inst.Symbol)),
	}
}

// Install seeds the watchlist on first run and announces the installation.
// It reports whether this was the first run.
func (m *Monitor) Install(ctx context.Context, defaults []model.Instrument) (bool, error) {
	normalized := make([]model.Instrument, 0, len(defaults))
	for _, inst := range defaults {
		normalized = append(normalized, NormalizeInstrument(inst))
	}
	seeded, err := m.Watchlist.Seed(ctx, normalized)
	if err != nil {
		return false, fmt.Errorf("seed watchlist: %w", err)
	}
	if !seeded {
		m.log.Info().Msg("existing watchlist found, skipping install notification")
		return false, nil
	}
	m.log.Info().Int("instruments", len(normalized)).Msg("first run, watchlist seeded")
	list, err := m.Watchlist.List(ctx)
	if err != nil {
		return true, fmt.Errorf("read seeded watchlist: %w", err)
	}
	subject, body := notifier.FormatInstalled(list)
	m.notify(ctx, subject, body)
	return true, nil
}

// AddInstrument validates inst against the registry and, when the symbol
// catalogue is ready, against the provider's listing. A new instrument is
// checked in the background right away. It reports whether inst was added.
func (m *Monitor) AddInstrument(ctx context.Context, inst model.Instrument) (bool, error) {
	inst = NormalizeInstrument(inst)
	if err := validate.Struct(inst); err != nil {
		return false, fmt.Errorf("invalid instrument: %w", err)
	}
	p, err := m.Registry.Get(inst.Exchange)
	if err != nil {
		return false, err
	}
	if _, lists := p.(collector.SymbolLister); lists && m.Index != nil && m.Index.State() == symbols.StateReady {
		if _, ok := m.Index.Lookup(inst.Exchange, inst.Symbol); !ok {
			return false, fmt.Errorf("%w: %s on %s", collector.ErrUnknownSymbol, inst.Symbol, inst.Exchange)
		}
	}

	added, err := m.Watchlist.Add(ctx, inst)
	if err != nil || !added {
		return false, err
	}
	m.log.Info().Str("exchange", inst.Exchange).Str("symbol", inst.Symbol).Msg("instrument added")

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if _, err := m.CheckInstrument(context.WithoutCancel(ctx), inst); err != nil {
			m.log.Warn().Err(err).Str("exchange", inst.Exchange).Str("symbol", inst.Symbol).
				Msg("initial check of new instrument failed")
		}
	}()
	return true, nil
}

// RemoveInstrument drops inst from the watchlist and purges its state. A check
// of inst still in flight cannot write the state back afterwards.
func (m *Monitor) RemoveInstrument(ctx context.Context, inst model.Instrument) (bool, error) {
	inst = NormalizeInstrument(inst)
	removed, err := m.Alerts.Unwatch(ctx, inst, func() (bool, error) {
		return m.Watchlist.Remove(ctx, inst)
	})
	if err != nil || !removed {
		return removed, err
	}
	m.log.Info().Str("exchange", inst.Exchange).Str("symbol", inst.Symbol).Msg("instrument removed")
	return true, nil
}

// Search passes the query to the symbol catalogue.
func (m *Monitor) Search(query string) []model.SymbolEntry {
	if m.Index == nil {
		return []model.SymbolEntry{}
	}
	return m.Index.Search(query)
}

// Status returns every watched instrument with its persisted state.
func (m *Monitor) Status(ctx context.Context) ([]model.InstrumentStatus, error) {
	list, err := m.Watchlist.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]model.InstrumentStatus, 0, len(list))
	for _, inst := range list {
		st, err := m.Alerts.State(ctx, inst)
		if err != nil {
			return nil, err
		}
		rows = append(rows, model.InstrumentStatus{Instrument: inst, State: st})
	}
	return rows, nil
}

// RunWeeklySummary sends the digest of all instrument states together with the
// failed checks and degraded cycles counted since the previous digest.
func (m *Monitor) RunWeeklySummary(ctx context.Context) error {
	rows, err := m.Status(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("weekly summary: cannot read state")
		return err
	}

	m.mu.Lock()
	failed, degraded := m.failedChecks, m.degradedCycles
	m.mu.Unlock()

	subject, body := notifier.FormatWeeklySummary(rows, failed, degraded, m.now())
	if err := m.Notifier.Notify(ctx, subject, body); err != nil {
		m.log.Error().Err(err).Msg("weekly summary not delivered")
		if m.Metrics != nil {
			m.Metrics.IncNotifyFailure()
		}
		return err
	}

	m.mu.Lock()
	m.failedChecks -= failed
	m.degradedCycles -= degraded
	m.mu.Unlock()
	m.log.Info().Int("instruments", len(rows)).Msg("weekly summary sent")
	return nil
}
