// Package symbols maintains a searchable catalogue of the markets every
// provider can serve.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/model"
)

// DefaultLimit caps the number of search results.
const DefaultLimit = 20

// State is the lifecycle of the catalogue.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// snapshot is never modified after it is published.
type snapshot struct {
	entries []model.SymbolEntry
	keys    []string // normalized symbol, aligned with entries
	bases   []string
	lookup  map[string]int
	builtAt time.Time
}

func normalize(s string) string {
	return strings.NewReplacer("/", "", ":", "", "-", "", "_", "", " ", "").Replace(strings.ToUpper(s))
}

func lookupKey(provider, symbol string) string {
	return strings.ToLower(provider) + "|" + strings.ToUpper(strings.TrimSpace(symbol))
}

func buildSnapshot(entries []model.SymbolEntry, at time.Time) *snapshot {
	s := &snapshot{
		entries: entries,
		keys:    make([]string, len(entries)),
		bases:   make([]string, len(entries)),
		lookup:  make(map[string]int, len(entries)),
		builtAt: at,
	}
	for i, e := range entries {
		s.keys[i] = normalize(e.Symbol)
		s.bases[i] = normalize(e.Base)
		k := lookupKey(e.Provider, e.Symbol)
		if _, dup := s.lookup[k]; !dup {
			s.lookup[k] = i
		}
	}
	return s
}

// Config tunes an Index.
type Config struct {
	Limit       int           // max search results, default 20
	ListTimeout time.Duration // per-provider listing timeout, default 60s
}

// Index serves searches from an immutable snapshot that refreshes replace wholesale.
type Index struct {
	listers []collector.SymbolLister
	limit   int
	timeout time.Duration

	mu    sync.RWMutex
	snap  *snapshot
	state State

	flight singleflight.Group
	onSize func(int)
}

// NewIndex creates an empty index over the given listers. Scan order follows listers.
func NewIndex(listers []collector.SymbolLister, cfg Config) *Index {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 60 * time.Second
	}
	return &Index{
		listers: listers,
		limit:   cfg.Limit,
		timeout: cfg.ListTimeout,
		snap:    buildSnapshot(nil, time.Time{}),
	}
}

// SetSizeObserver registers a callback invoked with the entry count after each publish.
func (x *Index) SetSizeObserver(fn func(int)) { x.onSize = fn }

// State reports the catalogue lifecycle.
func (x *Index) State() State {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state
}

// Size returns the number of entries in the current snapshot.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.snap.entries)
}

// Search matches query case-insensitively against symbols and base assets,
// ignoring separators. While the first load is still running a single
// model.PendingEntry is returned instead.
func (x *Index) Search(query string) []model.SymbolEntry {
	q := normalize(query)
	if q == "" {
		return []model.SymbolEntry{}
	}

	x.mu.RLock()
	snap, state := x.snap, x.state
	x.mu.RUnlock()

	if state == StateLoading && len(snap.entries) == 0 {
		return []model.SymbolEntry{model.PendingEntry}
	}

	out := make([]model.SymbolEntry, 0, x.limit)
	for i, e := range snap.entries {
		if strings.Contains(snap.keys[i], q) || strings.Contains(snap.bases[i], q) {
			out = append(out, e)
			if len(out) == x.limit {
				break
			}
		}
	}
	return out
}

// Lookup reports whether provider lists symbol.
func (x *Index) Lookup(provider, symbol string) (model.SymbolEntry, bool) {
	x.mu.RLock()
	snap := x.snap
	x.mu.RUnlock()
	i, ok := snap.lookup[lookupKey(provider, symbol)]
	if !ok {
		return model.SymbolEntry{}, false
	}
	return snap.entries[i], true
}

// Refresh lists every provider and publishes the combined catalogue. Failing
// providers are logged and skipped. Concurrent calls share one refresh.
func (x *Index) Refresh(ctx context.Context) error {
	_, err, _ := x.flight.Do("refresh", func() (any, error) {
		return nil, x.refresh(ctx)
	})
	return err
}

// RefreshAsync starts a refresh in the background.
func (x *Index) RefreshAsync(ctx context.Context) {
	go func() {
		if err := x.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("symbol index refresh failed")
		}
	}()
}

// Run refreshes immediately and then every interval until ctx is done.
func (x *Index) Run(ctx context.Context, interval time.Duration) {
	if err := x.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("symbol index refresh failed")
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := x.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("symbol index refresh failed")
			}
		}
	}
}

func (x *Index) refresh(ctx context.Context) error {
	x.mu.Lock()
	prevState := x.state
	x.state = StateLoading
	x.mu.Unlock()

	start := time.Now()
	results := make([][]model.SymbolEntry, len(x.listers))
	errs := make([]error, len(x.listers))

	var g errgroup.Group
	for i, l := range x.listers {
		i, l := i, l
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, x.timeout)
			defer cancel()
			entries, err := l.ListSymbols(lctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", l.Name(), err)
				log.Warn().Err(err).Str("provider", l.Name()).Msg("symbol listing failed, skipping provider")
				return nil
			}
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	var all []model.SymbolEntry
	for _, r := range results {
		all = append(all, r...)
	}

	x.mu.Lock()
	if len(all) > 0 {
		x.snap = buildSnapshot(all, time.Now())
		x.state = StateReady
	} else if len(x.snap.entries) > 0 {
		x.state = StateReady
	} else {
		x.state = StateEmpty
	}
	size := len(x.snap.entries)
	x.mu.Unlock()

	if x.onSize != nil {
		x.onSize(size)
	}
	log.Info().
		Int("entries", size).
		Str("previous_state", prevState.String()).
		Dur("took", time.Since(start)).
		Msg("symbol index refreshed")

	if len(all) == 0 {
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("no provider listed any symbol: %w", err)
		}
	}
	return nil
}
