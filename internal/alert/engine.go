// Package alert keeps the last known trend of every instrument and reports
// transitions between checks.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"TrendSentinel/internal/model"
	"TrendSentinel/internal/store"
	"TrendSentinel/internal/watchlist"
)

// DefaultHistoryLen is the number of recent closes kept per instrument.
const DefaultHistoryLen = 7

// PersistenceError reports that the state store could not be read or written.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrNotWatched is returned by UpdateAndCheck when the guard reports that the
// instrument left the watchlist while it was being checked. Nothing is written.
var ErrNotWatched = errors.New("instrument is no longer watched")

// WatchGuard reports whether inst is still watched.
type WatchGuard func(ctx context.Context, inst model.Instrument) (bool, error)

type keyLock struct {
	sync.Mutex
	refs int
}

// Engine compares fresh trends with persisted state, one writer per instrument.
type Engine struct {
	store      store.Store
	historyLen int
	now        func() time.Time
	watched    WatchGuard

	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewEngine creates an engine over s. historyLen <= 0 selects DefaultHistoryLen.
func NewEngine(s store.Store, historyLen int) *Engine {
	if historyLen <= 0 {
		historyLen = DefaultHistoryLen
	}
	return &Engine{
		store:      s,
		historyLen: historyLen,
		now:        time.Now,
		locks:      make(map[string]*keyLock),
	}
}

// SetClock overrides the timestamp source for LastCheck.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetWatchGuard makes UpdateAndCheck skip instruments the guard no longer
// reports as watched. The guard runs under the instrument's key lock.
func (e *Engine) SetWatchGuard(g WatchGuard) { e.watched = g }

// acquire locks key. Entries are dropped once no caller holds or waits on them.
func (e *Engine) acquire(key string) *keyLock {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &keyLock{}
		e.locks[key] = l
	}
	l.refs++
	e.mu.Unlock()

	l.Lock()
	return l
}

func (e *Engine) release(key string, l *keyLock) {
	l.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if l.refs--; l.refs == 0 {
		delete(e.locks, key)
	}
}

// UpdateAndCheck stores the new state of inst and returns a transition event
// when a previous trend was stored and differs from newTrend. The state is
// written before the event is returned, so re-running with the same trend
// never produces a second event.
func (e *Engine) UpdateAndCheck(ctx context.Context, inst model.Instrument, newTrend model.Trend,
	price, change24h float64, recentCloses []float64) (*model.TransitionEvent, error) {
	key := watchlist.StateKey(inst)
	l := e.acquire(key)
	defer e.release(key, l)

	if e.watched != nil {
		ok, err := e.watched(ctx, inst)
		if err != nil {
			return nil, &PersistenceError{Op: "membership", Key: key, Err: err}
		}
		if !ok {
			return nil, ErrNotWatched
		}
	}

	prev, err := e.read(ctx, key)
	if err != nil {
		return nil, err
	}

	history := recentCloses
	if len(history) > e.historyLen {
		history = history[len(history)-e.historyLen:]
	}
	now := e.now()
	next := model.InstrumentState{
		Trend:     newTrend,
		Price:     price,
		Change24h: change24h,
		History:   append([]float64(nil), history...),
		LastCheck: now,
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode state %s: %w", key, err)
	}
	if err := e.store.Set(ctx, key, raw); err != nil {
		return nil, &PersistenceError{Op: "write", Key: key, Err: err}
	}

	if prev == nil || prev.Trend == newTrend {
		return nil, nil
	}
	return &model.TransitionEvent{
		Instrument: inst,
		Old:        prev.Trend,
		New:        newTrend,
		Price:      price,
		Time:       now,
	}, nil
}

// read returns nil when no usable state is stored for key.
func (e *Engine) read(ctx context.Context, key string) (*model.InstrumentState, error) {
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Key: key, Err: err}
	}
	if !ok {
		return nil, nil
	}
	var st model.InstrumentState
	if err := json.Unmarshal(raw, &st); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding unreadable instrument state")
		return nil, nil
	}
	return &st, nil
}

// State returns the persisted state of inst, or nil if it was never checked.
func (e *Engine) State(ctx context.Context, inst model.Instrument) (*model.InstrumentState, error) {
	return e.read(ctx, watchlist.StateKey(inst))
}

// Forget deletes the persisted state of inst.
func (e *Engine) Forget(ctx context.Context, inst model.Instrument) error {
	key := watchlist.StateKey(inst)
	l := e.acquire(key)
	defer e.release(key, l)
	return e.forget(ctx, key)
}

// Unwatch runs unlist and, when it reports a removal, purges the state of
// inst. Both happen under the key lock, so a check of inst that is still in
// flight either finishes before the purge or sees that inst is gone.
func (e *Engine) Unwatch(ctx context.Context, inst model.Instrument, unlist func() (bool, error)) (bool, error) {
	key := watchlist.StateKey(inst)
	l := e.acquire(key)
	defer e.release(key, l)

	removed, err := unlist()
	if err != nil || !removed {
		return removed, err
	}
	return true, e.forget(ctx, key)
}

func (e *Engine) forget(ctx context.Context, key string) error {
	if err := e.store.Delete(ctx, key); err != nil {
		return &PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}
