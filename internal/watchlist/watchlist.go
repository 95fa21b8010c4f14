// Package watchlist manages the ordered list of monitored instruments.
package watchlist

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"TrendSentinel/internal/model"
	"TrendSentinel/internal/store"
)

const assetsKey = "assets"

// StateKey is the store key holding the persisted state of inst.
func StateKey(inst model.Instrument) string {
	return "state:" + inst.Key()
}

// Watchlist reads and writes the instrument list kept under the "assets" key.
type Watchlist struct {
	store store.Store
	mu    sync.Mutex
}

func New(s store.Store) *Watchlist {
	return &Watchlist{store: s}
}

// List returns the instruments in insertion order. A missing list is empty.
func (w *Watchlist) List(ctx context.Context) ([]model.Instrument, error) {
	list, _, err := w.load(ctx)
	return list, err
}

func (w *Watchlist) load(ctx context.Context) ([]model.Instrument, bool, error) {
	raw, ok, err := w.store.Get(ctx, assetsKey)
	if err != nil {
		return nil, false, fmt.Errorf("load watchlist: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var list []model.Instrument
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, true, fmt.Errorf("decode watchlist: %w", err)
	}
	return list, true, nil
}

func (w *Watchlist) save(ctx context.Context, list []model.Instrument) error {
	if list == nil {
		list = []model.Instrument{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode watchlist: %w", err)
	}
	if err := w.store.Set(ctx, assetsKey, raw); err != nil {
		return fmt.Errorf("save watchlist: %w", err)
	}
	return nil
}

// Contains reports whether inst is listed.
func (w *Watchlist) Contains(ctx context.Context, inst model.Instrument) (bool, error) {
	list, _, err := w.load(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range list {
		if existing.Key() == inst.Key() {
			return true, nil
		}
	}
	return false, nil
}

// Add appends inst unless it is already listed. It reports whether the list changed.
func (w *Watchlist) Add(ctx context.Context, inst model.Instrument) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	list, _, err := w.load(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range list {
		if existing.Key() == inst.Key() {
			return false, nil
		}
	}
	if err := w.save(ctx, append(list, inst)); err != nil {
		return false, err
	}
	return true, nil
}

// Remove drops inst and its persisted state. It reports whether inst was listed.
func (w *Watchlist) Remove(ctx context.Context, inst model.Instrument) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	list, _, err := w.load(ctx)
	if err != nil {
		return false, err
	}
	kept := list[:0]
	found := false
	for _, existing := range list {
		if existing.Key() == inst.Key() {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return false, nil
	}
	if err := w.save(ctx, kept); err != nil {
		return false, err
	}
	if err := w.store.Delete(ctx, StateKey(inst)); err != nil {
		return true, fmt.Errorf("purge state: %w", err)
	}
	return true, nil
}

// Seed writes defaults when no list has ever been stored and reports whether it did.
// An explicitly emptied list is left alone.
func (w *Watchlist) Seed(ctx context.Context, defaults []model.Instrument) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, exists, err := w.load(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := w.save(ctx, dedupe(defaults)); err != nil {
		return false, err
	}
	return true, nil
}

func dedupe(list []model.Instrument) []model.Instrument {
	seen := make(map[string]bool, len(list))
	out := make([]model.Instrument, 0, len(list))
	for _, inst := range list {
		if seen[inst.Key()] {
			continue
		}
		seen[inst.Key()] = true
		out = append(out, inst)
	}
	return out
}
