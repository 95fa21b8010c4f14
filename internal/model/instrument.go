package model

import (
	"fmt"
	"time"
)

// Instrument identifies a watched market on a provider, e.g. binance BTC/USDT.
type Instrument struct {
	Exchange string `json:"exchange" yaml:"exchange" validate:"required"`
	Symbol   string `json:"symbol" yaml:"symbol" validate:"required"`
}

// Key is the persistence identity "{exchange}_{symbol}".
func (i Instrument) Key() string {
	return i.Exchange + "_" + i.Symbol
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s %s", i.Exchange, i.Symbol)
}

// InstrumentState is the persisted result of the last check of an instrument.
type InstrumentState struct {
	Trend     Trend     `json:"color"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change_24h"`
	History   []float64 `json:"history"`
	LastCheck time.Time `json:"last_check"`
}

// TransitionEvent is emitted when a persisted trend changes.
type TransitionEvent struct {
	Instrument Instrument
	Old        Trend
	New        Trend
	Price      float64
	Time       time.Time
}

// SymbolKind classifies catalogue entries.
type SymbolKind string

const (
	KindSpot    SymbolKind = "spot"
	KindPerp    SymbolKind = "perp"
	KindEquity  SymbolKind = "equity"
	KindPending SymbolKind = "pending"
)

// SymbolEntry is one searchable instrument in the symbol catalogue.
type SymbolEntry struct {
	Provider string     `json:"exchange"`
	Symbol   string     `json:"symbol"`
	Base     string     `json:"base"`
	Quote    string     `json:"quote"`
	Kind     SymbolKind `json:"kind"`
}

// PendingEntry is returned by searches while the catalogue is still loading.
var PendingEntry = SymbolEntry{Symbol: "index loading, try again shortly", Kind: KindPending}
