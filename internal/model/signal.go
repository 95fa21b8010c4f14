package model

import (
	"fmt"
	"strings"
	"time"
)

// Trend is the three-state classification of a bar.
type Trend int

const (
	TrendBullish Trend = iota + 1
	TrendTransition
	TrendBearish
)

func (t Trend) String() string {
	switch t {
	case TrendBullish:
		return "bullish"
	case TrendTransition:
		return "transition"
	case TrendBearish:
		return "bearish"
	default:
		return "unknown"
	}
}

// Color is the chart color traditionally used for the trend band.
func (t Trend) Color() string {
	switch t {
	case TrendBullish:
		return "orange"
	case TrendTransition:
		return "silver"
	case TrendBearish:
		return "navy"
	default:
		return "unknown"
	}
}

// ParseTrend accepts either the trend name or its band color.
func ParseTrend(s string) (Trend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "orange":
		return TrendBullish, nil
	case "transition", "silver":
		return TrendTransition, nil
	case "bearish", "navy":
		return TrendBearish, nil
	}
	return 0, fmt.Errorf("unknown trend %q", s)
}

func (t Trend) MarshalText() ([]byte, error) {
	if t < TrendBullish || t > TrendBearish {
		return nil, fmt.Errorf("invalid trend %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Trend) UnmarshalText(b []byte) error {
	v, err := ParseTrend(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Classification is the indicator output for a single bar.
type Classification struct {
	Time time.Time

	// Smoothed midpoint bands, shortest window first. NaN until Ready.
	V1 float64
	M1 float64
	M2 float64
	V2 float64

	IsTransition bool
	IsBearish    bool
	IsBullish    bool

	Trend Trend
	Ready bool
}

// SignalKind is the direction of an edge-triggered signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
)

// Signal marks the bar on which the trend entered Bullish or Bearish.
type Signal struct {
	Index int
	Time  time.Time
	Kind  SignalKind
}
