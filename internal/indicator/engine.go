package indicator

import (
	"errors"
	"fmt"

	"TrendSentinel/internal/model"
)

// Band window lengths, shortest first.
const (
	FastLength    = 15
	MidFastLength = 19
	MidSlowLength = 25
	SlowLength    = 29
)

// MinSeriesLength is the shortest series Classify accepts.
const MinSeriesLength = SlowLength + 1

// ErrInsufficientData is returned when a series is too short to classify.
var ErrInsufficientData = errors.New("insufficient data")

// Classify computes the band classification for every bar of the series.
// Bars before all four bands exist are returned with Ready=false.
func Classify(series model.Series) ([]model.Classification, error) {
	if len(series) < MinSeriesLength {
		return nil, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientData, len(series), MinSeriesLength)
	}

	mids := make([]float64, len(series))
	for i, b := range series {
		mids[i] = b.Mid()
	}

	v1, err := SMMA(mids, FastLength)
	if err != nil {
		return nil, err
	}
	m1, err := SMMA(mids, MidFastLength)
	if err != nil {
		return nil, err
	}
	m2, err := SMMA(mids, MidSlowLength)
	if err != nil {
		return nil, err
	}
	v2, err := SMMA(mids, SlowLength)
	if err != nil {
		return nil, err
	}

	out := make([]model.Classification, len(series))
	for i, b := range series {
		c := model.Classification{Time: b.Time, V1: v1[i], M1: m1[i], M2: m2[i], V2: v2[i]}
		if i >= SlowLength-1 {
			classifyBands(&c)
		}
		out[i] = c
	}
	return out, nil
}

// classifyBands sets the pattern flags; exactly one of them ends up true.
func classifyBands(c *model.Classification) {
	fastBelowSlow := c.V1 < c.V2
	c.IsTransition = (c.V1 < c.M1) != fastBelowSlow || (c.M2 < c.V2) != fastBelowSlow
	c.IsBearish = !c.IsTransition && fastBelowSlow
	c.IsBullish = !c.IsTransition && !c.IsBearish

	switch {
	case c.IsBullish:
		c.Trend = model.TrendBullish
	case c.IsTransition:
		c.Trend = model.TrendTransition
	default:
		c.Trend = model.TrendBearish
	}
	c.Ready = true
}

// Latest classifies the series and returns the classification of its last bar.
func Latest(series model.Series) (model.Classification, error) {
	classes, err := Classify(series)
	if err != nil {
		return model.Classification{}, err
	}
	return classes[len(classes)-1], nil
}

// DetectSignals emits BUY when the trend turns Bullish and SELL when it turns
// Bearish. The first ready bar has nothing to compare with and never emits.
func DetectSignals(classes []model.Classification) []model.Signal {
	var signals []model.Signal
	var prev model.Trend
	seen := false
	for i, c := range classes {
		if !c.Ready {
			continue
		}
		if seen && c.Trend != prev {
			switch c.Trend {
			case model.TrendBullish:
				signals = append(signals, model.Signal{Index: i, Time: c.Time, Kind: model.SignalBuy})
			case model.TrendBearish:
				signals = append(signals, model.Signal{Index: i, Time: c.Time, Kind: model.SignalSell})
			}
		}
		prev = c.Trend
		seen = true
	}
	return signals
}
