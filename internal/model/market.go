package model

import (
	"time"
)

// Bar is one trading day of OHLCV data. Time is the UTC midnight that opens the day.
type Bar struct {
	Time   time.Time `json:"time" validate:"required"`
	Open   float64   `json:"open" validate:"finite,gt=0"`
	High   float64   `json:"high" validate:"finite,gt=0,gtefield=Low"`
	Low    float64   `json:"low" validate:"finite,gt=0"`
	Close  float64   `json:"close" validate:"finite,gt=0"`
	Volume float64   `json:"volume" validate:"finite,gte=0"`
}

// Mid returns the bar midpoint (high+low)/2.
func (b Bar) Mid() float64 {
	return (b.High + b.Low) / 2
}

// Series is a chronological run of daily bars without duplicate days.
type Series []Bar

// Closes extracts the close of every bar.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, b := range s {
		closes[i] = b.Close
	}
	return closes
}

// Last returns the most recent bar. It panics on an empty series.
func (s Series) Last() Bar {
	return s[len(s)-1]
}

// Change24h returns the percent change of the last close against the previous one.
func (s Series) Change24h() float64 {
	if len(s) < 2 {
		return 0
	}
	prev := s[len(s)-2].Close
	if prev == 0 {
		return 0
	}
	return (s[len(s)-1].Close - prev) / prev * 100
}

// RecentCloses returns up to n of the latest closes, oldest first.
func (s Series) RecentCloses(n int) []float64 {
	if n <= 0 {
		return nil
	}
	start := len(s) - n
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, len(s)-start)
	for _, b := range s[start:] {
		out = append(out, b.Close)
	}
	return out
}
