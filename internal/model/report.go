package model

import "time"

// CheckResult is the outcome of one successful instrument check.
type CheckResult struct {
	Instrument Instrument
	Trend      Trend
	Price      float64
	Change24h  float64
	BarTime    time.Time
	Event      *TransitionEvent
}

// CycleReport summarizes one pass over the watchlist.
type CycleReport struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Checked     int
	Skipped     int // too little history
	Failed      int
	Transitions int
	Degraded    bool // persistence failed for at least one instrument
	Errors      map[string]string
}

// InstrumentStatus pairs a watched instrument with its last persisted state.
// State is nil when the instrument has not been checked yet.
type InstrumentStatus struct {
	Instrument Instrument
	State      *InstrumentState
}
