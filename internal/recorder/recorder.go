package recorder

import (
	"time"

	"TrendSentinel/internal/model"
)

// CheckRecord is one instrument check as stored in the history.
type CheckRecord struct {
	CycleID    string
	Instrument model.Instrument
	Trend      model.Trend // zero when the check failed
	Price      float64
	Change24h  float64
	BarTime    time.Time
	CheckedAt  time.Time
	Error      string
}

// Recorder persists historical data for the dashboard and analysis.
type Recorder interface {
	RecordCheck(rec *CheckRecord) error
	RecordTransition(ev *model.TransitionEvent) error
	RecordCycle(report *model.CycleReport) error
	// History returns the latest checks of inst, newest first.
	History(inst model.Instrument, limit int) ([]CheckRecord, error)
	Close() error
}
