package recorder

import "TrendSentinel/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordCheck(_ *CheckRecord) error                { return nil }
func (n *NoopRecorder) RecordTransition(_ *model.TransitionEvent) error { return nil }
func (n *NoopRecorder) RecordCycle(_ *model.CycleReport) error          { return nil }
func (n *NoopRecorder) Close() error                                    { return nil }

func (n *NoopRecorder) History(_ model.Instrument, _ int) ([]CheckRecord, error) {
	return nil, nil
}
