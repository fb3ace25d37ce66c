package progress

import "time"

const (
	DefaultTickInterval = 200 * time.Millisecond
	DefaultStep         = 10
	// DefaultCeiling keeps simulated progress below 100 until the request
	// actually completes.
	DefaultCeiling = 90
)

// Estimator produces indeterminate progress for a request that reports no
// progress of its own. Values are a display affordance, not bytes transferred.
type Estimator interface {
	Interval() time.Duration
	Next(current int) int
}

// TickingEstimator advances a fixed step per interval up to a ceiling.
type TickingEstimator struct {
	every   time.Duration
	step    int
	ceiling int
}

func NewTickingEstimator(every time.Duration) *TickingEstimator {
	if every <= 0 {
		every = DefaultTickInterval
	}
	return &TickingEstimator{
		every:   every,
		step:    DefaultStep,
		ceiling: DefaultCeiling,
	}
}

func (e *TickingEstimator) Interval() time.Duration {
	return e.every
}

func (e *TickingEstimator) Next(current int) int {
	if current >= e.ceiling {
		return current
	}
	next := current + e.step
	if next > e.ceiling {
		next = e.ceiling
	}
	return next
}
