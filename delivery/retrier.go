package delivery

import "time"

// DefaultRetrySchedule is the backoff after the 1st through 5th failed
// attempt. The 6th failure dead-letters the delivery.
var DefaultRetrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the subscriber answered 2xx.
	Delivered Decision = iota

	// Retry means another attempt is scheduled.
	Retry

	// Dead means the retry budget is exhausted.
	Dead
)

func (d Decision) String() string {
	switch d {
	case Delivered:
		return "success"
	case Retry:
		return "retry"
	default:
		return "dead"
	}
}

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// OK reports whether the attempt got a 2xx response.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Retrier applies a fixed backoff schedule.
type Retrier struct {
	schedule []time.Duration
}

// NewRetrier creates a retrier with the given backoff schedule.
func NewRetrier(schedule []time.Duration) *Retrier {
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	return &Retrier{schedule: schedule}
}

// MaxAttempts is the number of attempts before a delivery goes dead.
func (r *Retrier) MaxAttempts() int {
	return len(r.schedule) + 1
}

// Decide classifies an attempt given the attempt count after it.
//
//   - 2xx → Delivered
//   - anything else (non-2xx, timeout, transport error) → Retry while
//     attempts ≤ len(schedule), else Dead
func (r *Retrier) Decide(res Result, attempts int) Decision {
	if res.OK() {
		return Delivered
	}
	if _, ok := r.Delay(attempts); ok {
		return Retry
	}
	return Dead
}

// Delay returns the wait after the given failed attempt (1-indexed), or
// false once the schedule is exhausted.
func (r *Retrier) Delay(attempts int) (time.Duration, bool) {
	if attempts < 1 || attempts > len(r.schedule) {
		return 0, false
	}
	return r.schedule[attempts-1], true
}
