// Package progress accounts for the bytes moved by a single transfer.
package progress

// Tracker accumulates byte increments into a running total.
// It is not safe for concurrent use; callers serialize access.
type Tracker struct {
	expected    int64 // 0 when unknown
	transferred int64
}

func NewTracker(expected int64) *Tracker {
	if expected < 0 {
		expected = 0
	}

	return &Tracker{expected: expected}
}

// Add records an increment. Non-positive increments are ignored so the total never decreases.
// It reports whether the total overran the expected length, in which case the expectation
// is raised to the new total.
func (t *Tracker) Add(n int64) (corrected bool) {
	if n <= 0 {
		return false
	}

	t.transferred += n

	if t.expected > 0 && t.transferred > t.expected {
		t.expected = t.transferred

		return true
	}

	return false
}

// SetExpected fills in the expected length once the transport reports it.
// A known expectation is never replaced.
func (t *Tracker) SetExpected(n int64) bool {
	if n <= 0 || t.expected > 0 {
		return false
	}

	t.expected = n

	return true
}

func (t *Tracker) Transferred() int64 {
	return t.transferred
}

func (t *Tracker) Expected() int64 {
	return t.expected
}

// Ratio returns the completion ratio, capped at 1, when the expected length is known.
func (t *Tracker) Ratio() (float64, bool) {
	if t.expected <= 0 {
		return 0, false
	}

	r := float64(t.transferred) / float64(t.expected)
	if r > 1 {
		r = 1
	}

	return r, true
}
