package probe

import "sync"

// Tracker counts consecutive probe failures for one backend. A backend is
// condemned only after threshold consecutive failures; a single success
// resets the count.
type Tracker struct {
	mutex     sync.Mutex
	failures  int
	threshold int
}

func NewTracker(threshold int) *Tracker {
	return &Tracker{
		threshold: threshold,
	}
}

// RecordFailure counts one failed probe.
// Returns true while the consecutive failure count is at or past the
// threshold, i.e. the backend should be reported unhealthy.
func (t *Tracker) RecordFailure() (condemned bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.failures++
	return t.failures >= t.threshold
}

// RecordSuccess resets the consecutive failure count.
func (t *Tracker) RecordSuccess() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.failures = 0
}

// Failures returns the current consecutive failure count.
func (t *Tracker) Failures() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.failures
}
