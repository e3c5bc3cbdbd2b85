package task

import "time"

// Timer is a one-shot deadline used by tasks to suspend for a duration.
// The zero value is unarmed.
type Timer struct {
	until time.Duration
	armed bool
}

// Set arms the timer to expire d after now.
func (t *Timer) Set(now, d time.Duration) {
	t.until = now + d
	t.armed = true
}

// Armed reports whether Set has been called since the last Reset.
func (t *Timer) Armed() bool { return t.armed }

// Done reports whether the timer is armed and has expired.
func (t *Timer) Done(now time.Duration) bool {
	return t.armed && now >= t.until
}

// Reset disarms the timer.
func (t *Timer) Reset() { t.armed = false }

// Until returns a task that finishes on the first tick pred holds, then calls
// then (which may be nil).
func Until(pred func() bool, then func()) Task {
	return Func(func(time.Duration) bool {
		if !pred() {
			return false
		}
		if then != nil {
			then()
		}
		return true
	})
}

// Delay returns a task that waits d from its first step, then calls then.
func Delay(d time.Duration, then func()) Task {
	var t Timer
	return Func(func(now time.Duration) bool {
		if !t.Armed() {
			t.Set(now, d)
		}
		if !t.Done(now) {
			return false
		}
		if then != nil {
			then()
		}
		return true
	})
}
