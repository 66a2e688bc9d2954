package backoff

import "time"

// Gate rate-limits reconnect attempts after consecutive failures so a downed
// backend is not hammered by every caller. It is not safe for concurrent use;
// owners guard it with their own mutex.
type Gate struct {
	Base time.Duration
	Cap  time.Duration

	// Jitter spreads the delay. Nil uses FullJitter.
	Jitter func(time.Duration) time.Duration

	attempts    int
	lastAttempt time.Time

	now func() time.Time
}

// NewGate builds a Gate with the given base delay and cap.
func NewGate(base, capDelay time.Duration) *Gate {
	return &Gate{Base: base, Cap: capDelay}
}

// Allow reports whether a new attempt may start now. When it may not, the
// remaining wait is returned.
func (g *Gate) Allow() (time.Duration, bool) {
	if g.attempts == 0 {
		return 0, true
	}

	delay := g.jitterFn()(Exponential(g.Base, g.attempts))
	if g.Cap > 0 && delay > g.Cap {
		delay = g.Cap
	}

	elapsed := g.nowFn()().Sub(g.lastAttempt)
	if elapsed < delay {
		return delay - elapsed, false
	}

	return 0, true
}

// Begin records the start of an attempt.
func (g *Gate) Begin() {
	g.lastAttempt = g.nowFn()()
}

// Fail records a failed attempt.
func (g *Gate) Fail() {
	g.attempts++
}

// Succeed resets the failure count.
func (g *Gate) Succeed() {
	g.attempts = 0
}

// Failures returns the number of consecutive failures.
func (g *Gate) Failures() int {
	return g.attempts
}

func (g *Gate) nowFn() func() time.Time {
	if g.now != nil {
		return g.now
	}

	return time.Now
}

func (g *Gate) jitterFn() func(time.Duration) time.Duration {
	if g.Jitter != nil {
		return g.Jitter
	}

	return FullJitter
}
