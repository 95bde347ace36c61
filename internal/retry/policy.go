// Package retry decides whether a failed attempt gets another try.
//
// The policy is a pure function of the attempt count. It deliberately does not
// inspect the failure kind: a timeout, an auth rejection, and a non-zero exit
// all burn retries the same way, and the run summary carries the kind for the
// operator to judge.
package retry

import "time"

// Policy configures the attempt/delay schedule. Step = 0 gives a fixed delay
// between attempts; Step > 0 increases the delay linearly, capped at MaxDelay.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Step       time.Duration
	MaxDelay   time.Duration
}

type Decision struct {
	GiveUp bool
	After  time.Duration
}

// Next returns the decision after the attempts-th failed attempt (attempts
// starts at 1). A target gets at most MaxRetries+1 attempts in total.
func (p Policy) Next(attempts int) Decision {
	if attempts > p.MaxRetries {
		return Decision{GiveUp: true}
	}

	delay := p.Delay
	if p.Step > 0 && attempts > 1 {
		delay += time.Duration(attempts-1) * p.Step
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return Decision{After: delay}
}

// MaxAttempts is the total attempt budget per target.
func (p Policy) MaxAttempts() int { return p.MaxRetries + 1 }
