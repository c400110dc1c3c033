// Package clock provides the time source used by the scoring engine and
// the decay task. Production code uses the system clock; tests inject a
// fixed one so score arithmetic is reproducible.
package clock

import "time"

// Clock yields the current UTC time.
type Clock interface {
	Now() time.Time
}

// System returns a Clock backed by the wall clock, always UTC.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Fixed returns a Clock frozen at the given instant.
func Fixed(t time.Time) Clock { return fixedClock{t: t.UTC()} }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
