// Package clock abstracts the timer operations used by the sync agents so
// debounce and polling behavior can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source injected into agents. Production code uses Real();
// tests use NewFake.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once d has elapsed. The real clock runs f in its own
	// goroutine; the fake clock runs it from Advance.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call. It returns false if the call already ran or
	// was already stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
