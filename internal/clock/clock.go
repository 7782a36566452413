// Package clock abstracts time for deterministic tests.
package clock

import "time"

// Clock supplies the current time and sleeps, so retry loops and visit
// timestamps can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the real clock.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// Sleep pauses the calling goroutine.
func (System) Sleep(d time.Duration) { time.Sleep(d) }
