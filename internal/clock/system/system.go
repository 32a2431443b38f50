// Package system provides a real clock implementation.
package system

import "time"

// Clock implements ingest.Clock using the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since start.
func (c Clock) Since(start time.Time) time.Duration {
	return c.Now().Sub(start)
}
