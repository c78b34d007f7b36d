// Package system provides wall and fixed clocks for the crawler.
package system

import "time"

// Clock reports the current time in a configured zone.
type Clock struct {
	loc *time.Location
}

// New creates a Clock that reports UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewInZone creates a Clock for the named IANA zone. An empty name means UTC.
func NewInZone(name string) (*Clock, error) {
	if name == "" {
		return New(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Fixed always reports the same instant. Tests inject it wherever "today"
// matters.
type Fixed struct {
	At time.Time
}

// Now implements crawler.Clock.
func (f Fixed) Now() time.Time {
	return f.At
}
