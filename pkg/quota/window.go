package quota

import (
	"fmt"
	"time"
)

// Window is a fixed calendar period
type Window string

const (
	Daily   Window = "daily"
	Monthly Window = "monthly"
)

// Start returns the start of the window containing t in loc, as UTC
func (w Window) Start(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	switch w {
	case Monthly:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).UTC()
	default:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
	}
}

// End returns the exclusive end of the window containing t
func (w Window) End(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	start := w.Start(t, loc).In(loc)
	switch w {
	case Monthly:
		return start.AddDate(0, 1, 0).UTC()
	default:
		return start.AddDate(0, 0, 1).UTC()
	}
}

// Validate checks the window is known
func (w Window) Validate() error {
	switch w {
	case Daily, Monthly:
		return nil
	}
	return fmt.Errorf("unknown window %q", w)
}
