// Package feed manages the streaming market-data connection: trading-window
// gating, per-scrip subscription reference counting, and tick dispatch.
package feed

import (
	"fmt"
	"time"
)

// TradingWindow is a daily clock window in a fixed timezone. The window is
// inclusive of both its start and end minutes.
type TradingWindow struct {
	startHour, startMin int
	endHour, endMin     int
	loc                 *time.Location
}

// NewTradingWindow parses "HH:MM" start and end clocks in the named timezone.
func NewTradingWindow(start, end, timezone string) (TradingWindow, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return TradingWindow{}, fmt.Errorf("feed: load timezone %s: %w", timezone, err)
	}

	sh, sm, err := parseClock(start)
	if err != nil {
		return TradingWindow{}, fmt.Errorf("feed: parse window start %q: %w", start, err)
	}
	eh, em, err := parseClock(end)
	if err != nil {
		return TradingWindow{}, fmt.Errorf("feed: parse window end %q: %w", end, err)
	}

	return TradingWindow{
		startHour: sh, startMin: sm,
		endHour: eh, endMin: em,
		loc: loc,
	}, nil
}

// Contains reports whether t falls inside the window on its own day.
func (w TradingWindow) Contains(t time.Time) bool {
	local := t.In(w.loc)
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= w.startHour*60+w.startMin && minutes <= w.endHour*60+w.endMin
}

// Location returns the window's timezone.
func (w TradingWindow) Location() *time.Location {
	return w.loc
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
