package stats

import (
	"context"
	"fmt"
	"time"

	"light-status-bot/internal/models"
)

// Compute integrates the transition log over [midnight, asOf) and returns
// uptime, downtime and the outage count for that window. openOn is the state
// in force at midnight; events must be the device's events at or after
// midnight in ascending order. Uptime + downtime always equals asOf-midnight.
func Compute(openOn bool, events []*models.StatusEvent, midnight, asOf time.Time) models.DailyStats {
	var s models.DailyStats

	// A window that opens without power carries over an outage from the
	// previous day; it is counted once, here.
	if !openOn {
		s.Outages = 1
	}

	prev := midnight
	on := openOn
	for _, e := range events {
		if e.Timestamp.After(asOf) {
			break
		}
		span := e.Timestamp.Sub(prev)
		if on {
			s.Uptime += span
		} else {
			s.Downtime += span
		}
		if on && !e.IsOnline {
			s.Outages++
		}
		on = e.IsOnline
		prev = e.Timestamp
	}

	// Trailing span from the last event (or midnight) up to asOf.
	if on {
		s.Uptime += asOf.Sub(prev)
	} else {
		s.Downtime += asOf.Sub(prev)
	}
	return s
}

// EventSource reads the transition log. *database.DB implements it.
// Events sharing a timestamp must come back in insertion order; the opening
// state of a day is inferred from the first event, so an unordered tie would
// flip the whole day's attribution.
type EventSource interface {
	LastEventBefore(ctx context.Context, deviceID int64, before time.Time) (*models.StatusEvent, error)
	EventsSince(ctx context.Context, deviceID int64, from time.Time) ([]*models.StatusEvent, error)
}

// Calculator derives same-day stats for a device from the transition log.
// It never mutates anything.
type Calculator struct {
	src EventSource
}

func NewCalculator(src EventSource) *Calculator {
	return &Calculator{src: src}
}

// Daily returns the device's uptime, downtime and outage count for the
// calendar day containing asOf in the device's timezone. It returns
// (nil, nil) when the device has no history and no known state yet.
func (c *Calculator) Daily(ctx context.Context, deviceID int64, timezone string, state models.PowerState, asOf time.Time) (*models.DailyStats, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	midnight := Midnight(asOf, loc)

	anchor, err := c.src.LastEventBefore(ctx, deviceID, midnight)
	if err != nil {
		return nil, fmt.Errorf("fetch anchor event: %w", err)
	}
	events, err := c.src.EventsSince(ctx, deviceID, midnight)
	if err != nil {
		return nil, fmt.Errorf("fetch day events: %w", err)
	}

	var openOn bool
	switch {
	case anchor != nil:
		openOn = anchor.IsOnline
	case len(events) > 0:
		// No event before midnight but transitions today: the state at
		// midnight is the opposite of the first transition of the day.
		openOn = !events[0].IsOnline
	case state == models.StateUnknown:
		// Never a heartbeat, never a transition: nothing to report.
		return nil, nil
	default:
		// State has been constant all day.
		openOn = state == models.StateOn
	}

	s := Compute(openOn, events, midnight, asOf)
	return &s, nil
}

// Midnight returns the start of t's calendar day in the given location.
func Midnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// AppendOpenPeriod closes an export: the transition log only records changes,
// so the current period has no end marker. A synthetic record carrying the
// current state at asOf is appended when the state is known.
func AppendOpenPeriod(events []*models.StatusEvent, d *models.Device, asOf time.Time) []*models.StatusEvent {
	if d.State == models.StateUnknown {
		return events
	}
	return append(events, &models.StatusEvent{
		DeviceID:  d.ID,
		IsOnline:  d.State == models.StateOn,
		Timestamp: asOf,
	})
}
