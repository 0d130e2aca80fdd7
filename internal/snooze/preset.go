// Package snooze computes wake times from presets and moves items between
// the Active and Snoozed states.
package snooze

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesm/argh/internal/models"
)

// IsIndefinite reports whether p snoozes until a manual wake
func IsIndefinite(p *models.SnoozePreset) bool {
	return p.IsDuration && p.Days == nil && p.Hours == nil && p.Minutes == nil
}

// WakeTime returns when an item snoozed at now with preset p wakes up.
// Indefinite presets return models.Forever. Absolute presets pick the next
// matching weekday and hour:minute strictly after now, so a later time on
// the same day wins over next week.
func WakeTime(p *models.SnoozePreset, now time.Time) time.Time {
	if p.IsDuration {
		if IsIndefinite(p) {
			return models.Forever
		}
		return now.AddDate(0, 0, deref(p.Days)).
			Add(time.Duration(deref(p.Hours))*time.Hour + time.Duration(deref(p.Minutes))*time.Minute)
	}

	c := time.Date(now.Year(), now.Month(), now.Day(), p.Hour, p.Minute, 0, 0, now.Location())
	for i := 0; i < 8; i++ {
		if (p.Weekday == nil || c.Weekday() == *p.Weekday) && c.After(now) {
			return c
		}
		c = c.AddDate(0, 0, 1)
	}
	return c
}

// Describe renders a preset for listings
func Describe(p *models.SnoozePreset) string {
	var b strings.Builder
	if p.IsDuration {
		if IsIndefinite(p) {
			b.WriteString("until manually woken")
		} else {
			var parts []string
			for _, u := range []struct {
				v    *int
				unit string
			}{{p.Days, "day"}, {p.Hours, "hour"}, {p.Minutes, "minute"}} {
				if u.v == nil || *u.v == 0 {
					continue
				}
				s := fmt.Sprintf("%d %s", *u.v, u.unit)
				if *u.v != 1 {
					s += "s"
				}
				parts = append(parts, s)
			}
			if len(parts) == 0 {
				parts = append(parts, "0 minutes")
			}
			b.WriteString("for " + strings.Join(parts, ", "))
		}
	} else {
		day := "any day"
		if p.Weekday != nil {
			day = p.Weekday.String()
		}
		fmt.Fprintf(&b, "until %s %02d:%02d", day, p.Hour, p.Minute)
	}

	var wakes []string
	if p.WakeOnComment {
		wakes = append(wakes, "comment")
	}
	if p.WakeOnMention {
		wakes = append(wakes, "mention")
	}
	if p.WakeOnStatusChange {
		wakes = append(wakes, "status change")
	}
	if len(wakes) > 0 {
		b.WriteString(" (wake on " + strings.Join(wakes, ", ") + ")")
	}
	return b.String()
}

// ParseWeekday parses a weekday name or its three-letter abbreviation.
// The empty string and "any" mean any day and return nil.
func ParseWeekday(s string) (*time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "any" {
		return nil, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("unknown weekday %q", s)
}

func deref(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
