package snooze

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/reconcile"
	"github.com/wesm/argh/internal/store"
)

var logger = log.WithField("package", "snooze")

// State is the snooze state of an item within a pass
type State int

const (
	Active State = iota
	Snoozed
	WakingThisPass
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Snoozed:
		return "snoozed"
	case WakingThisPass:
		return "waking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateOf reports whether item is Active or Snoozed at now.
// WakingThisPass is only ever reported by AutoWake.
func StateOf(item *models.Item, now time.Time) State {
	if item.IsSnoozed(now) {
		return Snoozed
	}
	return Active
}

// Snooze snoozes item with preset p
func Snooze(item *models.Item, p *models.SnoozePreset, now time.Time) {
	until := WakeTime(p, now)
	item.SnoozedUntil = &until
	item.SnoozePresetID = p.ID
	item.Woken = false
}

// SnoozeUntil snoozes item until an explicit time, without wake triggers
func SnoozeUntil(item *models.Item, until time.Time) {
	item.SnoozedUntil = &until
	item.SnoozePresetID = ""
	item.Woken = false
}

// Wake clears the snooze of item and exempts it from auto-snooze until it
// next changes remotely. The caller reclassifies it.
func Wake(item *models.Item) {
	item.SnoozedUntil = nil
	item.SnoozePresetID = ""
	item.Woken = true
}

// WakeReason explains why AutoWake woke an item
type WakeReason string

const (
	ReasonExpired       WakeReason = "expired"
	ReasonComment       WakeReason = "comment"
	ReasonMention       WakeReason = "mention"
	ReasonStatusChange  WakeReason = "status_change"
	ReasonMissingPreset WakeReason = "missing_preset"
)

// ShouldWake decides whether a snoozed item wakes given what the last
// sync observed for it. preset is nil when the item references no preset
// or a preset that no longer exists.
func ShouldWake(item *models.Item, preset *models.SnoozePreset, ev models.ItemEvents, now time.Time) (bool, WakeReason) {
	if item.SnoozedUntil == nil {
		return false, ""
	}
	if !item.SnoozedUntil.After(now) {
		return true, ReasonExpired
	}
	if item.SnoozePresetID != "" && preset == nil {
		return true, ReasonMissingPreset
	}
	if preset == nil {
		return false, ""
	}
	switch {
	case preset.WakeOnComment && ev.NewComment:
		return true, ReasonComment
	case preset.WakeOnMention && ev.Mention:
		return true, ReasonMention
	case preset.WakeOnStatusChange && ev.StatusChange:
		return true, ReasonStatusChange
	}
	return false, ""
}

// AutoWake wakes every snoozed item in repoID (or all repositories when
// repoID is 0) that has expired, lost its preset, or saw an event its
// preset wakes on. It returns the woken keys; per-item write failures are
// reported without stopping the scan.
func AutoWake(st store.Store, repoID int64, events map[models.ItemKey]models.ItemEvents, now time.Time) ([]models.ItemKey, []reconcile.ItemError) {
	var (
		woken  []models.ItemKey
		failed []reconcile.ItemError
	)

	snoozed := st.Items(func(it *models.Item) bool {
		return it.SnoozedUntil != nil && (repoID == 0 || it.RepoID == repoID)
	})
	for i := range snoozed {
		item := snoozed[i]

		var preset *models.SnoozePreset
		if item.SnoozePresetID != "" {
			if p, ok := st.Preset(item.SnoozePresetID); ok {
				preset = &p
			}
		}

		wake, reason := ShouldWake(&item, preset, events[item.Key()], now)
		if !wake {
			continue
		}
		if reason == ReasonMissingPreset {
			logger.WithFields(log.Fields{
				"item":   item.Key().String(),
				"preset": item.SnoozePresetID,
			}).Warn("Snoozed item references a missing preset, treating it as active")
		}

		Wake(&item)
		if err := st.PutItem(item); err != nil {
			failed = append(failed, reconcile.ItemError{RepoID: item.RepoID, ServerID: item.ServerID, Err: err})
			continue
		}
		logger.WithFields(log.Fields{"item": item.Key().String(), "reason": reason}).Debug("Woke snoozed item")
		woken = append(woken, item.Key())
	}

	return woken, failed
}

// AutoSnooze snoozes, until manually woken, every active item in repoID
// (or all repositories when repoID is 0) not updated for days. Items whose
// snooze ended, by hand or by AutoWake, are left alone until they next
// change remotely.
func AutoSnooze(st store.Store, repoID int64, days int, now time.Time) ([]models.ItemKey, []reconcile.ItemError) {
	if days <= 0 {
		return nil, nil
	}

	var (
		snoozed []models.ItemKey
		failed  []reconcile.ItemError
	)

	cutoff := now.AddDate(0, 0, -days)
	idle := st.Items(func(it *models.Item) bool {
		return (repoID == 0 || it.RepoID == repoID) &&
			it.SnoozedUntil == nil &&
			!it.Woken &&
			it.UpdatedAt.Before(cutoff)
	})
	for i := range idle {
		item := idle[i]
		SnoozeUntil(&item, models.Forever)
		if err := st.PutItem(item); err != nil {
			failed = append(failed, reconcile.ItemError{RepoID: item.RepoID, ServerID: item.ServerID, Err: err})
			continue
		}
		snoozed = append(snoozed, item.Key())
	}

	if len(snoozed) > 0 {
		logger.WithFields(log.Fields{"count": len(snoozed), "days": days}).Info("Auto-snoozed idle items")
	}
	return snoozed, failed
}
