package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/wesm/argh/internal/classify"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/snooze"
	"github.com/wesm/argh/internal/store"
)

// Intent is a user action applied by the engine. The set is closed.
type Intent interface {
	Name() string
	apply(t *tx) error
}

// tx tracks what an intent touched so only those items are reclassified
type tx struct {
	e         *Engine
	now       time.Time
	touched   map[models.ItemKey]struct{}
	all       bool
	republish bool // presets or repositories changed
}

func (t *tx) changed() bool {
	return t.all || t.republish || len(t.touched) > 0
}

func (t *tx) keys() []models.ItemKey {
	keys := make([]models.ItemKey, 0, len(t.touched))
	for k := range t.touched {
		keys = append(keys, k)
	}
	return keys
}

func (t *tx) item(key models.ItemKey) (models.Item, error) {
	it, ok := t.e.st.Item(key)
	if !ok {
		return it, fmt.Errorf("item %s: %w", key, store.ErrNotFound)
	}
	return it, nil
}

func (t *tx) put(it models.Item) error {
	if err := t.e.st.PutItem(it); err != nil {
		return fmt.Errorf("failed to save item %s: %w", it.Key(), err)
	}
	t.touched[it.Key()] = struct{}{}
	return nil
}

// update loads key, applies fn and saves the result
func (t *tx) update(key models.ItemKey, fn func(*models.Item) error) error {
	it, err := t.item(key)
	if err != nil {
		return err
	}
	if err := fn(&it); err != nil {
		return err
	}
	return t.put(it)
}

// catchUp moves the read watermark of it to its newest comment
func (t *tx) catchUp(it *models.Item) bool {
	latest := classify.LatestCommentDate(t.e.st.Comments(it.Key()))
	if latest == nil {
		if it.LastReadCommentDate != nil {
			return false
		}
		u := it.UpdatedAt
		latest = &u
	}
	if it.LastReadCommentDate != nil && !latest.After(*it.LastReadCommentDate) {
		return false
	}
	it.LastReadCommentDate = latest
	return true
}

// MarkRead catches up one item
type MarkRead struct{ Key models.ItemKey }

func (MarkRead) Name() string { return "mark_read" }

func (i MarkRead) apply(t *tx) error {
	return t.update(i.Key, func(it *models.Item) error {
		t.catchUp(it)
		return nil
	})
}

// MarkUnread clears the read watermark of one item
type MarkUnread struct{ Key models.ItemKey }

func (MarkUnread) Name() string { return "mark_unread" }

func (i MarkUnread) apply(t *tx) error {
	return t.update(i.Key, func(it *models.Item) error {
		it.LastReadCommentDate = nil
		return nil
	})
}

// CatchUpAll catches up every item, or those of one repository when RepoID is set
type CatchUpAll struct{ RepoID int64 }

func (CatchUpAll) Name() string { return "catch_up_all" }

func (i CatchUpAll) apply(t *tx) error {
	var errs []error
	for _, it := range t.e.st.Items(func(it *models.Item) bool { return i.RepoID == 0 || it.RepoID == i.RepoID }) {
		if !t.catchUp(&it) {
			continue
		}
		if err := t.put(it); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mute hides an item until it is unmuted
type Mute struct{ Key models.ItemKey }

func (Mute) Name() string { return "mute" }

func (i Mute) apply(t *tx) error {
	return t.update(i.Key, func(it *models.Item) error {
		it.Muted = true
		return nil
	})
}

// Unmute reverses Mute
type Unmute struct{ Key models.ItemKey }

func (Unmute) Name() string { return "unmute" }

func (i Unmute) apply(t *tx) error {
	return t.update(i.Key, func(it *models.Item) error {
		it.Muted = false
		return nil
	})
}

// Snooze snoozes an item with a preset
type Snooze struct {
	Key      models.ItemKey
	PresetID string
}

func (Snooze) Name() string { return "snooze" }

func (i Snooze) apply(t *tx) error {
	p, ok := t.e.st.Preset(i.PresetID)
	if !ok {
		return fmt.Errorf("%w: %s", snooze.ErrUnknownPreset, i.PresetID)
	}
	return t.update(i.Key, func(it *models.Item) error {
		snooze.Snooze(it, &p, t.now)
		return nil
	})
}

// SnoozeUntil snoozes an item until an explicit time
type SnoozeUntil struct {
	Key   models.ItemKey
	Until time.Time
}

func (SnoozeUntil) Name() string { return "snooze_until" }

func (i SnoozeUntil) apply(t *tx) error {
	if !i.Until.After(t.now) {
		return fmt.Errorf("snooze time %s is not in the future", i.Until.Format(time.RFC3339))
	}
	return t.update(i.Key, func(it *models.Item) error {
		snooze.SnoozeUntil(it, i.Until)
		return nil
	})
}

// Wake wakes a snoozed item by hand. Items that are not snoozed are left
// untouched.
type Wake struct{ Key models.ItemKey }

func (Wake) Name() string { return "wake" }

func (i Wake) apply(t *tx) error {
	it, err := t.item(i.Key)
	if err != nil {
		return err
	}
	if it.SnoozedUntil == nil {
		return nil
	}
	snooze.Wake(&it)
	return t.put(it)
}

// Remove deletes an item and its comments
type Remove struct{ Key models.ItemKey }

func (Remove) Name() string { return "remove" }

func (i Remove) apply(t *tx) error {
	if err := t.e.st.DeleteItem(i.Key); err != nil {
		return fmt.Errorf("failed to remove item %s: %w", i.Key, err)
	}
	t.touched[i.Key] = struct{}{}
	return nil
}

// Clear deletes every item in a terminal state (merged or closed)
type Clear struct{ State models.ItemState }

func (i Clear) Name() string { return "clear_" + i.State.String() }

func (i Clear) apply(t *tx) error {
	switch i.State {
	case models.StateMerged, models.StateClosed:
	case models.StateOpen:
		return errors.New("only merged or closed items can be cleared")
	}

	var errs []error
	for _, it := range t.e.st.Items(func(it *models.Item) bool { return it.State == i.State }) {
		if err := t.e.st.DeleteItem(it.Key()); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove item %s: %w", it.Key(), err))
			continue
		}
		t.touched[it.Key()] = struct{}{}
	}
	return errors.Join(errs...)
}

// AddPreset appends a snooze preset; Preset is updated with the stored value
type AddPreset struct{ Preset models.SnoozePreset }

func (*AddPreset) Name() string { return "add_preset" }

func (i *AddPreset) apply(t *tx) error {
	p, err := snooze.AddPreset(t.e.st, i.Preset)
	if err != nil {
		return err
	}
	i.Preset = p
	t.republish = true
	return nil
}

// DeletePreset removes a snooze preset, applying Decision to the items
// still using it
type DeletePreset struct {
	ID       string
	Decision snooze.DeleteDecision
}

func (DeletePreset) Name() string { return "delete_preset" }

func (i DeletePreset) apply(t *tx) error {
	affected, err := snooze.DeletePreset(t.e.st, i.ID, i.Decision)
	for _, k := range affected {
		t.touched[k] = struct{}{}
	}
	if err == nil {
		t.republish = true
	}
	return err
}

// MovePreset moves a snooze preset to a new position
type MovePreset struct {
	ID    string
	Index int
}

func (MovePreset) Name() string { return "move_preset" }

func (i MovePreset) apply(t *tx) error {
	if err := snooze.MovePreset(t.e.st, i.ID, i.Index); err != nil {
		return err
	}
	t.republish = true
	return nil
}

// UpdateSettings replaces the settings snapshot and reclassifies everything
type UpdateSettings struct{ Settings *models.Settings }

func (UpdateSettings) Name() string { return "update_settings" }

func (i UpdateSettings) apply(t *tx) error {
	if i.Settings == nil {
		return errors.New("settings snapshot is nil")
	}
	t.e.settings = i.Settings
	t.e.classifier = classify.New(i.Settings)
	t.all = true
	return nil
}

// PutRepository adds a repository or replaces its display policies.
// Items of the repository are reclassified.
type PutRepository struct{ Repository models.Repository }

func (PutRepository) Name() string { return "put_repository" }

func (i PutRepository) apply(t *tx) error {
	if i.Repository.ID == 0 {
		return errors.New("repository id is required")
	}
	if err := t.e.st.PutRepository(i.Repository); err != nil {
		return fmt.Errorf("failed to save repository %s: %w", i.Repository.FullName, err)
	}
	for _, it := range t.e.st.ScopeItems(i.Repository.ID) {
		t.touched[it.Key()] = struct{}{}
	}
	t.republish = true
	return nil
}
