package snooze

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/store"
)

var (
	// ErrPresetInUse is returned when a referenced preset is deleted without a decision
	ErrPresetInUse = errors.New("snooze preset is referenced by snoozed items")
	// ErrUnknownPreset is returned for preset ids that do not exist
	ErrUnknownPreset = errors.New("unknown snooze preset")
)

// DeleteDecision says what happens to items snoozed with a preset being deleted
type DeleteDecision int

const (
	// DecideNone refuses to delete a preset that is still referenced
	DecideNone DeleteDecision = iota
	// DecideWakeItems wakes every referencing item
	DecideWakeItems
	// DecideDetach keeps the items snoozed until their wake time but
	// detaches them from the preset, dropping its wake triggers
	DecideDetach
)

// AddPreset appends p to the end of the preset list, assigning an id when it has none
func AddPreset(st store.Store, p models.SnoozePreset) (models.SnoozePreset, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := st.Preset(p.ID); exists {
		return p, fmt.Errorf("snooze preset %s already exists", p.ID)
	}
	p.SortOrder = len(st.Presets())
	if err := st.PutPreset(p); err != nil {
		return p, err
	}
	return p, nil
}

// MovePreset moves preset id to position index and renumbers the list
func MovePreset(st store.Store, id string, index int) error {
	presets := st.Presets()
	from := -1
	for i := range presets {
		if presets[i].ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, id)
	}
	if index < 0 {
		index = 0
	}
	if index >= len(presets) {
		index = len(presets) - 1
	}

	p := presets[from]
	presets = append(presets[:from], presets[from+1:]...)
	presets = append(presets[:index], append([]models.SnoozePreset{p}, presets[index:]...)...)
	return renumber(st, presets)
}

// ReferencingItems returns the items snoozed with preset id
func ReferencingItems(st store.Store, id string) []models.Item {
	return st.Items(func(it *models.Item) bool { return it.SnoozePresetID == id })
}

// DeletePreset deletes preset id after applying decision to the items that
// still reference it, and renumbers the remaining presets. It returns the
// keys of the affected items so the caller can reclassify them.
func DeletePreset(st store.Store, id string, decision DeleteDecision) ([]models.ItemKey, error) {
	if _, ok := st.Preset(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, id)
	}

	refs := ReferencingItems(st, id)
	if len(refs) > 0 && decision == DecideNone {
		return nil, fmt.Errorf("%w: %d items", ErrPresetInUse, len(refs))
	}

	affected := make([]models.ItemKey, 0, len(refs))
	for i := range refs {
		item := refs[i]
		switch decision {
		case DecideWakeItems:
			Wake(&item)
		case DecideDetach:
			item.SnoozePresetID = ""
		case DecideNone:
		}
		if err := st.PutItem(item); err != nil {
			return affected, fmt.Errorf("failed to release item %s from preset: %w", item.Key(), err)
		}
		affected = append(affected, item.Key())
	}

	if err := st.DeletePreset(id); err != nil {
		return affected, err
	}
	return affected, renumber(st, st.Presets())
}

// renumber rewrites SortOrder as 0..N-1 in list order, writing only changed presets
func renumber(st store.Store, presets []models.SnoozePreset) error {
	for i := range presets {
		if presets[i].SortOrder == i {
			continue
		}
		presets[i].SortOrder = i
		if err := st.PutPreset(presets[i]); err != nil {
			return err
		}
	}
	return nil
}
