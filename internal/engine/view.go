package engine

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/argh/internal/classify"
	"github.com/wesm/argh/internal/models"
)

// View is an immutable snapshot of the last committed state. Readers get
// it without taking the writer lock and must not modify it.
type View struct {
	Generation uint64
	At         time.Time
	Settings   *models.Settings
	Presets    []models.SnoozePreset

	// Counts and Badge ignore the filter.
	Counts map[models.Section]int
	Badge  int
	Filter string

	items    map[models.ItemKey]models.Item
	sections map[models.Section][]models.Item
}

func newView(gen uint64, at time.Time, s *models.Settings, items []models.Item, presets []models.SnoozePreset, repos map[int64]models.Repository, filter string) *View {
	v := &View{
		Generation: gen,
		At:         at,
		Settings:   s,
		Presets:    presets,
		Counts:     make(map[models.Section]int),
		Badge:      Badge(items, s),
		Filter:     filter,
		items:      make(map[models.ItemKey]models.Item, len(items)),
		sections:   make(map[models.Section][]models.Item),
	}

	needle := ""
	if f := strings.TrimSpace(filter); f != "" {
		needle = classify.Fold(f)
	}

	for _, it := range items {
		v.items[it.Key()] = it
		v.Counts[it.SectionIndex]++
		if needle != "" && !matchesFilter(&it, repos[it.RepoID].FullName, needle) {
			continue
		}
		v.sections[it.SectionIndex] = append(v.sections[it.SectionIndex], it)
	}
	for _, list := range v.sections {
		sort.Slice(list, func(i, j int) bool {
			if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
				return list[i].UpdatedAt.After(list[j].UpdatedAt)
			}
			if list[i].RepoID != list[j].RepoID {
				return list[i].RepoID < list[j].RepoID
			}
			return list[i].ServerID < list[j].ServerID
		})
	}
	return v
}

// Section returns the items of s, most recently updated first
func (v *View) Section(s models.Section) []models.Item {
	return v.sections[s]
}

// Item returns one item of the view
func (v *View) Item(key models.ItemKey) (models.Item, bool) {
	it, ok := v.items[key]
	return it, ok
}

// Len is the number of items in the view, filtered or not
func (v *View) Len() int {
	return len(v.items)
}

// Badge sums the unread counts of Mine and Participated, or of every
// visible section when comments are shown everywhere
func Badge(items []models.Item, s *models.Settings) int {
	total := 0
	for i := range items {
		switch items[i].SectionIndex {
		case models.SectionMine, models.SectionParticipated:
			total += items[i].UnreadCommentCount
		case models.SectionMerged, models.SectionClosed, models.SectionAll, models.SectionSnoozed:
			if s.ShowCommentsEverywhere {
				total += items[i].UnreadCommentCount
			}
		case models.SectionHidden:
		}
	}
	return total
}

func matchesFilter(it *models.Item, repo, needle string) bool {
	if strings.Contains(classify.Fold(it.Title), needle) ||
		strings.Contains(classify.Fold(it.AuthorLogin), needle) ||
		strings.Contains(classify.Fold(repo), needle) {
		return true
	}
	if strings.TrimPrefix(needle, "#") == strconv.Itoa(it.Number) {
		return true
	}
	for _, l := range it.Labels {
		if strings.Contains(classify.Fold(l.Name), needle) {
			return true
		}
	}
	return false
}
