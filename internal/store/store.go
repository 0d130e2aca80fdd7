// Package store holds the keyed entity store the sync engine works against.
//
// Entities are stored and returned by value; relationships are expressed
// through ids only. Pointer fields inside an entity (timestamps, Mergeable)
// are treated as immutable and are always replaced, never written through.
package store

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/wesm/argh/internal/models"
)

// ErrNotFound is returned when a keyed entity does not exist
var ErrNotFound = errors.New("not found")

// Store is the contract the engine requires from a persistence layer
type Store interface {
	Item(key models.ItemKey) (models.Item, bool)
	PutItem(item models.Item) error
	DeleteItem(key models.ItemKey) error
	// SetDisposition updates the transient sync marker. It never fails and is never persisted.
	SetDisposition(key models.ItemKey, d models.SyncDisposition)
	ScopeItems(repoID int64) []models.Item
	Items(pred func(*models.Item) bool) []models.Item

	Comments(key models.ItemKey) []models.Comment
	PutComment(c models.Comment) error
	DeleteComment(key models.ItemKey, serverID int64) error

	Presets() []models.SnoozePreset
	Preset(id string) (models.SnoozePreset, bool)
	PutPreset(p models.SnoozePreset) error
	DeletePreset(id string) error

	Repository(id int64) (models.Repository, bool)
	Repositories() []models.Repository
	PutRepository(r models.Repository) error
}

// Memory is an in-memory Store indexed by (repoID, serverID)
type Memory struct {
	mu       sync.RWMutex
	items    map[models.ItemKey]models.Item
	byRepo   map[int64]map[int64]struct{}
	comments map[models.ItemKey]map[int64]models.Comment
	presets  map[string]models.SnoozePreset
	repos    map[int64]models.Repository
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		items:    make(map[models.ItemKey]models.Item),
		byRepo:   make(map[int64]map[int64]struct{}),
		comments: make(map[models.ItemKey]map[int64]models.Comment),
		presets:  make(map[string]models.SnoozePreset),
		repos:    make(map[int64]models.Repository),
	}
}

func (m *Memory) Item(key models.ItemKey) (models.Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	return it, ok
}

func (m *Memory) PutItem(item models.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.Labels = slices.Clone(item.Labels)
	key := item.Key()
	m.items[key] = item
	scope, ok := m.byRepo[key.RepoID]
	if !ok {
		scope = make(map[int64]struct{})
		m.byRepo[key.RepoID] = scope
	}
	scope[key.ServerID] = struct{}{}
	return nil
}

// DeleteItem removes the item together with the comments it owns
func (m *Memory) DeleteItem(key models.ItemKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		return ErrNotFound
	}
	delete(m.items, key)
	delete(m.comments, key)
	if scope, ok := m.byRepo[key.RepoID]; ok {
		delete(scope, key.ServerID)
		if len(scope) == 0 {
			delete(m.byRepo, key.RepoID)
		}
	}
	return nil
}

func (m *Memory) SetDisposition(key models.ItemKey, d models.SyncDisposition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok {
		it.SyncDisposition = d
		m.items[key] = it
	}
}

func (m *Memory) ScopeItems(repoID int64) []models.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Item, 0, len(m.byRepo[repoID]))
	for id := range m.byRepo[repoID] {
		out = append(out, m.items[models.ItemKey{RepoID: repoID, ServerID: id}])
	}
	sortItems(out)
	return out
}

// Items returns the items matching pred, or every item when pred is nil
func (m *Memory) Items(pred func(*models.Item) bool) []models.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Item
	for _, it := range m.items {
		if pred == nil || pred(&it) {
			out = append(out, it)
		}
	}
	sortItems(out)
	return out
}

// Comments returns the comments of an item ordered by creation time
func (m *Memory) Comments(key models.ItemKey) []models.Comment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Comment, 0, len(m.comments[key]))
	for _, c := range m.comments[key] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ServerID < out[j].ServerID
	})
	return out
}

func (m *Memory) PutComment(c models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.ItemKey()
	if _, ok := m.items[key]; !ok {
		return ErrNotFound
	}
	set, ok := m.comments[key]
	if !ok {
		set = make(map[int64]models.Comment)
		m.comments[key] = set
	}
	set[c.ServerID] = c
	return nil
}

func (m *Memory) DeleteComment(key models.ItemKey, serverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.comments[key]
	if _, ok := set[serverID]; !ok {
		return ErrNotFound
	}
	delete(set, serverID)
	return nil
}

// Presets returns the snooze presets ordered by SortOrder
func (m *Memory) Presets() []models.SnoozePreset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SnoozePreset, 0, len(m.presets))
	for _, p := range m.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) Preset(id string) (models.SnoozePreset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presets[id]
	return p, ok
}

func (m *Memory) PutPreset(p models.SnoozePreset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets[p.ID] = p
	return nil
}

func (m *Memory) DeletePreset(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presets[id]; !ok {
		return ErrNotFound
	}
	delete(m.presets, id)
	return nil
}

func (m *Memory) Repository(id int64) (models.Repository, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[id]
	return r, ok
}

// Repositories returns all repositories ordered by full name
func (m *Memory) Repositories() []models.Repository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Repository, 0, len(m.repos))
	for _, r := range m.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out
}

func (m *Memory) PutRepository(r models.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[r.ID] = r
	return nil
}

func sortItems(items []models.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].RepoID != items[j].RepoID {
			return items[i].RepoID < items[j].RepoID
		}
		return items[i].ServerID < items[j].ServerID
	})
}
