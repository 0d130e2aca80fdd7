package store

import (
	"fmt"

	"github.com/wesm/argh/internal/models"
)

// Backend is a durable store written before the in-memory copy is updated
type Backend interface {
	SaveItem(item *models.Item) error
	DeleteItem(key models.ItemKey) error
	SaveComment(c *models.Comment) error
	DeleteComment(key models.ItemKey, serverID int64) error
	SavePreset(p *models.SnoozePreset) error
	DeletePreset(id string) error
	SaveRepository(r *models.Repository) error
}

// WriteThrough serves reads from memory and persists every write to a
// Backend first. A failed backend write leaves the memory copy untouched,
// so a failure for one entity never leaks partial state to readers.
type WriteThrough struct {
	*Memory
	backend Backend
}

var _ Store = (*WriteThrough)(nil)

// NewWriteThrough wraps mem, persisting writes to backend
func NewWriteThrough(mem *Memory, backend Backend) *WriteThrough {
	return &WriteThrough{Memory: mem, backend: backend}
}

func (w *WriteThrough) PutItem(item models.Item) error {
	if err := w.backend.SaveItem(&item); err != nil {
		return fmt.Errorf("failed to persist item %s: %w", item.Key(), err)
	}
	return w.Memory.PutItem(item)
}

func (w *WriteThrough) DeleteItem(key models.ItemKey) error {
	if err := w.backend.DeleteItem(key); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", key, err)
	}
	return w.Memory.DeleteItem(key)
}

func (w *WriteThrough) PutComment(c models.Comment) error {
	if _, ok := w.Memory.Item(c.ItemKey()); !ok {
		return ErrNotFound
	}
	if err := w.backend.SaveComment(&c); err != nil {
		return fmt.Errorf("failed to persist comment %d: %w", c.ServerID, err)
	}
	return w.Memory.PutComment(c)
}

func (w *WriteThrough) DeleteComment(key models.ItemKey, serverID int64) error {
	if err := w.backend.DeleteComment(key, serverID); err != nil {
		return fmt.Errorf("failed to delete comment %d: %w", serverID, err)
	}
	return w.Memory.DeleteComment(key, serverID)
}

func (w *WriteThrough) PutPreset(p models.SnoozePreset) error {
	if err := w.backend.SavePreset(&p); err != nil {
		return fmt.Errorf("failed to persist preset %s: %w", p.ID, err)
	}
	return w.Memory.PutPreset(p)
}

func (w *WriteThrough) DeletePreset(id string) error {
	if err := w.backend.DeletePreset(id); err != nil {
		return fmt.Errorf("failed to delete preset %s: %w", id, err)
	}
	return w.Memory.DeletePreset(id)
}

func (w *WriteThrough) PutRepository(r models.Repository) error {
	if err := w.backend.SaveRepository(&r); err != nil {
		return fmt.Errorf("failed to persist repository %s: %w", r.FullName, err)
	}
	return w.Memory.PutRepository(r)
}
