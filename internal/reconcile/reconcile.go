// Package reconcile merges batches of remotely fetched items into the local
// store, tagging each record with what the pass did to it.
package reconcile

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/wesm/argh/internal/classify"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/store"
)

var logger = log.WithField("package", "reconcile")

// NoTitle replaces empty remote titles
const NoTitle = "(No title)"

// ErrMissingIdentity is reported for payloads without a server id
var ErrMissingIdentity = errors.New("payload is missing its server id")

// ItemError is a failure isolated to one item
type ItemError struct {
	RepoID   int64
	ServerID int64
	Err      error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d/%d: %v", e.RepoID, e.ServerID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Result summarises one reconciliation of a repository batch
type Result struct {
	Created   int
	Updated   int
	Unchanged int
	// Skipped counts malformed item and comment payloads.
	Skipped int

	MarkedForDeletion []models.ItemKey
	Failed            []ItemError
	// Events observed per item, consumed by the auto-wake scan.
	Events map[models.ItemKey]models.ItemEvents
}

// Reconciler applies remote batches to a store
type Reconciler struct {
	st       store.Store
	settings *models.Settings
	matcher  *classify.Matcher
}

// New creates a Reconciler over st for the settings snapshot s
func New(st store.Store, s *models.Settings) *Reconciler {
	return &Reconciler{st: st, settings: s, matcher: classify.NewMatcher(s)}
}

// Reconcile merges batch into the items of repoID. Every local item of the
// repository not present in batch is marked ToDelete; the caller decides
// whether and when to delete it.
func (r *Reconciler) Reconcile(repoID int64, batch []models.RemoteItem) *Result {
	res := &Result{Events: make(map[models.ItemKey]models.ItemEvents)}
	seen := make(map[int64]struct{}, len(batch))

	for i := range batch {
		p := &batch[i]
		if p.ServerID == 0 {
			res.Skipped++
			logger.WithFields(log.Fields{"repo": repoID, "number": p.Number}).Warn("Skipping item payload without server id")
			continue
		}
		if _, dup := seen[p.ServerID]; dup {
			res.Skipped++
			logger.WithFields(log.Fields{"repo": repoID, "item": p.ServerID}).Warn("Skipping duplicate item payload")
			continue
		}
		seen[p.ServerID] = struct{}{}

		key := models.ItemKey{RepoID: repoID, ServerID: p.ServerID}
		existing, ok := r.st.Item(key)

		switch {
		case !ok:
			item := models.Item{RepoID: repoID, ServerID: p.ServerID}
			copyRemote(&item, p)
			item.SyncDisposition = models.DispositionNew
			if err := r.st.PutItem(item); err != nil {
				res.Failed = append(res.Failed, ItemError{RepoID: repoID, ServerID: p.ServerID, Err: err})
				continue
			}
			ev, err := r.mergeComments(key, p.Comments, res)
			if err != nil {
				res.Failed = append(res.Failed, r.rollback(key, nil, err))
				continue
			}
			res.Events[key] = ev
			res.Created++

		case !p.UpdatedAt.Equal(existing.UpdatedAt):
			item := existing
			statusChanged := item.State != p.State
			copyRemote(&item, p)
			item.SyncDisposition = models.DispositionUpdated
			item.MissingPasses = 0
			item.Woken = false
			if err := r.st.PutItem(item); err != nil {
				res.Failed = append(res.Failed, ItemError{RepoID: repoID, ServerID: p.ServerID, Err: err})
				continue
			}
			ev, err := r.mergeComments(key, p.Comments, res)
			ev.StatusChange = statusChanged
			res.Events[key] = ev
			if err != nil {
				res.Failed = append(res.Failed, r.rollback(key, &existing, err))
				continue
			}
			res.Updated++

		default:
			if existing.MissingPasses != 0 {
				existing.MissingPasses = 0
				if err := r.st.PutItem(existing); err != nil {
					res.Failed = append(res.Failed, ItemError{RepoID: repoID, ServerID: p.ServerID, Err: err})
					continue
				}
			}
			r.st.SetDisposition(key, models.DispositionUnchanged)
			res.Unchanged++
		}
	}

	for _, item := range r.st.ScopeItems(repoID) {
		if _, ok := seen[item.ServerID]; ok {
			continue
		}
		r.st.SetDisposition(item.Key(), models.DispositionToDelete)
		res.MarkedForDeletion = append(res.MarkedForDeletion, item.Key())
	}

	logger.WithFields(log.Fields{
		"repo":      repoID,
		"created":   res.Created,
		"updated":   res.Updated,
		"unchanged": res.Unchanged,
		"skipped":   res.Skipped,
		"to_delete": len(res.MarkedForDeletion),
		"failed":    len(res.Failed),
	}).Debug("Reconciled batch")

	return res
}

// rollback restores the item row written before a comment failure: a new
// item is deleted and an updated one gets its previous row back. The next
// pass then sees the item as changed and retries its comments.
func (r *Reconciler) rollback(key models.ItemKey, previous *models.Item, cause error) ItemError {
	var err error
	if previous == nil {
		err = r.st.DeleteItem(key)
	} else {
		err = r.st.PutItem(*previous)
	}
	if err != nil {
		cause = errors.Join(cause, fmt.Errorf("failed to roll back item: %w", err))
	}
	return ItemError{RepoID: key.RepoID, ServerID: key.ServerID, Err: cause}
}

// mergeComments applies the comment payloads of one created or updated
// item. Comments absent from the payload are removed only after every
// reported comment has been written.
func (r *Reconciler) mergeComments(key models.ItemKey, payload []models.RemoteComment, res *Result) (models.ItemEvents, error) {
	var ev models.ItemEvents

	existing := make(map[int64]models.Comment)
	for _, c := range r.st.Comments(key) {
		existing[c.ServerID] = c
	}

	reported := make(map[int64]struct{}, len(payload))
	for i := range payload {
		rc := &payload[i]
		if rc.ServerID == 0 {
			res.Skipped++
			continue
		}
		reported[rc.ServerID] = struct{}{}

		c, ok := existing[rc.ServerID]
		switch {
		case !ok:
			c = models.Comment{RepoID: key.RepoID, ItemID: key.ServerID, ServerID: rc.ServerID}
			copyComment(&c, rc)
			c.SyncDisposition = models.DispositionNew
			if !classify.IsMe(r.settings, c.AuthorID, c.AuthorLogin) {
				ev.NewComment = true
				if r.matcher.MentionsMe(c.Body) {
					ev.Mention = true
				}
			}
		case !rc.UpdatedAt.Equal(c.UpdatedAt) || rc.Body != c.Body:
			copyComment(&c, rc)
			c.SyncDisposition = models.DispositionUpdated
		default:
			continue
		}

		if err := r.st.PutComment(c); err != nil {
			return ev, fmt.Errorf("failed to save comment %d: %w", rc.ServerID, err)
		}
	}

	for id := range existing {
		if _, ok := reported[id]; ok {
			continue
		}
		if err := r.st.DeleteComment(key, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return ev, fmt.Errorf("failed to delete stale comment %d: %w", id, err)
		}
	}

	return ev, nil
}

// Purge applies the deletion grace policy to items marked ToDelete: each
// missed pass is counted and the item is deleted once it has been missing
// for grace consecutive passes (grace <= 1 deletes immediately). Merged and
// closed items are kept: fetches only report recently closed items, so these
// leave the store through an explicit clear instead.
func Purge(st store.Store, keys []models.ItemKey, grace int) ([]models.ItemKey, []ItemError) {
	var (
		deleted []models.ItemKey
		failed  []ItemError
	)
	for _, key := range keys {
		item, ok := st.Item(key)
		if !ok || item.State.Terminal() {
			continue
		}
		item.MissingPasses++
		var err error
		if item.MissingPasses >= grace {
			if err = st.DeleteItem(key); err == nil {
				deleted = append(deleted, key)
			}
		} else {
			err = st.PutItem(item)
		}
		if err != nil {
			failed = append(failed, ItemError{RepoID: key.RepoID, ServerID: key.ServerID, Err: err})
		}
	}
	return deleted, failed
}

// ResetDispositions settles every item of repoID back to Unchanged
func ResetDispositions(st store.Store, repoID int64) {
	for _, item := range st.ScopeItems(repoID) {
		if item.SyncDisposition != models.DispositionUnchanged {
			st.SetDisposition(item.Key(), models.DispositionUnchanged)
		}
	}
}

func copyRemote(item *models.Item, p *models.RemoteItem) {
	item.Number = p.Number
	item.Kind = p.Kind
	item.Title = p.Title
	if strings.TrimSpace(item.Title) == "" {
		item.Title = NoTitle
	}
	item.URL = p.URL
	item.CreatedAt = p.CreatedAt
	item.UpdatedAt = p.UpdatedAt
	item.ClosedAt = p.ClosedAt
	item.State = p.State
	item.AuthorID = p.AuthorID
	item.AuthorLogin = p.AuthorLogin
	item.Body = p.Body
	item.AssignedToMe = p.AssignedToMe
	item.Mergeable = p.Mergeable
	item.Labels = p.Labels
}

func copyComment(c *models.Comment, rc *models.RemoteComment) {
	c.AuthorID = rc.AuthorID
	c.AuthorLogin = rc.AuthorLogin
	c.Body = rc.Body
	c.CreatedAt = rc.CreatedAt
	c.UpdatedAt = rc.UpdatedAt
}
