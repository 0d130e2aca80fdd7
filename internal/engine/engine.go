// Package engine is the single writer of the item store. Scope commits
// from the refresh controller and user intents are applied one at a time;
// after each one the classifier runs and an immutable View is published
// for lock-free readers.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesm/argh/internal/classify"
	"github.com/wesm/argh/internal/metrics"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/reconcile"
	"github.com/wesm/argh/internal/snooze"
	"github.com/wesm/argh/internal/store"
)

var logger = log.WithField("package", "engine")

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("engine is closed")

// Options tune an Engine
type Options struct {
	// DeleteGracePasses is the number of consecutive passes an item may be
	// missing remotely before it is deleted. Values below 1 delete at once.
	DeleteGracePasses int
	// Debounce delays filter and settings recomputations.
	Debounce time.Duration
	Now      func() time.Time
	Metrics  metrics.MetricsCollector
}

// CommitResult reports what one scope commit did
type CommitResult struct {
	*reconcile.Result
	Deleted     []models.ItemKey
	Woken       []models.ItemKey
	AutoSnoozed []models.ItemKey
}

// Engine serialises every mutation of the store
type Engine struct {
	mu         sync.Mutex
	st         store.Store
	settings   *models.Settings
	classifier *classify.Classifier
	grace      int
	now        func() time.Time
	metrics    metrics.MetricsCollector
	closed     bool
	gen        uint64

	view atomic.Pointer[View]
	bus  *Bus

	pendingMu       sync.Mutex
	pendingSettings *models.Settings
	filter          string
	debouncer       *Debouncer

	queue chan request
	done  chan struct{}
}

type request struct {
	in    Intent
	reply chan error
}

// New creates an Engine over st, classifies everything once and
// publishes the first view
func New(st store.Store, s *models.Settings, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	e := &Engine{
		st:         st,
		settings:   s,
		classifier: classify.New(s),
		grace:      opts.DeleteGracePasses,
		now:        opts.Now,
		metrics:    opts.Metrics,
		bus:        NewBus(),
		queue:      make(chan request),
		done:       make(chan struct{}),
	}
	e.debouncer = NewDebouncer(opts.Debounce, e.recompute)

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if failed := e.classifyItems(st.Items(nil), now); len(failed) > 0 {
		logItemFailures(failed)
	}
	e.publish(now)
	return e
}

// View returns the last published snapshot
func (e *Engine) View() *View {
	return e.view.Load()
}

// Settings returns the settings snapshot in effect
func (e *Engine) Settings() *models.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Subscribe registers for events; call the returned function to stop
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.bus.Subscribe(buffer)
}

// CommitScope applies one fully fetched repository batch: reconcile,
// deletion grace, auto-wake, auto-snooze, classification, then disposition
// reset and publication. It runs entirely under the writer lock, so
// readers never observe a half-applied batch.
func (e *Engine) CommitScope(repoID int64, batch []models.RemoteItem) (*CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	now := e.now()
	res := &CommitResult{Result: reconcile.New(e.st, e.settings).Reconcile(repoID, batch)}

	deleted, failed := reconcile.Purge(e.st, res.MarkedForDeletion, e.grace)
	res.Deleted = deleted
	res.Failed = append(res.Failed, failed...)

	woken, failed := snooze.AutoWake(e.st, repoID, res.Events, now)
	res.Woken = woken
	res.Failed = append(res.Failed, failed...)

	snoozed, failed := snooze.AutoSnooze(e.st, repoID, e.settings.AutoSnoozeDays, now)
	res.AutoSnoozed = snoozed
	res.Failed = append(res.Failed, failed...)

	res.Failed = append(res.Failed, e.classifyItems(e.st.ScopeItems(repoID), now)...)
	reconcile.ResetDispositions(e.st, repoID)

	if len(res.Failed) > 0 {
		logItemFailures(res.Failed)
	}
	e.metrics.RecordCommit(repoName(e.st, repoID), res.Created, res.Updated, res.Unchanged, len(res.Deleted))
	e.metrics.RecordItemFailures(len(res.Failed))
	e.metrics.RecordPayloadSkips(res.Skipped)
	e.metrics.RecordWakes(len(res.Woken))

	v := e.publish(now)
	e.bus.Publish(Event{Kind: ItemsChanged, Generation: v.Generation, RepoID: repoID})
	e.bus.Publish(Event{Kind: SectionsRecomputed, Generation: v.Generation, Badge: v.Badge, Counts: v.Counts})

	logger.WithFields(log.Fields{
		"repo":      repoID,
		"created":   res.Created,
		"updated":   res.Updated,
		"unchanged": res.Unchanged,
		"deleted":   len(res.Deleted),
		"woken":     len(res.Woken),
		"snoozed":   len(res.AutoSnoozed),
		"failed":    len(res.Failed),
	}).Info("Committed repository")

	return res, nil
}

// Tick wakes expired snoozes, applies auto-snooze and reclassifies every
// item. It is run between syncs so time-based transitions show up without
// remote changes.
func (e *Engine) Tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	now := e.now()
	woken, failed := snooze.AutoWake(e.st, 0, nil, now)
	snoozed, f := snooze.AutoSnooze(e.st, 0, e.settings.AutoSnoozeDays, now)
	failed = append(failed, f...)
	failed = append(failed, e.classifyItems(e.st.Items(nil), now)...)
	if len(failed) > 0 {
		logItemFailures(failed)
	}
	e.metrics.RecordWakes(len(woken))

	v := e.publish(now)
	keys := append(woken, snoozed...)
	for repoID, ks := range groupByRepo(keys) {
		e.bus.Publish(Event{Kind: ItemsChanged, Generation: v.Generation, RepoID: repoID, Keys: ks})
	}
	e.bus.Publish(Event{Kind: SectionsRecomputed, Generation: v.Generation, Badge: v.Badge, Counts: v.Counts})
	return nil
}

// Apply runs one intent under the writer lock and publishes the result
func (e *Engine) Apply(in Intent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	now := e.now()
	t := &tx{e: e, now: now, touched: make(map[models.ItemKey]struct{})}
	err := in.apply(t)
	e.metrics.RecordIntent(in.Name(), err)
	if err != nil {
		logger.WithError(err).WithField("intent", in.Name()).Debug("Intent failed")
	}
	if !t.changed() {
		return err
	}

	var items []models.Item
	if t.all {
		items = e.st.Items(nil)
	} else {
		for key := range t.touched {
			if it, ok := e.st.Item(key); ok {
				items = append(items, it)
			}
		}
	}
	if failed := e.classifyItems(items, now); len(failed) > 0 {
		logItemFailures(failed)
	}

	v := e.publish(now)
	for repoID, keys := range groupByRepo(t.keys()) {
		e.bus.Publish(Event{Kind: ItemsChanged, Generation: v.Generation, RepoID: repoID, Keys: keys})
	}
	e.bus.Publish(Event{Kind: SectionsRecomputed, Generation: v.Generation, Badge: v.Badge, Counts: v.Counts})
	return err
}

// Submit queues in for the Run loop and waits for its result
func (e *Engine) Submit(ctx context.Context, in Intent) error {
	req := request{in: in, reply: make(chan error, 1)}
	select {
	case e.queue <- req:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes submitted intents one at a time until ctx is done or the
// engine is closed
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return ErrClosed
		case req := <-e.queue:
			req.reply <- e.Apply(req.in)
		}
	}
}

// SetFilter narrows the section listings of later views. Rapid calls are
// coalesced into one recomputation.
func (e *Engine) SetFilter(text string) {
	e.pendingMu.Lock()
	e.filter = text
	e.pendingMu.Unlock()
	e.debouncer.Notify()
}

// ProposeSettings schedules s to replace the current snapshot after the
// debounce period; later proposals within the period win
func (e *Engine) ProposeSettings(s *models.Settings) {
	e.pendingMu.Lock()
	e.pendingSettings = s
	e.pendingMu.Unlock()
	e.debouncer.Notify()
}

// Flush runs a pending debounced recomputation now
func (e *Engine) Flush() {
	e.debouncer.Flush()
}

func (e *Engine) recompute() {
	e.pendingMu.Lock()
	s := e.pendingSettings
	e.pendingSettings = nil
	e.pendingMu.Unlock()

	var err error
	if s != nil {
		err = e.Apply(UpdateSettings{Settings: s})
	} else {
		err = e.republish()
	}
	if err != nil && !errors.Is(err, ErrClosed) {
		logger.WithError(err).Warn("Debounced recomputation failed")
	}
}

func (e *Engine) republish() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.publish(e.now())
	return nil
}

// Close stops the engine; pending debounced work is dropped and every
// subscription is closed
func (e *Engine) Close() {
	e.debouncer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.done)
	e.bus.Close()
}

// classifyItems classifies items and writes back the ones whose derived
// fields changed. Callers hold e.mu.
func (e *Engine) classifyItems(items []models.Item, now time.Time) []reconcile.ItemError {
	var failed []reconcile.ItemError
	repos := make(map[int64]*models.Repository)

	for i := range items {
		item := items[i]
		repo, ok := repos[item.RepoID]
		if !ok {
			if r, found := e.st.Repository(item.RepoID); found {
				repo = &r
			}
			repos[item.RepoID] = repo
		}

		section, unread, total := item.SectionIndex, item.UnreadCommentCount, item.TotalCommentCount
		e.classifier.Classify(&item, e.st.Comments(item.Key()), repo, now)
		if item.SectionIndex == section && item.UnreadCommentCount == unread && item.TotalCommentCount == total {
			continue
		}
		if err := e.st.PutItem(item); err != nil {
			failed = append(failed, reconcile.ItemError{RepoID: item.RepoID, ServerID: item.ServerID, Err: err})
		}
	}
	return failed
}

// publish builds and stores a new View. Callers hold e.mu.
func (e *Engine) publish(now time.Time) *View {
	e.pendingMu.Lock()
	filter := e.filter
	e.pendingMu.Unlock()

	repos := make(map[int64]models.Repository)
	for _, r := range e.st.Repositories() {
		repos[r.ID] = r
	}

	e.gen++
	v := newView(e.gen, now, e.settings, e.st.Items(nil), e.st.Presets(), repos, filter)
	e.view.Store(v)

	counts := make(map[string]int, len(models.AllSections))
	for _, s := range models.AllSections {
		counts[s.String()] = v.Counts[s]
	}
	e.metrics.SetSectionCounts(counts)
	e.metrics.SetBadge(v.Badge)
	return v
}

func repoName(st store.Store, repoID int64) string {
	if r, ok := st.Repository(repoID); ok && r.FullName != "" {
		return r.FullName
	}
	return "unknown"
}

func groupByRepo(keys []models.ItemKey) map[int64][]models.ItemKey {
	out := make(map[int64][]models.ItemKey)
	for _, k := range keys {
		out[k.RepoID] = append(out[k.RepoID], k)
	}
	return out
}

func logItemFailures(failed []reconcile.ItemError) {
	for _, f := range failed {
		logger.WithFields(log.Fields{
			"repo": f.RepoID,
			"item": f.ServerID,
		}).WithError(f.Err).Warn("Item update failed")
	}
}
