// Package sync is the refresh controller: it fetches repositories from a
// remote source concurrently and commits each one through the engine.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/engine"
	"github.com/wesm/argh/internal/metrics"
	"github.com/wesm/argh/internal/models"
)

var logger = log.WithField("package", "sync")

const (
	// DefaultClosedLookback bounds the closed items fetched on a first sync
	DefaultClosedLookback = 14 * 24 * time.Hour
	// sinceMargin overlaps consecutive fetch windows to absorb clock skew
	sinceMargin = 5 * time.Minute
)

// ScopeError is the failure of one repository in a pass. Nothing of that
// repository was committed.
type ScopeError struct {
	Repo string
	Err  error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Repo, e.Err)
}

func (e *ScopeError) Unwrap() error {
	return e.Err
}

// SyncLog records when each repository was last synced successfully
type SyncLog interface {
	GetLastSyncTime(repoFullName string) (time.Time, error)
	UpdateLastSyncTime(repoFullName string, syncTime time.Time) error
}

// Options tune a Syncer
type Options struct {
	Workers        int
	ClosedLookback time.Duration
	Metrics        metrics.MetricsCollector
	Now            func() time.Time
}

// Syncer handles syncing remote items into the engine
type Syncer struct {
	source  api.Source
	engine  *engine.Engine
	log     SyncLog
	workers int

	closedLookback time.Duration
	metrics        metrics.MetricsCollector
	now            func() time.Time

	mu           gosync.Mutex
	limitedUntil time.Time
}

// New creates a new syncer
func New(source api.Source, eng *engine.Engine, syncLog SyncLog, opts Options) *Syncer {
	if opts.ClosedLookback <= 0 {
		opts.ClosedLookback = DefaultClosedLookback
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Syncer{
		source:         source,
		engine:         eng,
		log:            syncLog,
		closedLookback: opts.ClosedLookback,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
	s.SetWorkers(opts.Workers)
	return s
}

// SetWorkers sets the number of repositories fetched in parallel
func (s *Syncer) SetWorkers(workers int) {
	if workers < 1 {
		workers = 5
	}
	if workers > 10 {
		workers = 10 // Cap at 10 to avoid overwhelming GitHub API
	}
	s.workers = workers
}

// RateLimitedUntil returns when the remote source accepts requests again,
// or the zero time when it is not known to be limiting
func (s *Syncer) RateLimitedUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limitedUntil.Before(s.now()) {
		return time.Time{}
	}
	return s.limitedUntil
}

func (s *Syncer) noteRateLimit(err error) {
	var rle *api.RateLimitError
	if !errors.As(err, &rle) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rle.ResetTime.After(s.limitedUntil) {
		s.limitedUntil = rle.ResetTime
	}
	logger.WithField("reset", rle.ResetTime.Format(time.RFC3339)).Warn("Rate limit hit, pausing fetches")
}

// AddRepository resolves "owner/name" against the remote source and
// registers it with the engine
func (s *Syncer) AddRepository(ctx context.Context, repoStr string, policy models.Repository) (*models.Repository, error) {
	owner, name, err := ParseRepositoryString(repoStr)
	if err != nil {
		return nil, err
	}
	repo, err := s.source.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", repoStr, err)
	}
	repo.DisplayPolicyForPRs = policy.DisplayPolicyForPRs
	repo.DisplayPolicyForIssues = policy.DisplayPolicyForIssues
	repo.ItemHidingPolicy = policy.ItemHidingPolicy
	repo.GroupLabel = policy.GroupLabel

	if err := s.engine.Apply(engine.PutRepository{Repository: *repo}); err != nil {
		return nil, err
	}
	return repo, nil
}

type fetched struct {
	items   []models.RemoteItem
	started time.Time
	err     error
	ready   chan struct{}
}

// SyncAll fetches every repository, up to the worker count at a time, and
// commits them one by one in the given order. A failing repository does not
// stop the others; its error is returned as a *ScopeError inside the joined
// error. Cancellation is honoured between commits only, so a repository is
// either committed entirely or not at all.
func (s *Syncer) SyncAll(ctx context.Context, repos []models.Repository) (map[int64]*engine.CommitResult, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	me := s.engine.Settings().UserLogin
	results := make([]*fetched, len(repos))
	for i := range results {
		results[i] = &fetched{ready: make(chan struct{})}
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	go func() {
		for i := range repos {
			g.Go(func() error {
				defer close(results[i].ready)
				results[i].started = s.now()
				results[i].items, results[i].err = s.fetch(fetchCtx, &repos[i], me)
				return nil
			})
		}
		_ = g.Wait()
	}()

	committed := make(map[int64]*engine.CommitResult, len(repos))
	var errs []error
	for i := range repos {
		repo := &repos[i]
		select {
		case <-results[i].ready:
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := s.commit(repo, results[i])
		if err != nil {
			errs = append(errs, &ScopeError{Repo: repo.FullName, Err: err})
			continue
		}
		committed[repo.ID] = res
	}
	return committed, errors.Join(errs...)
}

// SyncRepository fetches and commits one repository
func (s *Syncer) SyncRepository(ctx context.Context, repo models.Repository) (*engine.CommitResult, error) {
	f := &fetched{started: s.now()}
	f.items, f.err = s.fetch(ctx, &repo, s.engine.Settings().UserLogin)
	res, err := s.commit(&repo, f)
	if err != nil {
		return nil, &ScopeError{Repo: repo.FullName, Err: err}
	}
	return res, nil
}

func (s *Syncer) fetch(ctx context.Context, repo *models.Repository, me string) ([]models.RemoteItem, error) {
	if until := s.RateLimitedUntil(); !until.IsZero() {
		return nil, &api.RateLimitError{ResetTime: until, Err: errors.New("skipped while rate limited")}
	}

	since, err := s.since(repo.FullName)
	if err != nil {
		return nil, err
	}

	// Comments of items whose local copy is current are ignored by the
	// reconciler, so they need not be fetched.
	view := s.engine.View()
	known := func(serverID int64, updatedAt time.Time) bool {
		it, ok := view.Item(models.ItemKey{RepoID: repo.ID, ServerID: serverID})
		return ok && it.UpdatedAt.Equal(updatedAt)
	}

	logger.WithFields(log.Fields{
		"repo":  repo.FullName,
		"since": since.Format(time.RFC3339),
	}).Debug("Fetching repository")

	start := time.Now()
	items, err := s.source.FetchItems(ctx, repo.Owner, repo.Name, api.FetchOptions{Since: since, Me: me, Known: known})
	s.metrics.RecordFetch(repo.FullName, time.Since(start), err)
	if err != nil {
		s.noteRateLimit(err)
		return nil, err
	}
	return items, nil
}

func (s *Syncer) since(fullName string) (time.Time, error) {
	last, err := s.log.GetLastSyncTime(fullName)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}
	if last.IsZero() {
		return s.now().Add(-s.closedLookback), nil
	}
	return last.Add(-sinceMargin), nil
}

func (s *Syncer) commit(repo *models.Repository, f *fetched) (*engine.CommitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	res, err := s.engine.CommitScope(repo.ID, f.items)
	if err != nil {
		return nil, err
	}
	if err := s.log.UpdateLastSyncTime(repo.FullName, f.started); err != nil {
		logger.WithError(err).WithField("repo", repo.FullName).Warn("Failed to record sync time")
	}
	return res, nil
}

// ParseRepositoryString parses a repository string in the format "owner/name"
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}
