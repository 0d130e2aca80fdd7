package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/engine"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/store"
)

var now = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu      gosync.Mutex
	items   map[string][]models.RemoteItem
	errs    map[string]error
	opts    map[string]api.FetchOptions
	fetches int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		items: make(map[string][]models.RemoteItem),
		errs:  make(map[string]error),
		opts:  make(map[string]api.FetchOptions),
	}
}

func (f *fakeSource) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	return &models.Repository{ID: 99, Owner: owner, Name: name, FullName: owner + "/" + name}, nil
}

func (f *fakeSource) FetchItems(ctx context.Context, owner, name string, opts api.FetchOptions) ([]models.RemoteItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := owner + "/" + name
	f.fetches++
	f.opts[full] = opts
	if err := f.errs[full]; err != nil {
		return nil, err
	}
	return f.items[full], nil
}

func (f *fakeSource) Viewer(ctx context.Context) (*models.User, error) {
	return &models.User{ID: 42, Login: "me"}, nil
}

func (f *fakeSource) TeamReferrals(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeSource) lastOpts(repo string) api.FetchOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts[repo]
}

type memLog struct {
	mu    gosync.Mutex
	times map[string]time.Time
}

func (m *memLog) GetLastSyncTime(repo string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.times[repo], nil
}

func (m *memLog) UpdateLastSyncTime(repo string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[repo] = t
	return nil
}

var repos = []models.Repository{
	{ID: 1, Owner: "o", Name: "a", FullName: "o/a"},
	{ID: 2, Owner: "o", Name: "b", FullName: "o/b"},
	{ID: 3, Owner: "o", Name: "c", FullName: "o/c"},
}

func setup(t *testing.T) (*Syncer, *fakeSource, *memLog, *engine.Engine) {
	t.Helper()
	st := store.NewMemory()
	for _, r := range repos {
		if err := st.PutRepository(r); err != nil {
			t.Fatal(err)
		}
	}
	clock := func() time.Time { return now }
	eng := engine.New(st, &models.Settings{UserID: 42, UserLogin: "me"}, engine.Options{Now: clock})
	t.Cleanup(eng.Close)

	src := newFakeSource()
	syncLog := &memLog{times: make(map[string]time.Time)}
	return New(src, eng, syncLog, Options{Workers: 2, Now: clock}), src, syncLog, eng
}

func item(id int64, updated time.Time) models.RemoteItem {
	return models.RemoteItem{
		ServerID:    id,
		Number:      int(id),
		Title:       "item",
		CreatedAt:   updated,
		UpdatedAt:   updated,
		State:       models.StateOpen,
		AuthorID:    7,
		AuthorLogin: "alice",
	}
}

func TestSyncAllCommitsEveryRepository(t *testing.T) {
	s, src, syncLog, eng := setup(t)
	src.items["o/a"] = []models.RemoteItem{item(10, now.Add(-time.Hour))}
	src.items["o/b"] = []models.RemoteItem{item(20, now.Add(-time.Hour)), item(21, now.Add(-time.Hour))}

	results, err := s.SyncAll(context.Background(), repos)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("committed %d repositories, want 3", len(results))
	}
	if results[2].Created != 2 {
		t.Errorf("o/b created = %d, want 2", results[2].Created)
	}
	if eng.View().Len() != 3 {
		t.Errorf("view holds %d items, want 3", eng.View().Len())
	}

	if got := src.lastOpts("o/a").Since; !got.Equal(now.Add(-DefaultClosedLookback)) {
		t.Errorf("first since = %v, want lookback window", got)
	}
	if got := src.lastOpts("o/a").Me; got != "me" {
		t.Errorf("me = %q", got)
	}
	if !syncLog.times["o/c"].Equal(now) {
		t.Errorf("last sync of o/c = %v, want %v", syncLog.times["o/c"], now)
	}

	if _, err := s.SyncAll(context.Background(), repos); err != nil {
		t.Fatal(err)
	}
	if got := src.lastOpts("o/a").Since; !got.Equal(now.Add(-sinceMargin)) {
		t.Errorf("second since = %v, want last sync minus margin", got)
	}
}

func TestSyncAllIsolatesFailingRepository(t *testing.T) {
	s, src, syncLog, eng := setup(t)
	src.items["o/a"] = []models.RemoteItem{item(10, now)}
	src.errs["o/b"] = errors.New("boom")
	src.items["o/c"] = []models.RemoteItem{item(30, now)}

	results, err := s.SyncAll(context.Background(), repos)
	var scopeErr *ScopeError
	if !errors.As(err, &scopeErr) || scopeErr.Repo != "o/b" {
		t.Fatalf("err = %v, want ScopeError for o/b", err)
	}
	if len(results) != 2 {
		t.Errorf("committed %d repositories, want 2", len(results))
	}
	if _, ok := syncLog.times["o/b"]; ok {
		t.Error("failed repository must not advance its sync time")
	}
	if eng.View().Len() != 2 {
		t.Errorf("view holds %d items, want 2", eng.View().Len())
	}
}

func TestFailedFetchKeepsExistingItems(t *testing.T) {
	s, src, _, eng := setup(t)
	src.items["o/a"] = []models.RemoteItem{item(10, now)}
	if _, err := s.SyncRepository(context.Background(), repos[0]); err != nil {
		t.Fatal(err)
	}

	src.errs["o/a"] = errors.New("timeout")
	if _, err := s.SyncRepository(context.Background(), repos[0]); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := eng.View().Item(models.ItemKey{RepoID: 1, ServerID: 10}); !ok {
		t.Error("a failed fetch must not mark items for deletion")
	}
}

func TestKnownItemsAreReported(t *testing.T) {
	s, src, _, _ := setup(t)
	updated := now.Add(-time.Hour)
	src.items["o/a"] = []models.RemoteItem{item(10, updated)}
	if _, err := s.SyncRepository(context.Background(), repos[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SyncRepository(context.Background(), repos[0]); err != nil {
		t.Fatal(err)
	}

	known := src.lastOpts("o/a").Known
	if known == nil || !known(10, updated) {
		t.Error("current item should be known")
	}
	if known(10, now) {
		t.Error("item with a newer remote timestamp should not be known")
	}
	if known(11, updated) {
		t.Error("unseen item should not be known")
	}
}

func TestRateLimitPausesFetches(t *testing.T) {
	s, src, _, eng := setup(t)
	reset := now.Add(10 * time.Minute)
	src.errs["o/a"] = &api.RateLimitError{ResetTime: reset, Err: errors.New("limited")}

	_, err := s.SyncRepository(context.Background(), repos[0])
	var rle *api.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if !s.RateLimitedUntil().Equal(reset) {
		t.Errorf("limited until %v, want %v", s.RateLimitedUntil(), reset)
	}

	before := src.fetches
	if _, err := s.SyncRepository(context.Background(), repos[1]); !errors.As(err, &rle) {
		t.Errorf("err = %v, want RateLimitError while paused", err)
	}
	if src.fetches != before {
		t.Error("source should not be called while rate limited")
	}

	sched := NewScheduler(s, eng, func() []models.Repository { return repos }, time.Minute, 0)
	if err := sched.RunOnce(context.Background()); err != nil {
		t.Errorf("RunOnce while limited: %v", err)
	}
	if src.fetches != before {
		t.Error("scheduled pass should be skipped while rate limited")
	}
}

func TestSyncAllCancelled(t *testing.T) {
	s, src, _, eng := setup(t)
	src.items["o/a"] = []models.RemoteItem{item(10, now)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.SyncAll(ctx, repos)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if eng.View().Len() != 0 {
		t.Error("nothing should be committed after cancellation")
	}
}

func TestAddRepository(t *testing.T) {
	s, _, _, _ := setup(t)
	policy := models.Repository{DisplayPolicyForPRs: models.DisplayMineOnly}

	repo, err := s.AddRepository(context.Background(), "acme/widgets", policy)
	if err != nil {
		t.Fatalf("AddRepository: %v", err)
	}
	if repo.ID != 99 || repo.DisplayPolicyForPRs != models.DisplayMineOnly {
		t.Errorf("repo = %+v", repo)
	}
	if _, err := s.AddRepository(context.Background(), "widgets", policy); err == nil {
		t.Error("expected error for malformed repository")
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	s, src, _, eng := setup(t)
	src.items["o/c"] = []models.RemoteItem{item(30, now)}

	sched := NewScheduler(s, eng, func() []models.Repository { return repos[2:] }, time.Minute, time.Hour)
	if sched.tick != time.Minute {
		t.Errorf("tick = %v, want it capped to the interval", sched.tick)
	}
	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if eng.View().Len() != 1 {
		t.Errorf("view holds %d items, want 1", eng.View().Len())
	}
}

func TestParseRepositoryString(t *testing.T) {
	tests := []struct {
		in      string
		owner   string
		name    string
		wantErr bool
	}{
		{"wesm/argh", "wesm", "argh", false},
		{"argh", "", "", true},
		{"a/b/c", "", "", true},
		{"/argh", "", "", true},
	}
	for _, tt := range tests {
		owner, name, err := ParseRepositoryString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v", tt.in, err)
			continue
		}
		if owner != tt.owner || name != tt.name {
			t.Errorf("%q = %q, %q", tt.in, owner, name)
		}
	}
}
