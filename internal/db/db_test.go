package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/store"
)

// setupTestDB creates a migrated database in a temporary directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Initialize(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return database
}

func TestInitializeIsIdempotent(t *testing.T) {
	database := setupTestDB(t)
	if err := database.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	database := setupTestDB(t)

	repo := &models.Repository{
		ID: 7, Owner: "acme", Name: "widgets", FullName: "acme/widgets",
		DisplayPolicyForPRs: models.DisplayMineOnly, ItemHidingPolicy: models.HideOthersIssues, GroupLabel: "work",
	}
	if err := database.SaveRepository(repo); err != nil {
		t.Fatalf("SaveRepository failed: %v", err)
	}

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	read := created.Add(time.Hour)
	snoozed := created.Add(48 * time.Hour)
	mergeable := true
	item := &models.Item{
		RepoID: 7, ServerID: 1001, Number: 12, Kind: models.KindPullRequest, Title: "Add gears",
		CreatedAt: created, UpdatedAt: created, State: models.StateOpen, AuthorID: 42, AuthorLogin: "me",
		Mergeable: &mergeable, Labels: []models.Label{{ID: 3, Name: "enhancement", Color: "a2eeef"}},
		SectionIndex: models.SectionSnoozed, UnreadCommentCount: 1, TotalCommentCount: 2,
		LastReadCommentDate: &read, Muted: true, SnoozedUntil: &snoozed, SnoozePresetID: "p1",
		SyncDisposition: models.DispositionNew,
	}
	if err := database.SaveItem(item); err != nil {
		t.Fatalf("SaveItem failed: %v", err)
	}
	comment := &models.Comment{RepoID: 7, ItemID: 1001, ServerID: 5, AuthorID: 9, Body: "hi @me", CreatedAt: created, UpdatedAt: created}
	if err := database.SaveComment(comment); err != nil {
		t.Fatalf("SaveComment failed: %v", err)
	}
	days := 2
	wd := time.Monday
	if err := database.SavePreset(&models.SnoozePreset{ID: "p1", IsDuration: true, Days: &days, WakeOnComment: true}); err != nil {
		t.Fatalf("SavePreset failed: %v", err)
	}
	if err := database.SavePreset(&models.SnoozePreset{ID: "p2", Weekday: &wd, Hour: 9, SortOrder: 1}); err != nil {
		t.Fatalf("SavePreset failed: %v", err)
	}

	mem := store.NewMemory()
	if err := database.Load(mem); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got, ok := mem.Item(models.ItemKey{RepoID: 7, ServerID: 1001})
	if !ok {
		t.Fatal("item not loaded")
	}
	if got.SyncDisposition != models.DispositionUnchanged {
		t.Errorf("disposition persisted: got %v", got.SyncDisposition)
	}
	if got.Title != "Add gears" || got.Kind != models.KindPullRequest || !got.Muted {
		t.Errorf("item fields not restored: %+v", got)
	}
	if got.SnoozedUntil == nil || !got.SnoozedUntil.Equal(snoozed) {
		t.Errorf("snoozed until = %v, want %v", got.SnoozedUntil, snoozed)
	}
	if got.Mergeable == nil || !*got.Mergeable {
		t.Errorf("mergeable not restored")
	}
	if len(got.Labels) != 1 || got.Labels[0].Name != "enhancement" {
		t.Errorf("labels not restored: %+v", got.Labels)
	}
	if n := len(mem.Comments(got.Key())); n != 1 {
		t.Errorf("expected 1 comment, got %d", n)
	}

	presets := mem.Presets()
	if len(presets) != 2 || presets[0].ID != "p1" || presets[1].Weekday == nil || *presets[1].Weekday != time.Monday {
		t.Errorf("presets not restored: %+v", presets)
	}
	if r, ok := mem.Repository(7); !ok || r.DisplayPolicyForPRs != models.DisplayMineOnly || r.GroupLabel != "work" {
		t.Errorf("repository not restored: %+v", r)
	}
}

func TestDeleteItemCascadesComments(t *testing.T) {
	database := setupTestDB(t)

	if err := database.SaveRepository(&models.Repository{ID: 1, Owner: "a", Name: "b", FullName: "a/b"}); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := database.SaveItem(&models.Item{RepoID: 1, ServerID: 2, Title: "x", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := database.SaveComment(&models.Comment{RepoID: 1, ItemID: 2, ServerID: 3, Body: "c", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}

	if err := database.DeleteItem(models.ItemKey{RepoID: 1, ServerID: 2}); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM comments`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected comments to cascade, %d left", count)
	}
}

func TestLastSyncTime(t *testing.T) {
	database := setupTestDB(t)

	got, err := database.GetLastSyncTime("a/b")
	if err != nil {
		t.Fatalf("GetLastSyncTime failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero time for unknown repository, got %v", got)
	}

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := database.UpdateLastSyncTime("a/b", ts); err != nil {
		t.Fatalf("UpdateLastSyncTime failed: %v", err)
	}
	got, err = database.GetLastSyncTime("a/b")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Errorf("last sync time = %v, want %v", got, ts)
	}
}
