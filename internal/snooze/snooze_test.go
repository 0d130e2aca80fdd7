package snooze

import (
	"errors"
	"testing"
	"time"

	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/store"
)

func ptr[T any](v T) *T { return &v }

// Wednesday
var now = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

func TestWakeTime(t *testing.T) {
	tests := []struct {
		name   string
		preset models.SnoozePreset
		want   time.Time
	}{
		{
			name:   "duration",
			preset: models.SnoozePreset{IsDuration: true, Days: ptr(1), Hours: ptr(2), Minutes: ptr(30)},
			want:   now.Add(26*time.Hour + 30*time.Minute),
		},
		{
			name:   "indefinite",
			preset: models.SnoozePreset{IsDuration: true},
			want:   models.Forever,
		},
		{
			name:   "later today",
			preset: models.SnoozePreset{Hour: 17},
			want:   time.Date(2024, 6, 12, 17, 0, 0, 0, time.UTC),
		},
		{
			name:   "earlier hour rolls to tomorrow",
			preset: models.SnoozePreset{Hour: 9},
			want:   time.Date(2024, 6, 13, 9, 0, 0, 0, time.UTC),
		},
		{
			name:   "same weekday later the same day",
			preset: models.SnoozePreset{Weekday: ptr(time.Wednesday), Hour: 18, Minute: 15},
			want:   time.Date(2024, 6, 12, 18, 15, 0, 0, time.UTC),
		},
		{
			name:   "same weekday and time is next week",
			preset: models.SnoozePreset{Weekday: ptr(time.Wednesday), Hour: 15},
			want:   time.Date(2024, 6, 19, 15, 0, 0, 0, time.UTC),
		},
		{
			name:   "next monday",
			preset: models.SnoozePreset{Weekday: ptr(time.Monday), Hour: 9},
			want:   time.Date(2024, 6, 17, 9, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WakeTime(&tt.preset, now)
			if !got.Equal(tt.want) {
				t.Errorf("WakeTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	p := models.SnoozePreset{IsDuration: true, Days: ptr(2), WakeOnComment: true}
	if got := Describe(&p); got == "" {
		t.Error("expected a description")
	}
	if got := Describe(&models.SnoozePreset{IsDuration: true}); got != "until manually woken" {
		t.Errorf("unexpected description %q", got)
	}
}

func TestShouldWake(t *testing.T) {
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)
	preset := &models.SnoozePreset{ID: "p", WakeOnComment: true}

	tests := []struct {
		name   string
		item   models.Item
		preset *models.SnoozePreset
		ev     models.ItemEvents
		want   WakeReason
	}{
		{"not snoozed", models.Item{}, nil, models.ItemEvents{NewComment: true}, ""},
		{"expired", models.Item{SnoozedUntil: &past}, nil, models.ItemEvents{}, ReasonExpired},
		{"quiet", models.Item{SnoozedUntil: &future, SnoozePresetID: "p"}, preset, models.ItemEvents{}, ""},
		{"comment", models.Item{SnoozedUntil: &future, SnoozePresetID: "p"}, preset, models.ItemEvents{NewComment: true}, ReasonComment},
		{"mention without trigger", models.Item{SnoozedUntil: &future, SnoozePresetID: "p"}, preset, models.ItemEvents{Mention: true}, ""},
		{"missing preset", models.Item{SnoozedUntil: &future, SnoozePresetID: "gone"}, nil, models.ItemEvents{}, ReasonMissingPreset},
		{"explicit time ignores events", models.Item{SnoozedUntil: &future}, nil, models.ItemEvents{NewComment: true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wake, reason := ShouldWake(&tt.item, tt.preset, tt.ev, now)
			if wake != (tt.want != "") || reason != tt.want {
				t.Errorf("ShouldWake() = %v, %q, want %q", wake, reason, tt.want)
			}
		})
	}
}

func TestStateTransitions(t *testing.T) {
	item := models.Item{RepoID: 1, ServerID: 1, Woken: true}
	if StateOf(&item, now) != Active {
		t.Fatal("expected Active")
	}

	Snooze(&item, &models.SnoozePreset{ID: "p", IsDuration: true, Days: ptr(1)}, now)
	if StateOf(&item, now) != Snoozed || item.SnoozePresetID != "p" || item.Woken {
		t.Fatalf("unexpected state after snooze: %+v", item)
	}
	if StateOf(&item, now.Add(48*time.Hour)) != Active {
		t.Error("expired snooze should read as Active")
	}

	Wake(&item)
	if item.SnoozedUntil != nil || item.SnoozePresetID != "" || !item.Woken {
		t.Errorf("wake did not clear the snooze: %+v", item)
	}
}

func seed(t *testing.T, st store.Store, items ...models.Item) {
	t.Helper()
	for _, it := range items {
		if err := st.PutItem(it); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAutoWake(t *testing.T) {
	st := store.NewMemory()
	if err := st.PutPreset(models.SnoozePreset{ID: "p", IsDuration: true, WakeOnComment: true}); err != nil {
		t.Fatal(err)
	}
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)
	seed(t, st,
		models.Item{RepoID: 1, ServerID: 1, SnoozedUntil: &past},
		models.Item{RepoID: 1, ServerID: 2, SnoozedUntil: &future, SnoozePresetID: "p"},
		models.Item{RepoID: 1, ServerID: 3, SnoozedUntil: &future, SnoozePresetID: "p"},
		models.Item{RepoID: 1, ServerID: 4, SnoozedUntil: &future, SnoozePresetID: "deleted"},
		models.Item{RepoID: 2, ServerID: 5, SnoozedUntil: &past},
	)

	events := map[models.ItemKey]models.ItemEvents{
		{RepoID: 1, ServerID: 2}: {NewComment: true},
	}
	woken, failed := AutoWake(st, 1, events, now)
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}
	if len(woken) != 3 {
		t.Fatalf("expected 3 woken items, got %v", woken)
	}

	still, _ := st.Item(models.ItemKey{RepoID: 1, ServerID: 3})
	if still.SnoozedUntil == nil {
		t.Error("item without events should stay snoozed")
	}
	other, _ := st.Item(models.ItemKey{RepoID: 2, ServerID: 5})
	if other.SnoozedUntil == nil {
		t.Error("other repositories must not be scanned")
	}

	woken, _ = AutoWake(st, 0, nil, now)
	if len(woken) != 1 || woken[0].RepoID != 2 {
		t.Errorf("expected the global scan to wake item 5, got %v", woken)
	}
}

func TestAutoSnooze(t *testing.T) {
	st := store.NewMemory()
	old := now.AddDate(0, 0, -30)
	seed(t, st,
		models.Item{RepoID: 1, ServerID: 1, UpdatedAt: old},
		models.Item{RepoID: 1, ServerID: 2, UpdatedAt: now},
		models.Item{RepoID: 1, ServerID: 3, UpdatedAt: old, Woken: true},
	)

	if got, _ := AutoSnooze(st, 0, 0, now); got != nil {
		t.Errorf("disabled auto-snooze should do nothing, got %v", got)
	}

	got, failed := AutoSnooze(st, 0, 14, now)
	if len(failed) != 0 || len(got) != 1 || got[0].ServerID != 1 {
		t.Fatalf("expected only item 1 snoozed, got %v %v", got, failed)
	}
	item, _ := st.Item(got[0])
	if item.SnoozedUntil == nil || !item.SnoozedUntil.Equal(models.Forever) {
		t.Errorf("expected indefinite snooze, got %v", item.SnoozedUntil)
	}
}

func TestPresetOrdering(t *testing.T) {
	st := store.NewMemory()
	var ids []string
	for i := 0; i < 3; i++ {
		p, err := AddPreset(st, models.SnoozePreset{IsDuration: true, Hours: ptr(i + 1)})
		if err != nil {
			t.Fatal(err)
		}
		if p.ID == "" || p.SortOrder != i {
			t.Fatalf("unexpected preset %+v", p)
		}
		ids = append(ids, p.ID)
	}

	if err := MovePreset(st, ids[2], 0); err != nil {
		t.Fatal(err)
	}
	presets := st.Presets()
	want := []string{ids[2], ids[0], ids[1]}
	for i, p := range presets {
		if p.ID != want[i] || p.SortOrder != i {
			t.Errorf("position %d: got %s/%d, want %s/%d", i, p.ID, p.SortOrder, want[i], i)
		}
	}

	if err := MovePreset(st, "nope", 0); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("expected ErrUnknownPreset, got %v", err)
	}
}

func TestDeletePreset(t *testing.T) {
	st := store.NewMemory()
	a, _ := AddPreset(st, models.SnoozePreset{ID: "a", IsDuration: true, Hours: ptr(1), WakeOnComment: true})
	b, _ := AddPreset(st, models.SnoozePreset{ID: "b", IsDuration: true, Hours: ptr(2)})
	c, _ := AddPreset(st, models.SnoozePreset{ID: "c", IsDuration: true, Hours: ptr(3)})

	item := models.Item{RepoID: 1, ServerID: 1}
	Snooze(&item, &b, now)
	seed(t, st, item)

	if _, err := DeletePreset(st, b.ID, DecideNone); !errors.Is(err, ErrPresetInUse) {
		t.Fatalf("expected ErrPresetInUse, got %v", err)
	}
	if _, ok := st.Preset(b.ID); !ok {
		t.Fatal("refused delete must keep the preset")
	}

	affected, err := DeletePreset(st, b.ID, DecideDetach)
	if err != nil {
		t.Fatal(err)
	}
	if len(affected) != 1 {
		t.Errorf("expected one affected item, got %v", affected)
	}
	kept, _ := st.Item(item.Key())
	if kept.SnoozedUntil == nil || kept.SnoozePresetID != "" {
		t.Errorf("item should stay snoozed without a preset, got %+v", kept)
	}

	presets := st.Presets()
	if len(presets) != 2 || presets[0].ID != a.ID || presets[1].ID != c.ID || presets[1].SortOrder != 1 {
		t.Errorf("presets not renumbered: %+v", presets)
	}

	other := models.Item{RepoID: 1, ServerID: 2}
	Snooze(&other, &a, now)
	seed(t, st, other)
	if _, err := DeletePreset(st, a.ID, DecideWakeItems); err != nil {
		t.Fatal(err)
	}
	woke, _ := st.Item(other.Key())
	if woke.SnoozedUntil != nil {
		t.Error("item should be woken")
	}

	if _, err := DeletePreset(st, "missing", DecideWakeItems); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("expected ErrUnknownPreset, got %v", err)
	}
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday("Mon")
	if err != nil || d == nil || *d != time.Monday {
		t.Errorf("Mon = %v, %v", d, err)
	}
	d, err = ParseWeekday("saturday")
	if err != nil || d == nil || *d != time.Saturday {
		t.Errorf("saturday = %v, %v", d, err)
	}
	if d, err := ParseWeekday("any"); err != nil || d != nil {
		t.Errorf("any = %v, %v", d, err)
	}
	if _, err := ParseWeekday("someday"); err == nil {
		t.Error("expected error")
	}
}
