package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/snooze"
	"github.com/wesm/argh/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseItemRef(t *testing.T) {
	tests := []struct {
		ref    string
		repo   string
		number int
		ok     bool
	}{
		{"wesm/argh#12", "wesm/argh", 12, true},
		{"wesm/argh", "", 0, false},
		{"argh#12", "", 0, false},
		{"wesm/argh#x", "", 0, false},
		{"wesm/argh#0", "", 0, false},
	}
	for _, tt := range tests {
		repo, n, err := parseItemRef(tt.ref)
		if (err == nil) != tt.ok || repo != tt.repo || n != tt.number {
			t.Errorf("parseItemRef(%q) = %q, %d, %v", tt.ref, repo, n, err)
		}
	}
}

func TestFindPreset(t *testing.T) {
	presets := []models.SnoozePreset{{ID: "a"}, {ID: "b"}}
	if p, err := findPreset(presets, "2"); err != nil || p.ID != "b" {
		t.Errorf("by position: %+v, %v", p, err)
	}
	if p, err := findPreset(presets, "a"); err != nil || p.ID != "a" {
		t.Errorf("by id: %+v, %v", p, err)
	}
	for _, ref := range []string{"0", "3", "c"} {
		if _, err := findPreset(presets, ref); !errors.Is(err, snooze.ErrUnknownPreset) {
			t.Errorf("findPreset(%q) err = %v", ref, err)
		}
	}
}

func TestParseUntil(t *testing.T) {
	now := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

	got, err := parseUntil("2024-06-20T09:00:00Z", now)
	if err != nil || !got.Equal(time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("RFC 3339: %v, %v", got, err)
	}
	got, err = parseUntil("in 2 hours", now)
	if err != nil || !got.Equal(now.Add(2*time.Hour)) {
		t.Errorf("relative: %v, %v", got, err)
	}
	if _, err := parseUntil("whenever", now); err == nil {
		t.Error("expected error for unrecognized time")
	}
}

func TestParseSection(t *testing.T) {
	if s, err := parseSection("participated"); err != nil || s != models.SectionParticipated {
		t.Errorf("parseSection = %v, %v", s, err)
	}
	if _, err := parseSection("inbox"); err == nil {
		t.Error("expected error for unknown section")
	}
}

func TestItemStatus(t *testing.T) {
	now := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
	forever := models.Forever
	it := models.Item{UnreadCommentCount: 2, Muted: true, SnoozedUntil: &forever, State: models.StateMerged}
	if got := itemStatus(&it, now); got != "2 unread, muted, snoozed, merged" {
		t.Errorf("status = %q", got)
	}
	if got := itemStatus(&models.Item{}, now); got != "" {
		t.Errorf("status = %q", got)
	}
}

func TestCommands(t *testing.T) {
	t.Setenv("ARGH_GITHUB_TOKEN", "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := run(t, "--config", path, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}

	out, err := run(t, "--config", path, "presets", "list")
	if err != nil {
		t.Fatalf("presets list: %v", err)
	}
	if !strings.Contains(out, "until manually woken") {
		t.Errorf("default presets not seeded:\n%s", out)
	}

	out, err = run(t, "--config", path, "presets", "add", "--hours", "4", "--wake-on-comment")
	if err != nil || !strings.Contains(out, "4 hours") {
		t.Fatalf("presets add: %q, %v", out, err)
	}
	if _, err := run(t, "--config", path, "presets", "move", "6", "1"); err != nil {
		t.Fatalf("presets move: %v", err)
	}
	out, _ = run(t, "--config", path, "presets", "list")
	if first := strings.SplitN(out, "\n", 2)[0]; !strings.Contains(first, "4 hours") {
		t.Errorf("moved preset not first:\n%s", out)
	}

	out, err = run(t, "--config", path, "sections")
	if err != nil || !strings.Contains(out, "Badge: 0") {
		t.Errorf("sections: %q, %v", out, err)
	}

	if _, err := run(t, "--config", path, "read", "example/repo#1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("read unknown item: %v", err)
	}
	if _, err := run(t, "--config", path, "sync"); err == nil || !strings.Contains(err.Error(), "no GitHub token") {
		t.Errorf("sync without token: %v", err)
	}
}
