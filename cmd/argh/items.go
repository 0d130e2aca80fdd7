package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/wesm/argh/internal/engine"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/snooze"
	"github.com/wesm/argh/internal/store"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func parseSection(s string) (models.Section, error) {
	for _, sec := range models.AllSections {
		if strings.EqualFold(sec.String(), s) {
			return sec, nil
		}
	}
	return 0, fmt.Errorf("unknown section %q", s)
}

func itemRef(names map[int64]string, it *models.Item) string {
	return fmt.Sprintf("%s#%d", names[it.RepoID], it.Number)
}

func itemStatus(it *models.Item, now time.Time) string {
	var parts []string
	if it.UnreadCommentCount > 0 {
		parts = append(parts, fmt.Sprintf("%d unread", it.UnreadCommentCount))
	}
	if it.Muted {
		parts = append(parts, "muted")
	}
	if snooze.StateOf(it, now) == snooze.Snoozed {
		if it.SnoozedUntil.Equal(models.Forever) {
			parts = append(parts, "snoozed")
		} else {
			parts = append(parts, "snoozed until "+it.SnoozedUntil.Local().Format("Mon Jan 2 15:04"))
		}
	}
	if it.State != models.StateOpen {
		parts = append(parts, it.State.String())
	}
	return strings.Join(parts, ", ")
}

// parseItemRef splits "owner/name#number"
func parseItemRef(ref string) (string, int, error) {
	repo, num, ok := strings.Cut(ref, "#")
	if !ok || !strings.Contains(repo, "/") {
		return "", 0, fmt.Errorf("invalid item %q, expected owner/name#number", ref)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("invalid item number in %q", ref)
	}
	return repo, n, nil
}

func (a *app) resolveItem(ref string) (models.ItemKey, error) {
	name, number, err := parseItemRef(ref)
	if err != nil {
		return models.ItemKey{}, err
	}
	repo, ok := a.repositoryByName(name)
	if !ok {
		return models.ItemKey{}, fmt.Errorf("repository %s: %w", name, store.ErrNotFound)
	}
	items := a.store.Items(func(it *models.Item) bool {
		return it.RepoID == repo.ID && it.Number == number
	})
	if len(items) == 0 {
		return models.ItemKey{}, fmt.Errorf("item %s: %w", ref, store.ErrNotFound)
	}
	return items[0].Key(), nil
}

// itemCmd builds a command applying the intent made by fn to one item
func itemCmd(a *app, use, short string, fn func(models.ItemKey) engine.Intent) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <owner/name#number>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			key, err := a.resolveItem(args[0])
			if err != nil {
				return err
			}
			return a.engine.Apply(fn(key))
		}),
	}
}

func newReadCmd(a *app) *cobra.Command {
	return itemCmd(a, "read", "Mark an item read", func(k models.ItemKey) engine.Intent { return engine.MarkRead{Key: k} })
}

func newUnreadCmd(a *app) *cobra.Command {
	return itemCmd(a, "unread", "Mark an item unread", func(k models.ItemKey) engine.Intent { return engine.MarkUnread{Key: k} })
}

func newMuteCmd(a *app) *cobra.Command {
	return itemCmd(a, "mute", "Hide an item until unmuted", func(k models.ItemKey) engine.Intent { return engine.Mute{Key: k} })
}

func newUnmuteCmd(a *app) *cobra.Command {
	return itemCmd(a, "unmute", "Unmute an item", func(k models.ItemKey) engine.Intent { return engine.Unmute{Key: k} })
}

func newWakeCmd(a *app) *cobra.Command {
	return itemCmd(a, "wake", "Wake a snoozed item", func(k models.ItemKey) engine.Intent { return engine.Wake{Key: k} })
}

func newRemoveCmd(a *app) *cobra.Command {
	return itemCmd(a, "remove", "Delete an item locally", func(k models.ItemKey) engine.Intent { return engine.Remove{Key: k} })
}

func newCatchUpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catch-up [owner/name]",
		Short: "Mark every item read, or every item of one repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			var in engine.CatchUpAll
			if len(args) == 1 {
				repo, ok := a.repositoryByName(args[0])
				if !ok {
					return fmt.Errorf("repository %s: %w", args[0], store.ErrNotFound)
				}
				in.RepoID = repo.ID
			}
			return a.engine.Apply(in)
		}),
	}
}

func newSnoozeCmd(a *app) *cobra.Command {
	var preset, until string
	cmd := &cobra.Command{
		Use:   "snooze <owner/name#number>",
		Short: "Snooze an item with a preset or until a time",
		Long: strings.TrimSpace(`
Snooze an item with --preset, given as a preset id or its position in
"argh presets list", or until a time given with --until. The time may be
RFC 3339 or natural language such as "tomorrow at 9am" or "in 3 days".`),
		Args: cobra.ExactArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			if (preset == "") == (until == "") {
				return errors.New("exactly one of --preset and --until is required")
			}
			key, err := a.resolveItem(args[0])
			if err != nil {
				return err
			}
			if preset != "" {
				p, err := findPreset(a.engine.View().Presets, preset)
				if err != nil {
					return err
				}
				return a.engine.Apply(engine.Snooze{Key: key, PresetID: p.ID})
			}
			t, err := parseUntil(until, time.Now())
			if err != nil {
				return err
			}
			if err := a.engine.Apply(engine.SnoozeUntil{Key: key, Until: t}); err != nil {
				return err
			}
			writeOut(cmd, "Snoozed until %s\n", t.Local().Format("Mon Jan 2 15:04"))
			return nil
		}),
	}
	cmd.Flags().StringVar(&preset, "preset", "", "Preset id or 1-based position")
	cmd.Flags().StringVar(&until, "until", "", "Wake time")
	return cmd
}

// findPreset looks a preset up by id or by its 1-based position
func findPreset(presets []models.SnoozePreset, ref string) (models.SnoozePreset, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(presets) {
			return models.SnoozePreset{}, fmt.Errorf("%w: position %d", snooze.ErrUnknownPreset, n)
		}
		return presets[n-1], nil
	}
	for _, p := range presets {
		if p.ID == ref {
			return p, nil
		}
	}
	return models.SnoozePreset{}, fmt.Errorf("%w: %s", snooze.ErrUnknownPreset, ref)
}

var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseUntil reads an RFC 3339 timestamp or a natural language time
// relative to now
func parseUntil(text string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	r, err := timeParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", text)
	}
	return r.Time, nil
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "clear <merged|closed>",
		Short:     "Delete every merged or closed item",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"merged", "closed"},
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			state, err := models.ParseItemState(args[0])
			if err != nil {
				return err
			}
			return a.engine.Apply(engine.Clear{State: state})
		}),
	}
}
