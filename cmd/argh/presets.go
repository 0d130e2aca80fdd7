package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wesm/argh/config"
	"github.com/wesm/argh/internal/engine"
	"github.com/wesm/argh/internal/snooze"
)

func newPresetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage snooze presets",
	}
	cmd.AddCommand(
		newPresetsListCmd(a),
		newPresetsAddCmd(a),
		newPresetsDeleteCmd(a),
		newPresetsMoveCmd(a),
	)
	return cmd
}

func newPresetsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snooze presets in order",
		Args:  cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			w := newTable(cmd.OutOrStdout())
			for i, p := range a.engine.View().Presets {
				fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, p.ID, snooze.Describe(&p))
			}
			return w.Flush()
		}),
	}
}

func newPresetsAddCmd(a *app) *cobra.Command {
	var pc config.PresetConfig
	var days, hours, minutes int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a snooze preset",
		Example: `  argh presets add --hours 4 --wake-on-comment
  argh presets add --at 09:00 --weekday monday`,
		Args: cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("days") {
				pc.Days = &days
			}
			if cmd.Flags().Changed("hours") {
				pc.Hours = &hours
			}
			if cmd.Flags().Changed("minutes") {
				pc.Minutes = &minutes
			}
			p, err := pc.Preset()
			if err != nil {
				return err
			}
			in := &engine.AddPreset{Preset: p}
			if err := a.engine.Apply(in); err != nil {
				return err
			}
			writeOut(cmd, "Added preset %s (%s)\n", in.Preset.ID, snooze.Describe(&in.Preset))
			return nil
		}),
	}
	f := cmd.Flags()
	f.IntVar(&days, "days", 0, "Snooze for days")
	f.IntVar(&hours, "hours", 0, "Snooze for hours")
	f.IntVar(&minutes, "minutes", 0, "Snooze for minutes")
	f.StringVar(&pc.At, "at", "", "Snooze until a time of day (HH:MM)")
	f.StringVar(&pc.Weekday, "weekday", "", "Day of the week for --at")
	f.BoolVar(&pc.WakeOnComment, "wake-on-comment", false, "Wake on new comments")
	f.BoolVar(&pc.WakeOnMention, "wake-on-mention", false, "Wake when mentioned")
	f.BoolVar(&pc.WakeOnStatusChange, "wake-on-status-change", false, "Wake when merged or closed")
	return cmd
}

func newPresetsDeleteCmd(a *app) *cobra.Command {
	var wake, detach bool
	cmd := &cobra.Command{
		Use:   "delete <id|position>",
		Short: "Delete a snooze preset",
		Long: `Delete a snooze preset. A preset still used by snoozed items is only
deleted with --wake, which wakes those items, or --detach, which keeps them
snoozed until their wake time without the preset's wake triggers.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			p, err := findPreset(a.engine.View().Presets, args[0])
			if err != nil {
				return err
			}
			in := engine.DeletePreset{ID: p.ID}
			switch {
			case wake:
				in.Decision = snooze.DecideWakeItems
			case detach:
				in.Decision = snooze.DecideDetach
			}
			return a.engine.Apply(in)
		}),
	}
	cmd.Flags().BoolVar(&wake, "wake", false, "Wake items snoozed with the preset")
	cmd.Flags().BoolVar(&detach, "detach", false, "Detach snoozed items from the preset")
	cmd.MarkFlagsMutuallyExclusive("wake", "detach")
	return cmd
}

func newPresetsMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id|position> <new position>",
		Short: "Move a snooze preset",
		Args:  cobra.ExactArgs(2),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			p, err := findPreset(a.engine.View().Presets, args[0])
			if err != nil {
				return err
			}
			to, err := strconv.Atoi(args[1])
			if err != nil || to < 1 {
				return fmt.Errorf("invalid position %q", args[1])
			}
			return a.engine.Apply(engine.MovePreset{ID: p.ID, Index: to - 1})
		}),
	}
}
