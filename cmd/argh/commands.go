package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/argh/config"
	"github.com/wesm/argh/internal/engine"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/server"
	"github.com/wesm/argh/internal/sync"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file if it doesn't exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfig(a.configPath); err != nil {
				return fmt.Errorf("failed to create default configuration: %w", err)
			}
			writeOut(cmd, "Configuration at %s\n", a.configPath)
			return nil
		},
	}
}

func newAddRepoCmd(a *app) *cobra.Command {
	var syncNow bool
	cmd := &cobra.Command{
		Use:   "add-repo <owner/name>",
		Short: "Add a repository to the configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if _, _, err := sync.ParseRepositoryString(name); err != nil {
				return err
			}
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			if !cfg.AddRepository(name) {
				writeOut(cmd, "Repository %s already exists in configuration\n", name)
			} else {
				if err := config.SaveConfig(cfg, a.configPath); err != nil {
					return err
				}
				writeOut(cmd, "Added repository %s to configuration\n", name)
			}
			if !syncNow {
				return nil
			}
			return a.withApp(func(cmd *cobra.Command, _ []string) error {
				return runSync(cmd.Context(), cmd, a, []string{name})
			})(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&syncNow, "sync", false, "Sync the repository right away")
	return cmd
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [owner/name...]",
		Short: "Fetch configured repositories once",
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd, a, args)
		}),
	}
}

func runSync(ctx context.Context, cmd *cobra.Command, a *app, only []string) error {
	src, err := a.source()
	if err != nil {
		return err
	}
	if err := a.identify(ctx, src); err != nil {
		return err
	}
	syncer := a.newSyncer(src)
	regErr := a.register(ctx, syncer)

	repos := a.repositories()
	if len(only) > 0 {
		repos = repos[:0]
		for _, name := range only {
			r, ok := a.repositoryByName(name)
			if !ok {
				return fmt.Errorf("repository %s is not configured", name)
			}
			repos = append(repos, r)
		}
	}

	results, err := syncer.SyncAll(ctx, repos)
	for _, r := range repos {
		res, ok := results[r.ID]
		if !ok {
			continue
		}
		writeOut(cmd, "%s: %d new, %d updated, %d deleted, %d woken, %d auto-snoozed\n",
			r.FullName, res.Created, res.Updated, len(res.Deleted), len(res.Woken), len(res.AutoSnoozed))
	}
	return errors.Join(regErr, err)
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync on a schedule and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.config()
			if addr == "" {
				addr = cfg.ListenAddr
			}
			src, err := a.source()
			if err != nil {
				return err
			}
			if err := a.identify(ctx, src); err != nil {
				return err
			}
			syncer := a.newSyncer(src)
			if err := a.register(ctx, syncer); err != nil {
				log.WithError(err).Warn("Some repositories could not be added")
			}
			scheduler := sync.NewScheduler(syncer, a.engine, a.repositories, cfg.RefreshInterval, 0)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.engine.Run(ctx)
			})
			g.Go(func() error {
				scheduler.Start(ctx)
				return nil
			})
			g.Go(func() error {
				return config.Watch(ctx, a.configPath, func(c *config.Config) {
					a.reload(c)
					if err := a.register(ctx, syncer); err != nil {
						log.WithError(err).Warn("Some repositories could not be added")
					}
				})
			})
			g.Go(func() error {
				log.WithField("addr", addr).Info("Serving API")
				return server.New(a.engine, a.registry).ListenAndServe(ctx, addr)
			})

			err = g.Wait()
			if errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrClosed) {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to listen_addr)")
	return cmd
}

func newSectionsCmd(a *app) *cobra.Command {
	var section, filter string
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "List items by section",
		Args:  cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			sections := models.AllSections
			if section != "" {
				s, err := parseSection(section)
				if err != nil {
					return err
				}
				sections = []models.Section{s}
			}
			if filter != "" {
				a.engine.SetFilter(filter)
				a.engine.Flush()
			}

			v := a.engine.View()
			names := repoNames(a.store.Repositories())
			w := newTable(cmd.OutOrStdout())
			for _, s := range sections {
				items := v.Section(s)
				if section == "" && len(items) == 0 {
					continue
				}
				fmt.Fprintf(w, "%s (%d)\n", s, v.Counts[s])
				for _, it := range items {
					fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", itemRef(names, &it), it.Kind, it.Title, itemStatus(&it, v.At))
				}
			}
			fmt.Fprintf(w, "Badge: %d\n", v.Badge)
			return w.Flush()
		}),
	}
	cmd.Flags().StringVar(&section, "section", "", "Only list one section")
	cmd.Flags().StringVar(&filter, "filter", "", "Only list items matching text")
	return cmd
}

func repoNames(repos []models.Repository) map[int64]string {
	names := make(map[int64]string, len(repos))
	for _, r := range repos {
		names[r.ID] = r.FullName
	}
	return names
}
