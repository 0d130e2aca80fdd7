package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesm/argh/config"
	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/db"
	"github.com/wesm/argh/internal/engine"
	"github.com/wesm/argh/internal/logger"
	"github.com/wesm/argh/internal/metrics"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/store"
	"github.com/wesm/argh/internal/sync"
)

// app holds what every command that touches the database shares
type app struct {
	configPath string

	mu  gosync.Mutex
	cfg *config.Config

	db       *db.DB
	store    *store.WriteThrough
	engine   *engine.Engine
	registry *prometheus.Registry
	metrics  *metrics.Collector
	logs     io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "argh",
		Short:        "Sort the GitHub pull requests and issues that need your attention",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Create a configuration and track a repository
  argh init
  argh add-repo wesm/argh

  # Fetch once and show the sections
  argh sync
  argh sections

  # Keep syncing and serve the HTTP API
  argh serve
`),
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(), "Path to configuration file")

	cmd.AddCommand(
		newInitCmd(a),
		newAddRepoCmd(a),
		newSyncCmd(a),
		newServeCmd(a),
		newSectionsCmd(a),
		newReadCmd(a),
		newUnreadCmd(a),
		newCatchUpCmd(a),
		newMuteCmd(a),
		newUnmuteCmd(a),
		newSnoozeCmd(a),
		newWakeCmd(a),
		newRemoveCmd(a),
		newClearCmd(a),
		newPresetsCmd(a),
	)
	return cmd
}

// withApp opens the configuration, database and engine around fn
func (a *app) withApp(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := a.open()
		defer a.close()
		if err != nil {
			return err
		}
		return fn(cmd, args)
	}
}

func (a *app) open() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logs, err = logger.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	presets, err := cfg.Presets()
	if err != nil {
		return err
	}

	dbPath := cfg.DatabaseFile()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	database, err := db.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = database
	if err := database.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	mem := store.NewMemory()
	if err := database.Load(mem); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	a.store = store.NewWriteThrough(mem, database)

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.NewCollector(a.registry)
	a.engine = engine.New(a.store, settings, engine.Options{
		DeleteGracePasses: cfg.DeleteGracePasses,
		Debounce:          engine.DefaultDebounce,
		Metrics:           a.metrics,
	})

	if len(mem.Presets()) == 0 {
		for _, p := range presets {
			if err := a.engine.Apply(&engine.AddPreset{Preset: p}); err != nil {
				return fmt.Errorf("failed to seed snooze presets: %w", err)
			}
		}
		log.WithField("count", len(presets)).Debug("Seeded snooze presets")
	}
	return a.applyPolicies(cfg)
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.WithError(err).Warn("Failed to close database")
		}
	}
	if a.logs != nil {
		a.logs.Close()
	}
}

func (a *app) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// applyPolicies copies the configured display policies onto the
// repositories already in the database
func (a *app) applyPolicies(cfg *config.Config) error {
	var errs []error
	for _, name := range cfg.Repositories {
		repo, ok := a.repositoryByName(name)
		if !ok {
			continue
		}
		policy, err := cfg.Policy(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if samePolicy(repo, policy) {
			continue
		}
		repo.DisplayPolicyForPRs = policy.DisplayPolicyForPRs
		repo.DisplayPolicyForIssues = policy.DisplayPolicyForIssues
		repo.ItemHidingPolicy = policy.ItemHidingPolicy
		repo.GroupLabel = policy.GroupLabel
		if err := a.engine.Apply(engine.PutRepository{Repository: repo}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func samePolicy(a, b models.Repository) bool {
	return a.DisplayPolicyForPRs == b.DisplayPolicyForPRs &&
		a.DisplayPolicyForIssues == b.DisplayPolicyForIssues &&
		a.ItemHidingPolicy == b.ItemHidingPolicy &&
		a.GroupLabel == b.GroupLabel
}

func (a *app) repositoryByName(fullName string) (models.Repository, bool) {
	for _, r := range a.store.Repositories() {
		if strings.EqualFold(r.FullName, fullName) {
			return r, true
		}
	}
	return models.Repository{}, false
}

// repositories returns the configured repositories known to the database,
// in configuration order
func (a *app) repositories() []models.Repository {
	cfg := a.config()
	out := make([]models.Repository, 0, len(cfg.Repositories))
	for _, name := range cfg.Repositories {
		if r, ok := a.repositoryByName(name); ok {
			out = append(out, r)
		}
	}
	return out
}

// source builds the remote source selected by the configuration
func (a *app) source() (api.Source, error) {
	cfg := a.config()
	token := cfg.Token()
	if token == "" {
		return nil, fmt.Errorf("no GitHub token, set %s or github_token in %s", config.EnvGithubToken, a.configPath)
	}
	if cfg.API == config.APIGraphQL {
		return api.NewGraphQLClient(token, cfg.RequestsPerSecond), nil
	}
	return api.NewGitHubClient(token, cfg.RequestsPerSecond), nil
}

// identify fills in the user and team referrals from the remote source
// when the configuration leaves them empty, and saves them
func (a *app) identify(ctx context.Context, src api.Source) error {
	a.mu.Lock()
	cfg := *a.cfg
	a.mu.Unlock()

	changed := false
	if cfg.User.ID == 0 {
		user, err := src.Viewer(ctx)
		if err != nil {
			return fmt.Errorf("failed to look up the current user: %w", err)
		}
		cfg.User = config.UserConfig{ID: user.ID, Login: user.Login}
		changed = true
		log.WithField("login", user.Login).Info("Identified current user")
	}
	if cfg.AutoParticipateOnTeamMentions && len(cfg.Teams) == 0 {
		teams, err := src.TeamReferrals(ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to look up teams")
		} else if len(teams) > 0 {
			cfg.Teams = teams
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := config.SaveConfig(&cfg, a.configPath); err != nil {
		log.WithError(err).Warn("Failed to save discovered identity")
	}
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = &cfg
	a.mu.Unlock()
	return a.engine.Apply(engine.UpdateSettings{Settings: settings})
}

// register resolves configured repositories missing from the database.
// Repositories that cannot be resolved are logged and skipped.
func (a *app) register(ctx context.Context, syncer *sync.Syncer) error {
	cfg := a.config()
	var errs []error
	for _, name := range cfg.Repositories {
		if _, ok := a.repositoryByName(name); ok {
			continue
		}
		policy, err := cfg.Policy(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		repo, err := syncer.AddRepository(ctx, name, policy)
		if err != nil {
			log.WithError(err).WithField("repo", name).Error("Failed to add repository")
			errs = append(errs, err)
			continue
		}
		log.WithField("repo", repo.FullName).Info("Added repository")
	}
	return errors.Join(errs...)
}

func (a *app) newSyncer(src api.Source) *sync.Syncer {
	cfg := a.config()
	return sync.New(src, a.engine, a.db, sync.Options{
		Workers:        cfg.Workers,
		ClosedLookback: cfg.ClosedLookback,
		Metrics:        a.metrics,
	})
}

// reload applies a changed configuration file to the running engine
func (a *app) reload(cfg *config.Config) {
	a.mu.Lock()
	// Identity discovered at startup is kept when the file omits it.
	if cfg.User.ID == 0 {
		cfg.User = a.cfg.User
	}
	if len(cfg.Teams) == 0 {
		cfg.Teams = a.cfg.Teams
	}
	a.cfg = cfg
	a.mu.Unlock()

	settings, err := cfg.Settings()
	if err != nil {
		log.WithError(err).Warn("Ignoring invalid settings")
		return
	}
	a.engine.ProposeSettings(settings)
	if err := a.applyPolicies(cfg); err != nil {
		log.WithError(err).Warn("Failed to apply repository policies")
	}
	log.Info("Configuration reloaded")
}

func writeOut(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
