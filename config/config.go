package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/snooze"
)

const (
	// EnvGithubToken is the environment variable name for the GitHub API token
	EnvGithubToken = "ARGH_GITHUB_TOKEN"

	APIREST    = "rest"
	APIGraphQL = "graphql"
)

// Config represents the application configuration
type Config struct {
	// GitHub API token for authentication (optional, can be set via ARGH_GITHUB_TOKEN env var)
	GitHubToken string `yaml:"github_token,omitempty"`

	// API selects the remote source. Item ids differ between the two, so
	// a database must keep using the API it was filled with.
	API string `yaml:"api,omitempty"`

	// Path to the SQLite database file, relative to the config file
	DatabasePath string `yaml:"database_path"`

	// List of repositories to sync in the format "owner/name"
	Repositories []string              `yaml:"repositories"`
	RepoPolicies map[string]RepoPolicy `yaml:"repo_policies,omitempty"`

	// Discovered from the API when empty
	User  UserConfig `yaml:"user,omitempty"`
	Teams []string   `yaml:"teams,omitempty"`

	AssignmentPolicy              string `yaml:"assignment_policy,omitempty"`
	ShowCommentsEverywhere        bool   `yaml:"show_comments_everywhere"`
	AutoParticipateOnMentions     bool   `yaml:"auto_participate_on_mentions"`
	AutoParticipateOnTeamMentions bool   `yaml:"auto_participate_on_team_mentions"`
	AutoSnoozeDays                int    `yaml:"auto_snooze_days"`

	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	Workers           int           `yaml:"workers"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	DeleteGracePasses int           `yaml:"delete_grace_passes"`
	ClosedLookback    time.Duration `yaml:"closed_lookback"`

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file,omitempty"`

	// Seeded into an empty database
	SnoozePresets []PresetConfig `yaml:"snooze_presets,omitempty"`

	path string
}

// RepoPolicy holds the display policies of one repository
type RepoPolicy struct {
	PRs    string `yaml:"prs,omitempty"`
	Issues string `yaml:"issues,omitempty"`
	Hiding string `yaml:"hiding,omitempty"`
	Group  string `yaml:"group,omitempty"`
}

// UserConfig identifies the current user
type UserConfig struct {
	ID    int64  `yaml:"id,omitempty"`
	Login string `yaml:"login,omitempty"`
}

// PresetConfig describes a snooze preset. Presets with At are absolute
// (optionally on Weekday); the others last Days/Hours/Minutes, or forever
// when all three are unset.
type PresetConfig struct {
	Days               *int   `yaml:"days,omitempty"`
	Hours              *int   `yaml:"hours,omitempty"`
	Minutes            *int   `yaml:"minutes,omitempty"`
	Weekday            string `yaml:"weekday,omitempty"`
	At                 string `yaml:"at,omitempty"`
	WakeOnComment      bool   `yaml:"wake_on_comment,omitempty"`
	WakeOnMention      bool   `yaml:"wake_on_mention,omitempty"`
	WakeOnStatusChange bool   `yaml:"wake_on_status_change,omitempty"`
}

// Preset converts the configuration to a preset without an id
func (p PresetConfig) Preset() (models.SnoozePreset, error) {
	out := models.SnoozePreset{
		IsDuration:         p.At == "",
		Days:               p.Days,
		Hours:              p.Hours,
		Minutes:            p.Minutes,
		WakeOnComment:      p.WakeOnComment,
		WakeOnMention:      p.WakeOnMention,
		WakeOnStatusChange: p.WakeOnStatusChange,
	}
	if out.IsDuration {
		if p.Weekday != "" {
			return out, fmt.Errorf("weekday %q needs an at time", p.Weekday)
		}
		return out, nil
	}

	at, err := time.Parse("15:04", p.At)
	if err != nil {
		return out, fmt.Errorf("invalid preset time %q, expected HH:MM", p.At)
	}
	out.Hour, out.Minute = at.Hour(), at.Minute()
	if out.Weekday, err = snooze.ParseWeekday(p.Weekday); err != nil {
		return out, err
	}
	return out, nil
}

func intp(i int) *int { return &i }

// DefaultPresets are seeded when the configuration lists none
var DefaultPresets = []PresetConfig{
	{Hours: intp(1), WakeOnComment: true, WakeOnMention: true, WakeOnStatusChange: true},
	{At: "09:00", WakeOnComment: true, WakeOnMention: true, WakeOnStatusChange: true},
	{At: "09:00", Weekday: "monday", WakeOnMention: true, WakeOnStatusChange: true},
	{Days: intp(7), WakeOnMention: true},
	{WakeOnMention: true},
}

// DefaultPath returns ~/.config/argh/config.yaml or its platform equivalent
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "argh", "config.yaml")
}

func (c *Config) applyDefaults() {
	if c.API == "" {
		c.API = APIREST
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "argh.db"
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.DeleteGracePasses <= 0 {
		c.DeleteGracePasses = 2
	}
	if c.ClosedLookback <= 0 {
		c.ClosedLookback = 14 * 24 * time.Hour
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:7007"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// LoadConfig loads the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.path = path
	config.applyDefaults()
	if config.API != APIREST && config.API != APIGraphQL {
		return nil, fmt.Errorf("unknown api %q, expected %s or %s", config.API, APIREST, APIGraphQL)
	}
	return &config, nil
}

// Token returns the GitHub token. ARGH_GITHUB_TOKEN wins over the file
// and is never saved.
func (c *Config) Token() string {
	if envToken := os.Getenv(EnvGithubToken); envToken != "" {
		return envToken
	}
	return c.GitHubToken
}

// DatabaseFile returns the database path resolved against the config directory
func (c *Config) DatabaseFile() string {
	if filepath.IsAbs(c.DatabasePath) || c.path == "" {
		return c.DatabasePath
	}
	return filepath.Join(filepath.Dir(c.path), c.DatabasePath)
}

// Settings builds the settings snapshot the engine classifies with
func (c *Config) Settings() (*models.Settings, error) {
	policy, err := models.ParseAssignmentPolicy(c.AssignmentPolicy)
	if err != nil {
		return nil, err
	}
	return &models.Settings{
		UserID:                        c.User.ID,
		UserLogin:                     c.User.Login,
		AssignmentPolicy:              policy,
		ShowCommentsEverywhere:        c.ShowCommentsEverywhere,
		AutoParticipateOnMentions:     c.AutoParticipateOnMentions,
		AutoParticipateOnTeamMentions: c.AutoParticipateOnTeamMentions,
		AutoSnoozeDays:                c.AutoSnoozeDays,
		TeamReferrals:                 append([]string(nil), c.Teams...),
	}, nil
}

// Policy returns a repository carrying the configured display policies of fullName
func (c *Config) Policy(fullName string) (models.Repository, error) {
	var repo models.Repository
	p := c.RepoPolicies[fullName]

	var err error
	if repo.DisplayPolicyForPRs, err = models.ParseDisplayPolicy(p.PRs); err != nil {
		return repo, fmt.Errorf("%s: %w", fullName, err)
	}
	if repo.DisplayPolicyForIssues, err = models.ParseDisplayPolicy(p.Issues); err != nil {
		return repo, fmt.Errorf("%s: %w", fullName, err)
	}
	if repo.ItemHidingPolicy, err = models.ParseHidingPolicy(p.Hiding); err != nil {
		return repo, fmt.Errorf("%s: %w", fullName, err)
	}
	repo.GroupLabel = p.Group
	return repo, nil
}

// Presets converts the configured seed presets, falling back to DefaultPresets
func (c *Config) Presets() ([]models.SnoozePreset, error) {
	src := c.SnoozePresets
	if len(src) == 0 {
		src = DefaultPresets
	}
	out := make([]models.SnoozePreset, 0, len(src))
	for i, pc := range src {
		p, err := pc.Preset()
		if err != nil {
			return nil, fmt.Errorf("snooze preset %d: %w", i+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// AddRepository appends repo unless present and reports whether it was added
func (c *Config) AddRepository(repo string) bool {
	for _, r := range c.Repositories {
		if r == repo {
			return false
		}
	}
	c.Repositories = append(c.Repositories, repo)
	return true
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	config := &Config{
		Repositories:              []string{"example/repo"},
		AssignmentPolicy:          "mine",
		AutoParticipateOnMentions: true,
		SnoozePresets:             DefaultPresets,
	}
	config.applyDefaults()

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(config, path)
}
