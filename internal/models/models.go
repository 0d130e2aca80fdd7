package models

import (
	"fmt"
	"time"
)

// Repository represents a GitHub repository and the display policy attached to it
type Repository struct {
	ID       int64
	Owner    string
	Name     string
	FullName string

	DisplayPolicyForPRs    DisplayPolicy
	DisplayPolicyForIssues DisplayPolicy
	ItemHidingPolicy       HidingPolicy
	GroupLabel             string
}

// DisplayPolicyFor returns the display policy that applies to the given item kind
func (r *Repository) DisplayPolicyFor(kind ItemKind) DisplayPolicy {
	if kind == KindPullRequest {
		return r.DisplayPolicyForPRs
	}
	return r.DisplayPolicyForIssues
}

// User represents a GitHub user
type User struct {
	ID        int64
	Login     string
	AvatarURL string
}

// ItemKey identifies an item within its parent repository
type ItemKey struct {
	RepoID   int64
	ServerID int64
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%d/%d", k.RepoID, k.ServerID)
}

// Item represents a pull request or an issue tracked locally
type Item struct {
	RepoID   int64
	ServerID int64
	Number   int
	Kind     ItemKind
	Title    string
	URL      string

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	AuthorID     int64
	AuthorLogin  string
	Body         string
	State        ItemState
	AssignedToMe bool
	Mergeable    *bool
	Labels       []Label

	// Transient, reset to Unchanged after every pass and never persisted.
	SyncDisposition SyncDisposition

	SectionIndex        Section
	UnreadCommentCount  int
	TotalCommentCount   int
	LastReadCommentDate *time.Time
	Muted               bool
	SnoozedUntil        *time.Time
	SnoozePresetID      string
	// Woken is set when a snooze ends and cleared by the next remote
	// update; auto-snooze skips woken items.
	Woken               bool
	MissingPasses       int
}

// Key returns the identity of the item
func (i *Item) Key() ItemKey {
	return ItemKey{RepoID: i.RepoID, ServerID: i.ServerID}
}

// IsSnoozed reports whether the item is snoozed past now
func (i *Item) IsSnoozed(now time.Time) bool {
	return i.SnoozedUntil != nil && i.SnoozedUntil.After(now)
}

// Comment represents a comment owned by exactly one item
type Comment struct {
	RepoID   int64
	ItemID   int64
	ServerID int64

	AuthorID    int64
	AuthorLogin string
	Body        string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	SyncDisposition SyncDisposition
}

// ItemKey returns the key of the owning item
func (c *Comment) ItemKey() ItemKey {
	return ItemKey{RepoID: c.RepoID, ServerID: c.ItemID}
}

// Label represents a GitHub label
type Label struct {
	ID    int64
	Name  string
	Color string
}

// SnoozePreset is a named snooze configuration
type SnoozePreset struct {
	ID         string
	IsDuration bool

	// Duration presets; all nil means "until manually woken".
	Days    *int
	Hours   *int
	Minutes *int

	// Absolute presets; a nil Weekday matches any day.
	Weekday *time.Weekday
	Hour    int
	Minute  int

	WakeOnComment      bool
	WakeOnMention      bool
	WakeOnStatusChange bool

	SortOrder int
}

// Forever is the wake time of items snoozed until manually woken
var Forever = time.Date(4001, time.January, 1, 0, 0, 0, 0, time.UTC)

// SyncMetadata tracks the last successful sync for a repository
type SyncMetadata struct {
	Repository   string
	LastSyncTime time.Time
}

// ItemEvents records what a sync pass observed for one item
type ItemEvents struct {
	NewComment   bool
	Mention      bool
	StatusChange bool
}

// Any reports whether any event was observed
func (e ItemEvents) Any() bool {
	return e.NewComment || e.Mention || e.StatusChange
}
