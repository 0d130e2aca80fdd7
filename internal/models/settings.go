package models

import "time"

// Settings is an immutable snapshot of everything the classifier and the
// snooze engine read. A new snapshot replaces the old one; it is never mutated.
type Settings struct {
	UserID    int64
	UserLogin string

	AssignmentPolicy              AssignmentPolicy
	ShowCommentsEverywhere        bool
	AutoParticipateOnMentions     bool
	AutoParticipateOnTeamMentions bool
	AutoSnoozeDays                int

	// Team handles such as "@org/team" that count as a mention of the user.
	TeamReferrals []string
}

// RemoteItem is the payload a remote item source yields for one pull request or issue
type RemoteItem struct {
	ServerID     int64
	Number       int
	Kind         ItemKind
	Title        string
	URL          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
	State        ItemState
	AuthorID     int64
	AuthorLogin  string
	Body         string
	AssignedToMe bool
	Mergeable    *bool
	Labels       []Label
	Comments     []RemoteComment
}

// RemoteComment is the payload of one comment of a RemoteItem
type RemoteComment struct {
	ServerID    int64
	AuthorID    int64
	AuthorLogin string
	Body        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
