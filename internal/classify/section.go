// Package classify assigns every item to exactly one display section.
//
// The rules are evaluated in a fixed order and the first match wins:
//
//	1. snoozed into the future        -> Snoozed
//	2. merged / closed                -> Merged / Closed
//	3. authored, or assigned (mine)   -> Mine
//	4. assigned (participated), or
//	   the user has commented         -> Participated
//	5. otherwise                      -> All
//	6. All items mentioning the user or one of the user's teams
//	   in unread comments (or the body, for teams) -> Participated
//	7. repository display and hiding policies may force Hidden
//	8. muted items are always Hidden
//
// Snoozed items skip step 7 but not step 8.
package classify

import (
	"time"

	"github.com/wesm/argh/internal/models"
)

// Classifier classifies items against one immutable settings snapshot
type Classifier struct {
	settings *models.Settings
	matcher  *Matcher
}

// New creates a Classifier for the settings snapshot s
func New(s *models.Settings) *Classifier {
	return &Classifier{settings: s, matcher: NewMatcher(s)}
}

// Matcher exposes the mention matcher built for the snapshot
func (c *Classifier) Matcher() *Matcher {
	return c.matcher
}

// Classify computes the section of item and stores it, along with the
// unread and total comment counts, on the item. It reads nothing else
// and has no other side effects. repo may be nil, meaning no repository
// policy applies.
func (c *Classifier) Classify(item *models.Item, comments []models.Comment, repo *models.Repository, now time.Time) models.Section {
	s := c.settings

	unread, mentioned := UnreadCount(comments, item.LastReadCommentDate, s, c.matcher)

	section := c.baseSection(item, comments, now)
	if section == models.SectionAll {
		if mentioned || (s.AutoParticipateOnTeamMentions && c.matcher.MentionsTeam(item.Body)) {
			section = models.SectionParticipated
		}
	}

	if !s.ShowCommentsEverywhere && section != models.SectionMine && section != models.SectionParticipated {
		unread = 0
	}

	if section != models.SectionSnoozed && repo != nil {
		section = applyDisplayPolicy(section, repo.DisplayPolicyFor(item.Kind))
		if hiddenByPolicy(repo.ItemHidingPolicy, item.Kind, IsMe(s, item.AuthorID, item.AuthorLogin)) {
			section = models.SectionHidden
		}
	}

	if item.Muted {
		section = models.SectionHidden
	}

	item.SectionIndex = section
	item.UnreadCommentCount = unread
	item.TotalCommentCount = len(comments)
	return section
}

func (c *Classifier) baseSection(item *models.Item, comments []models.Comment, now time.Time) models.Section {
	s := c.settings

	if item.IsSnoozed(now) {
		return models.SectionSnoozed
	}

	switch item.State {
	case models.StateMerged:
		return models.SectionMerged
	case models.StateClosed:
		return models.SectionClosed
	case models.StateOpen:
	}

	if IsMe(s, item.AuthorID, item.AuthorLogin) {
		return models.SectionMine
	}
	if item.AssignedToMe {
		switch s.AssignmentPolicy {
		case models.AssignmentMoveToMine:
			return models.SectionMine
		case models.AssignmentMoveToParticipated:
			return models.SectionParticipated
		case models.AssignmentDoNothing:
		}
	}

	for i := range comments {
		if IsMe(s, comments[i].AuthorID, comments[i].AuthorLogin) {
			return models.SectionParticipated
		}
	}
	return models.SectionAll
}

func applyDisplayPolicy(section models.Section, policy models.DisplayPolicy) models.Section {
	switch policy {
	case models.DisplayHide:
		return models.SectionHidden
	case models.DisplayMineOnly:
		if section != models.SectionMine {
			return models.SectionHidden
		}
	case models.DisplayMineAndParticipated:
		if section != models.SectionMine && section != models.SectionParticipated {
			return models.SectionHidden
		}
	case models.DisplayAll:
	}
	return section
}

func hiddenByPolicy(policy models.HidingPolicy, kind models.ItemKind, mine bool) bool {
	pr := kind == models.KindPullRequest
	switch policy {
	case models.HideMyAuthoredPRs:
		return mine && pr
	case models.HideMyAuthoredIssues:
		return mine && !pr
	case models.HideAllMyAuthored:
		return mine
	case models.HideOthersPRs:
		return !mine && pr
	case models.HideOthersIssues:
		return !mine && !pr
	case models.HideAllOthers:
		return !mine
	case models.HideNothing:
	}
	return false
}
