package classify

import (
	"strings"
	"time"

	"github.com/wesm/argh/internal/models"
)

// UnreadCount counts the comments by other people created strictly after
// watermark; a nil watermark means the item was never read. When a
// mention policy is active, only those unread comments are scanned and
// becameParticipated reports whether one of them references the user (or,
// with team mentions enabled, one of the user's teams).
func UnreadCount(comments []models.Comment, watermark *time.Time, s *models.Settings, m *Matcher) (count int, becameParticipated bool) {
	for i := range comments {
		c := &comments[i]
		if IsMe(s, c.AuthorID, c.AuthorLogin) {
			continue
		}
		if watermark != nil && !c.CreatedAt.After(*watermark) {
			continue
		}
		count++
		if becameParticipated {
			continue
		}
		if s.AutoParticipateOnMentions && m.MentionsMe(c.Body) {
			becameParticipated = true
		} else if s.AutoParticipateOnTeamMentions && m.MentionsTeam(c.Body) {
			becameParticipated = true
		}
	}
	return count, becameParticipated
}

// LatestCommentDate returns the creation time of the newest comment, or nil
func LatestCommentDate(comments []models.Comment) *time.Time {
	var latest *time.Time
	for i := range comments {
		if latest == nil || comments[i].CreatedAt.After(*latest) {
			t := comments[i].CreatedAt
			latest = &t
		}
	}
	return latest
}

// IsMe reports whether an author is the current user, by id when both ids
// are known and by login otherwise
func IsMe(s *models.Settings, id int64, login string) bool {
	if s.UserID != 0 && id != 0 {
		return id == s.UserID
	}
	return s.UserLogin != "" && strings.EqualFold(login, s.UserLogin)
}
