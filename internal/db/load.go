package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/store"
)

// Load reads every persisted entity into mem. Loaded items start with an
// Unchanged disposition.
func (db *DB) Load(mem *store.Memory) error {
	if err := db.loadRepositories(mem); err != nil {
		return err
	}
	if err := db.loadItems(mem); err != nil {
		return err
	}
	if err := db.loadComments(mem); err != nil {
		return err
	}
	return db.loadPresets(mem)
}

func (db *DB) loadRepositories(mem *store.Memory) error {
	rows, err := db.Query(`SELECT id, owner, name, full_name, display_prs, display_issues, hiding_policy, group_label FROM repositories`)
	if err != nil {
		return fmt.Errorf("failed to query repositories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var repo models.Repository
		var prs, issues, hiding int
		if err := rows.Scan(&repo.ID, &repo.Owner, &repo.Name, &repo.FullName, &prs, &issues, &hiding, &repo.GroupLabel); err != nil {
			return fmt.Errorf("failed to scan repository: %w", err)
		}
		repo.DisplayPolicyForPRs = models.DisplayPolicy(prs)
		repo.DisplayPolicyForIssues = models.DisplayPolicy(issues)
		repo.ItemHidingPolicy = models.HidingPolicy(hiding)
		if err := mem.PutRepository(repo); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (db *DB) loadItems(mem *store.Memory) error {
	labels, err := db.loadItemLabels()
	if err != nil {
		return err
	}

	rows, err := db.Query(`
	SELECT repo_id, server_id, number, kind, title, url, body, state, created_at, updated_at, closed_at,
		author_id, author_login, assigned_to_me, mergeable, section_index, unread_count, total_count,
		last_read_comment_at, muted, snoozed_until, snooze_preset_id, woken, missing_passes
	FROM items`)
	if err != nil {
		return fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it                            models.Item
			kind, state, section          int
			closedAt, lastRead, snoozedAt sql.NullTime
			mergeable                     sql.NullBool
		)
		err := rows.Scan(&it.RepoID, &it.ServerID, &it.Number, &kind, &it.Title, &it.URL, &it.Body, &state,
			&it.CreatedAt, &it.UpdatedAt, &closedAt, &it.AuthorID, &it.AuthorLogin, &it.AssignedToMe, &mergeable,
			&section, &it.UnreadCommentCount, &it.TotalCommentCount, &lastRead, &it.Muted, &snoozedAt,
			&it.SnoozePresetID, &it.Woken, &it.MissingPasses)
		if err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		it.Kind = models.ItemKind(kind)
		it.State = models.ItemState(state)
		it.SectionIndex = models.Section(section)
		it.ClosedAt = timePtr(closedAt)
		it.LastReadCommentDate = timePtr(lastRead)
		it.SnoozedUntil = timePtr(snoozedAt)
		if mergeable.Valid {
			b := mergeable.Bool
			it.Mergeable = &b
		}
		it.Labels = labels[it.Key()]
		if err := mem.PutItem(it); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (db *DB) loadItemLabels() (map[models.ItemKey][]models.Label, error) {
	rows, err := db.Query(`
	SELECT il.repo_id, il.item_id, l.id, l.name, l.color
	FROM item_labels il JOIN labels l ON l.id = il.label_id
	ORDER BY l.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query item labels: %w", err)
	}
	defer rows.Close()

	out := make(map[models.ItemKey][]models.Label)
	for rows.Next() {
		var key models.ItemKey
		var label models.Label
		if err := rows.Scan(&key.RepoID, &key.ServerID, &label.ID, &label.Name, &label.Color); err != nil {
			return nil, fmt.Errorf("failed to scan item label: %w", err)
		}
		out[key] = append(out[key], label)
	}
	return out, rows.Err()
}

func (db *DB) loadComments(mem *store.Memory) error {
	rows, err := db.Query(`SELECT repo_id, item_id, server_id, author_id, author_login, body, created_at, updated_at FROM comments`)
	if err != nil {
		return fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.RepoID, &c.ItemID, &c.ServerID, &c.AuthorID, &c.AuthorLogin, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan comment: %w", err)
		}
		if err := mem.PutComment(c); err != nil {
			return fmt.Errorf("failed to load comment %d: %w", c.ServerID, err)
		}
	}
	return rows.Err()
}

func (db *DB) loadPresets(mem *store.Memory) error {
	rows, err := db.Query(`
	SELECT id, is_duration, days, hours, minutes, weekday, hour, minute,
		wake_on_comment, wake_on_mention, wake_on_status_change, sort_order
	FROM snooze_presets`)
	if err != nil {
		return fmt.Errorf("failed to query snooze presets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.SnoozePreset
		var days, hours, minutes, weekday sql.NullInt64
		err := rows.Scan(&p.ID, &p.IsDuration, &days, &hours, &minutes, &weekday, &p.Hour, &p.Minute,
			&p.WakeOnComment, &p.WakeOnMention, &p.WakeOnStatusChange, &p.SortOrder)
		if err != nil {
			return fmt.Errorf("failed to scan snooze preset: %w", err)
		}
		p.Days = intPtr(days)
		p.Hours = intPtr(hours)
		p.Minutes = intPtr(minutes)
		if weekday.Valid {
			wd := time.Weekday(weekday.Int64)
			p.Weekday = &wd
		}
		if err := mem.PutPreset(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func intPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}
