package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB represents the database connection
type DB struct {
	*sql.DB
}

var _ store.Backend = (*DB)(nil)

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize applies all pending schema migrations
func (db *DB) Initialize() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Closing the migrator would close the shared *sql.DB as well.
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveRepository saves a repository to the database
func (db *DB) SaveRepository(repo *models.Repository) error {
	query := `
	INSERT INTO repositories (id, owner, name, full_name, display_prs, display_issues, hiding_policy, group_label)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner = excluded.owner,
		name = excluded.name,
		full_name = excluded.full_name,
		display_prs = excluded.display_prs,
		display_issues = excluded.display_issues,
		hiding_policy = excluded.hiding_policy,
		group_label = excluded.group_label
	`

	_, err := db.Exec(query, repo.ID, repo.Owner, repo.Name, repo.FullName,
		int(repo.DisplayPolicyForPRs), int(repo.DisplayPolicyForIssues), int(repo.ItemHidingPolicy), repo.GroupLabel)
	if err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}

	return nil
}

// SaveItem saves an item, its local state and its labels in one transaction.
// The sync disposition is transient and is not written.
func (db *DB) SaveItem(item *models.Item) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO items (repo_id, server_id, number, kind, title, url, body, state, created_at, updated_at, closed_at,
		author_id, author_login, assigned_to_me, mergeable, section_index, unread_count, total_count,
		last_read_comment_at, muted, snoozed_until, snooze_preset_id, woken, missing_passes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repo_id, server_id) DO UPDATE SET
		number = excluded.number,
		kind = excluded.kind,
		title = excluded.title,
		url = excluded.url,
		body = excluded.body,
		state = excluded.state,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at,
		author_id = excluded.author_id,
		author_login = excluded.author_login,
		assigned_to_me = excluded.assigned_to_me,
		mergeable = excluded.mergeable,
		section_index = excluded.section_index,
		unread_count = excluded.unread_count,
		total_count = excluded.total_count,
		last_read_comment_at = excluded.last_read_comment_at,
		muted = excluded.muted,
		snoozed_until = excluded.snoozed_until,
		snooze_preset_id = excluded.snooze_preset_id,
		woken = excluded.woken,
		missing_passes = excluded.missing_passes
	`

	_, err = tx.Exec(
		query,
		item.RepoID,
		item.ServerID,
		item.Number,
		int(item.Kind),
		item.Title,
		item.URL,
		item.Body,
		int(item.State),
		item.CreatedAt,
		item.UpdatedAt,
		nullTime(item.ClosedAt),
		item.AuthorID,
		item.AuthorLogin,
		item.AssignedToMe,
		nullBool(item.Mergeable),
		int(item.SectionIndex),
		item.UnreadCommentCount,
		item.TotalCommentCount,
		nullTime(item.LastReadCommentDate),
		item.Muted,
		nullTime(item.SnoozedUntil),
		item.SnoozePresetID,
		item.Woken,
		item.MissingPasses,
	)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM item_labels WHERE repo_id = ? AND item_id = ?`, item.RepoID, item.ServerID); err != nil {
		return fmt.Errorf("failed to clear item labels: %w", err)
	}

	for _, label := range item.Labels {
		_, err := tx.Exec(`
		INSERT INTO labels (id, name, color)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color
		`, label.ID, label.Name, label.Color)
		if err != nil {
			return fmt.Errorf("failed to save label %s: %w", label.Name, err)
		}

		_, err = tx.Exec(`
		INSERT INTO item_labels (repo_id, item_id, label_id)
		VALUES (?, ?, ?)
		ON CONFLICT(repo_id, item_id, label_id) DO NOTHING
		`, item.RepoID, item.ServerID, label.ID)
		if err != nil {
			return fmt.Errorf("failed to save item-label relationship: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item: %w", err)
	}

	return nil
}

// DeleteItem deletes an item; its comments and label links cascade
func (db *DB) DeleteItem(key models.ItemKey) error {
	_, err := db.Exec(`DELETE FROM items WHERE repo_id = ? AND server_id = ?`, key.RepoID, key.ServerID)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// SaveComment saves a comment to the database
func (db *DB) SaveComment(comment *models.Comment) error {
	query := `
	INSERT INTO comments (repo_id, item_id, server_id, author_id, author_login, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repo_id, item_id, server_id) DO UPDATE SET
		author_id = excluded.author_id,
		author_login = excluded.author_login,
		body = excluded.body,
		updated_at = excluded.updated_at
	`

	_, err := db.Exec(
		query,
		comment.RepoID,
		comment.ItemID,
		comment.ServerID,
		comment.AuthorID,
		comment.AuthorLogin,
		comment.Body,
		comment.CreatedAt,
		comment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save comment: %w", err)
	}

	return nil
}

// DeleteComment deletes one comment of an item
func (db *DB) DeleteComment(key models.ItemKey, serverID int64) error {
	_, err := db.Exec(`DELETE FROM comments WHERE repo_id = ? AND item_id = ? AND server_id = ?`,
		key.RepoID, key.ServerID, serverID)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

// SavePreset saves a snooze preset
func (db *DB) SavePreset(p *models.SnoozePreset) error {
	query := `
	INSERT INTO snooze_presets (id, is_duration, days, hours, minutes, weekday, hour, minute,
		wake_on_comment, wake_on_mention, wake_on_status_change, sort_order)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		is_duration = excluded.is_duration,
		days = excluded.days,
		hours = excluded.hours,
		minutes = excluded.minutes,
		weekday = excluded.weekday,
		hour = excluded.hour,
		minute = excluded.minute,
		wake_on_comment = excluded.wake_on_comment,
		wake_on_mention = excluded.wake_on_mention,
		wake_on_status_change = excluded.wake_on_status_change,
		sort_order = excluded.sort_order
	`

	var weekday sql.NullInt64
	if p.Weekday != nil {
		weekday = sql.NullInt64{Int64: int64(*p.Weekday), Valid: true}
	}

	_, err := db.Exec(query, p.ID, p.IsDuration, nullInt(p.Days), nullInt(p.Hours), nullInt(p.Minutes), weekday,
		p.Hour, p.Minute, p.WakeOnComment, p.WakeOnMention, p.WakeOnStatusChange, p.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to save snooze preset: %w", err)
	}

	return nil
}

// DeletePreset deletes a snooze preset
func (db *DB) DeletePreset(id string) error {
	if _, err := db.Exec(`DELETE FROM snooze_presets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snooze preset: %w", err)
	}
	return nil
}

// GetLastSyncTime gets the last sync time for a repository
func (db *DB) GetLastSyncTime(repoFullName string) (time.Time, error) {
	var lastSyncTime time.Time
	query := `SELECT last_sync_time FROM sync_metadata WHERE repository = ?`

	err := db.QueryRow(query, repoFullName).Scan(&lastSyncTime)
	if err != nil {
		if err == sql.ErrNoRows {
			// If no sync metadata exists, return zero time
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}

	return lastSyncTime, nil
}

// UpdateLastSyncTime updates the last sync time for a repository
func (db *DB) UpdateLastSyncTime(repoFullName string, syncTime time.Time) error {
	query := `
	INSERT INTO sync_metadata (repository, last_sync_time)
	VALUES (?, ?)
	ON CONFLICT(repository) DO UPDATE SET
		last_sync_time = excluded.last_sync_time
	`

	_, err := db.Exec(query, repoFullName, syncTime)
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
