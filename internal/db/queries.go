package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.Error{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// InsertChannel stores a notification channel.
func InsertChannel(ctx context.Context, db *sql.DB, ch capability.Channel, createdAt int64) error {
	query := `
		INSERT INTO channels (id, name, kind, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query, ch.ID, ch.Name, ch.Kind, boolToInt(ch.Enabled), createdAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// SetChannelEnabled flips a channel's enabled flag.
func SetChannelEnabled(ctx context.Context, db *sql.DB, id string, enabled bool) error {
	result, err := db.ExecContext(ctx, `UPDATE channels SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireRow(result, "channel", id)
}

// ListChannels returns channels ordered by name. If activeOnly is true,
// disabled channels are excluded.
func ListChannels(ctx context.Context, db *sql.DB, activeOnly bool) ([]capability.Channel, error) {
	query := `SELECT id, name, kind, enabled FROM channels`
	if activeOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	channels := make([]capability.Channel, 0)
	for rows.Next() {
		var (
			ch      capability.Channel
			enabled int
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Kind, &enabled); err != nil {
			return nil, errors.NewInternal(err)
		}
		ch.Enabled = enabled == 1
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return channels, nil
}

// InsertCapability stores a catalog entry.
func InsertCapability(ctx context.Context, db *sql.DB, c capability.Capability) error {
	query := `
		INSERT INTO capabilities (id, name, description, notification_channel_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		c.ID, c.Name, toNullString(c.Description), toNullString(c.NotificationChannelID), c.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetCapability retrieves a catalog entry by ID.
func GetCapability(ctx context.Context, db *sql.DB, id string) (*capability.Capability, error) {
	query := `
		SELECT id, name, description, notification_channel_id, created_at
		FROM capabilities
		WHERE id = ?
	`
	var (
		c           capability.Capability
		description sql.NullString
		channelID   sql.NullString
	)
	err := db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &description, &channelID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("capability", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c.Description = description.String
	c.NotificationChannelID = channelID.String
	return &c, nil
}

// ListCapabilities returns the whole catalog in creation order.
func ListCapabilities(ctx context.Context, db *sql.DB) ([]capability.Capability, error) {
	query := `
		SELECT id, name, description, notification_channel_id, created_at
		FROM capabilities
		ORDER BY created_at, id
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	catalog := make([]capability.Capability, 0)
	for rows.Next() {
		var (
			c           capability.Capability
			description sql.NullString
			channelID   sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &description, &channelID, &c.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		c.Description = description.String
		c.NotificationChannelID = channelID.String
		catalog = append(catalog, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return catalog, nil
}

// InsertLink stores a new capability link.
func InsertLink(ctx context.Context, db *sql.DB, l *capability.Link) error {
	query := `
		INSERT INTO capability_links (
			id, capability_id, assistant_id, notification_channel_id,
			enabled, channel_enabled, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		l.ID, l.CapabilityID, l.AssistantID, l.NotificationChannelID,
		boolToInt(l.Enabled), boolToInt(l.ChannelEnabled), l.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteLink hard-deletes a link. Deletion, not a flag, marks a capability inactive.
func DeleteLink(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM capability_links WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireRow(result, "link", id)
}

// GetLink retrieves a link by ID.
func GetLink(ctx context.Context, db *sql.DB, id string) (*capability.Link, error) {
	query := `
		SELECT id, capability_id, assistant_id, notification_channel_id,
			enabled, channel_enabled, created_at
		FROM capability_links
		WHERE id = ?
	`
	l, err := scanLink(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("link", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return l, nil
}

// UpdateLinkChannelEnabled sets channel_enabled on a link.
func UpdateLinkChannelEnabled(ctx context.Context, db *sql.DB, id string, channelEnabled bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE capability_links SET channel_enabled = ? WHERE id = ?`,
		boolToInt(channelEnabled), id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireRow(result, "link", id)
}

// ListLinksByAssistant returns an assistant's links in creation order.
func ListLinksByAssistant(ctx context.Context, db *sql.DB, assistantID string) ([]capability.Link, error) {
	query := `
		SELECT id, capability_id, assistant_id, notification_channel_id,
			enabled, channel_enabled, created_at
		FROM capability_links
		WHERE assistant_id = ?
		ORDER BY created_at, id
	`
	rows, err := db.QueryContext(ctx, query, assistantID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	links := make([]capability.Link, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		links = append(links, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return links, nil
}

// ListLinkedAssistants returns the distinct assistant IDs that have at least one link.
func ListLinkedAssistants(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT assistant_id FROM capability_links ORDER BY assistant_id`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanLink scans a single row into a Link struct.
func scanLink(row rowScanner) (*capability.Link, error) {
	var (
		l              capability.Link
		enabled        int
		channelEnabled int
	)
	err := row.Scan(
		&l.ID, &l.CapabilityID, &l.AssistantID, &l.NotificationChannelID,
		&enabled, &channelEnabled, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Enabled = enabled == 1
	l.ChannelEnabled = channelEnabled == 1
	return &l, nil
}

// requireRow turns a zero-row update/delete into ErrNotFound.
func requireRow(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(kind, id)
	}
	return nil
}

// toNullString converts an empty string to SQL NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
