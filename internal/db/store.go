package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/errors"
)

// Store adapts the query functions to the association store, channel
// catalog, and capability catalog the reconciliation engine consumes.
type Store struct {
	db *sql.DB
}

// NewStore wraps an initialized database.
func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Create inserts a link, assigning a fresh ULID and creation time.
func (s *Store) Create(ctx context.Context, l capability.Link) (*capability.Link, error) {
	id, err := NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	l.ID = id
	l.CreatedAt = time.Now().Unix()
	if err := InsertLink(ctx, s.db, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Delete hard-deletes a link.
func (s *Store) Delete(ctx context.Context, linkID string) error {
	return DeleteLink(ctx, s.db, linkID)
}

// ListByAssistant returns all links of one assistant.
func (s *Store) ListByAssistant(ctx context.Context, assistantID string) ([]capability.Link, error) {
	return ListLinksByAssistant(ctx, s.db, assistantID)
}

// SetChannelEnabled toggles notification forwarding on a link and returns it.
func (s *Store) SetChannelEnabled(ctx context.Context, linkID string, channelEnabled bool) (*capability.Link, error) {
	if err := UpdateLinkChannelEnabled(ctx, s.db, linkID, channelEnabled); err != nil {
		return nil, err
	}
	return GetLink(ctx, s.db, linkID)
}

// ListAssistants returns assistants with at least one link.
func (s *Store) ListAssistants(ctx context.Context) ([]string, error) {
	return ListLinkedAssistants(ctx, s.db)
}

// ListActive returns enabled notification channels.
func (s *Store) ListActive(ctx context.Context) ([]capability.Channel, error) {
	return ListChannels(ctx, s.db, true)
}

// GetCapability returns one catalog entry.
func (s *Store) GetCapability(ctx context.Context, id string) (*capability.Capability, error) {
	return GetCapability(ctx, s.db, id)
}

// ListCapabilities returns the catalog.
func (s *Store) ListCapabilities(ctx context.Context) ([]capability.Capability, error) {
	return ListCapabilities(ctx, s.db)
}

// NewID generates a new ULID.
func NewID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
