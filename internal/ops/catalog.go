package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/db"
	"github.com/hpungsan/switchboard/internal/errors"
)

// AddCapabilityInput contains parameters for the AddCapability operation.
type AddCapabilityInput struct {
	ID                    string // optional, generated when empty
	Name                  string // required
	Description           string // optional markdown
	NotificationChannelID string // optional default channel
}

// AddCapability registers a capability in the catalog.
func (s *Service) AddCapability(ctx context.Context, input AddCapabilityInput) (*capability.Capability, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	if capability.Canonicalize(name) == "" || capability.Canonicalize(name) == "_" {
		return nil, errors.NewInvalidRequest("name must contain at least one letter or digit")
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		var err error
		if id, err = db.NewID(); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	channelID := strings.TrimSpace(input.NotificationChannelID)
	if channelID != "" {
		if err := s.requireChannel(ctx, channelID); err != nil {
			return nil, err
		}
	}

	c := capability.Capability{
		ID:                    id,
		Name:                  name,
		Description:           input.Description,
		NotificationChannelID: channelID,
		CreatedAt:             time.Now().Unix(),
	}
	if err := db.InsertCapability(ctx, s.store.DB(), c); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewInvalidRequest("capability already exists: " + id)
		}
		return nil, err
	}
	return &c, nil
}

// ListCapabilitiesInput contains parameters for the ListCapabilities operation.
type ListCapabilitiesInput struct {
	Limit  int // default: 50, max: 200
	Offset int // default: 0
}

// ListCapabilitiesOutput contains the result of the ListCapabilities operation.
type ListCapabilitiesOutput struct {
	Items      []capability.Capability `json:"items"`
	Pagination Pagination              `json:"pagination"`
}

// ListCapabilities returns a page of the catalog in creation order.
func (s *Service) ListCapabilities(ctx context.Context, input ListCapabilitiesInput) (*ListCapabilitiesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(input.Offset, 0)

	catalog, err := s.store.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	total := len(catalog)
	start := min(offset, total)
	end := min(start+limit, total)
	items := catalog[start:end]

	return &ListCapabilitiesOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: end < total,
			Total:   total,
		},
	}, nil
}

// AddChannelInput contains parameters for the AddChannel operation.
type AddChannelInput struct {
	ID      string // optional, generated when empty
	Name    string // required
	Kind    string // required: telegram, webhook, email, vk, avito, ...
	Enabled *bool  // default: true
}

// AddChannel registers a notification channel.
func (s *Service) AddChannel(ctx context.Context, input AddChannelInput) (*capability.Channel, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	kind := strings.ToLower(strings.TrimSpace(input.Kind))
	if kind == "" {
		return nil, errors.NewInvalidRequest("kind is required")
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		var err error
		if id, err = db.NewID(); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	ch := capability.Channel{ID: id, Name: name, Kind: kind, Enabled: enabled}
	if err := db.InsertChannel(ctx, s.store.DB(), ch, time.Now().Unix()); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewInvalidRequest("channel already exists: " + id)
		}
		return nil, err
	}
	return &ch, nil
}

// SetChannelActive enables or disables a notification channel.
func (s *Service) SetChannelActive(ctx context.Context, channelID string, enabled bool) error {
	if strings.TrimSpace(channelID) == "" {
		return errors.NewInvalidRequest("channel_id is required")
	}
	return db.SetChannelEnabled(ctx, s.store.DB(), channelID, enabled)
}

// ListChannels returns notification channels. activeOnly hides disabled ones.
func (s *Service) ListChannels(ctx context.Context, activeOnly bool) ([]capability.Channel, error) {
	return db.ListChannels(ctx, s.store.DB(), activeOnly)
}

func (s *Service) requireChannel(ctx context.Context, channelID string) error {
	channels, err := db.ListChannels(ctx, s.store.DB(), false)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if ch.ID == channelID {
			return nil
		}
	}
	return errors.NewNotFound("channel", channelID)
}
