package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/switchboard/internal/errors"
)

// ToggleInput contains parameters for the Toggle operation.
type ToggleInput struct {
	AssistantID  string // required
	CapabilityID string // required
	ChannelID    string // required when enabling
	Enabled      bool   // desired state
}

func (in ToggleInput) validate() (ToggleInput, error) {
	in.AssistantID = strings.TrimSpace(in.AssistantID)
	in.CapabilityID = strings.TrimSpace(in.CapabilityID)
	in.ChannelID = strings.TrimSpace(in.ChannelID)
	if in.AssistantID == "" {
		return in, errors.NewInvalidRequest("assistant_id is required")
	}
	if in.CapabilityID == "" {
		return in, errors.NewInvalidRequest("capability_id is required")
	}
	return in, nil
}

// Toggle requests a capability be switched on or off and waits for the
// transition to settle. Warnings are returned as errors; use
// errors.IsWarning to tell them apart.
func (s *Service) Toggle(ctx context.Context, input ToggleInput) error {
	in, err := input.validate()
	if err != nil {
		return err
	}
	s.prime(ctx, in.AssistantID)
	return s.controller(in.AssistantID).Toggle(ctx, in.CapabilityID, in.ChannelID, in.Enabled)
}

// ToggleAsync starts a toggle and returns without waiting for the store
// and remote writes. Preconditions are checked and the presented state is
// updated before it returns, so a state read right after sees the
// transition. Anything later surfaces through PresentedState and the
// notice feed.
func (s *Service) ToggleAsync(ctx context.Context, input ToggleInput) error {
	in, err := input.validate()
	if err != nil {
		return err
	}
	s.prime(ctx, in.AssistantID)

	run, err := s.controller(in.AssistantID).Start(ctx, in.CapabilityID, in.ChannelID, in.Enabled)
	if err != nil || run == nil {
		return err
	}

	// The transition outlives the request that started it.
	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := run(bg); err != nil {
			s.logger.Info("toggle settled with error", "assistant_id", in.AssistantID, "capability_id", in.CapabilityID, "error", err)
		}
	}()
	return nil
}
