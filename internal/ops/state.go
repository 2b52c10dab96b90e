package ops

import (
	"context"
	"sort"
	"strings"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/reconcile"
)

// StateOutput is the presented state of one capability.
type StateOutput struct {
	AssistantID  string `json:"assistant_id"`
	CapabilityID string `json:"capability_id"`
	Active       bool   `json:"active"`
	Pending      bool   `json:"pending"`
	Busy         bool   `json:"busy"`
}

// PresentedState returns what the console shows for one capability.
func (s *Service) PresentedState(ctx context.Context, assistantID, capabilityID string) (*StateOutput, error) {
	assistantID = strings.TrimSpace(assistantID)
	capabilityID = strings.TrimSpace(capabilityID)
	if assistantID == "" {
		return nil, errors.NewInvalidRequest("assistant_id is required")
	}
	if capabilityID == "" {
		return nil, errors.NewInvalidRequest("capability_id is required")
	}

	s.prime(ctx, assistantID)
	engine := s.registry.Engine(assistantID)
	st := engine.State(capabilityID)
	return &StateOutput{
		AssistantID:  assistantID,
		CapabilityID: capabilityID,
		Active:       st.Active,
		Pending:      st.Pending,
		Busy:         engine.Busy(),
	}, nil
}

// Row is one line of an assistant's capability table.
type Row struct {
	Capability capability.Capability `json:"capability"`
	Active     bool                  `json:"active"`
	Pending    bool                  `json:"pending"`
	Suppressed bool                  `json:"suppressed"`
	Link       *capability.Link      `json:"link,omitempty"`
}

// AssistantStateOutput is the full capability table of one assistant.
type AssistantStateOutput struct {
	AssistantID string               `json:"assistant_id"`
	Busy        bool                 `json:"busy"`
	Rows        []Row                `json:"rows"`
	Suppressed  []string             `json:"suppressed"`
	CooldownMs  int64                `json:"cooldown_remaining_ms"`
	Channels    []capability.Channel `json:"channels"`
}

// AssistantState returns every catalog capability with its presented state.
func (s *Service) AssistantState(ctx context.Context, assistantID string) (*AssistantStateOutput, error) {
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return nil, errors.NewInvalidRequest("assistant_id is required")
	}

	s.prime(ctx, assistantID)

	catalog, err := s.store.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	links, err := s.store.ListByAssistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	channels, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	byCapability := make(map[string]capability.Link, len(links))
	for _, l := range links {
		byCapability[l.CapabilityID] = l
	}

	snap := s.registry.Engine(assistantID).Snapshot()
	return &AssistantStateOutput{
		AssistantID: assistantID,
		Busy:        snap.Busy,
		Rows:        buildRows(catalog, byCapability, snap),
		Suppressed:  snap.Suppressed,
		CooldownMs:  s.coord.CooldownRemaining().Milliseconds(),
		Channels:    channels,
	}, nil
}

func buildRows(catalog []capability.Capability, links map[string]capability.Link, snap reconcile.Snapshot) []Row {
	active := toSet(snap.Active)
	pending := toSet(snap.Pending)
	suppressed := toSet(snap.Suppressed)

	rows := make([]Row, 0, len(catalog))
	for _, c := range catalog {
		row := Row{
			Capability: c,
			Active:     active[c.ID],
			Pending:    pending[c.ID],
			Suppressed: suppressed[c.ID],
		}
		if l, ok := links[c.ID]; ok {
			row.Link = &l
		}
		rows = append(rows, row)
	}
	return rows
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Links returns an assistant's capability links.
func (s *Service) Links(ctx context.Context, assistantID string) ([]capability.Link, error) {
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return nil, errors.NewInvalidRequest("assistant_id is required")
	}
	return s.store.ListByAssistant(ctx, assistantID)
}

// SetChannelEnabled turns notification forwarding on or off for one link.
func (s *Service) SetChannelEnabled(ctx context.Context, assistantID, linkID string, channelEnabled bool) (*capability.Link, error) {
	assistantID = strings.TrimSpace(assistantID)
	linkID = strings.TrimSpace(linkID)
	if assistantID == "" {
		return nil, errors.NewInvalidRequest("assistant_id is required")
	}
	if linkID == "" {
		return nil, errors.NewInvalidRequest("link_id is required")
	}
	return s.registry.Engine(assistantID).SetChannelEnabled(ctx, linkID, channelEnabled)
}

// Assistants returns every assistant with at least one link plus the
// configured watch list, sorted and deduplicated.
func (s *Service) Assistants(ctx context.Context) ([]string, error) {
	linked, err := s.store.ListAssistants(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(linked)+len(s.cfg.WatchedAssistants))
	out := make([]string, 0, len(seen))
	for _, id := range append(linked, s.cfg.WatchedAssistants...) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
