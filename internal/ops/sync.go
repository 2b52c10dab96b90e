package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/reconcile"
)

// SyncOutput contains the result of the Sync operation.
type SyncOutput struct {
	Added      int                    `json:"added"`
	Removed    int                    `json:"removed"`
	Assistants int                    `json:"assistants"`
	Results    []reconcile.SyncResult `json:"results"`
	Failures   []SyncFailure          `json:"failures,omitempty"`
}

// SyncFailure describes one assistant that could not be synchronized.
type SyncFailure struct {
	AssistantID string `json:"assistant_id"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// Sync pushes local enabled links to the remote platform. An empty
// assistantID syncs every assistant with at least one link. The current
// suppression window of each assistant is excluded from re-adding.
func (s *Service) Sync(ctx context.Context, assistantID string) (*SyncOutput, error) {
	assistantID = strings.TrimSpace(assistantID)

	if assistantID != "" {
		exclude := s.registry.Engine(assistantID).Suppressed()
		res, err := s.coord.SyncOne(ctx, assistantID, exclude)
		if err != nil {
			if !errors.Is(err, errors.ErrRateLimited) {
				s.notices.Publish(assistantID, err)
			}
			return nil, err
		}
		s.notices.Info(assistantID, syncMessage(len(res.Added), len(res.Removed)))
		return &SyncOutput{
			Added:      len(res.Added),
			Removed:    len(res.Removed),
			Assistants: 1,
			Results:    []reconcile.SyncResult{*res},
		}, nil
	}

	all, err := s.coord.SyncAll(ctx)
	if err != nil {
		return nil, err
	}
	out := &SyncOutput{
		Added:      all.Added,
		Removed:    all.Removed,
		Assistants: all.Assistants,
		Results:    all.Results,
	}
	for _, f := range all.Failures {
		id, _ := f.Details["assistant_id"].(string)
		out.Failures = append(out.Failures, SyncFailure{AssistantID: id, Code: string(f.Code), Message: f.Message})
		s.notices.Publish(id, f)
	}
	return out, nil
}

// RefreshOutput contains the result of the Refresh operation.
type RefreshOutput struct {
	AssistantID string          `json:"assistant_id"`
	Drift       reconcile.Drift `json:"drift"`
	Active      []string        `json:"active"`
	Pending     []string        `json:"pending"`
}

// Refresh re-polls both stores for one assistant without mutating anything.
func (s *Service) Refresh(ctx context.Context, assistantID string) (*RefreshOutput, error) {
	assistantID = strings.TrimSpace(assistantID)
	drift, err := s.coord.Refresh(ctx, assistantID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.primed[assistantID] = true
	s.mu.Unlock()

	snap := s.registry.Engine(assistantID).Snapshot()
	return &RefreshOutput{
		AssistantID: assistantID,
		Drift:       drift,
		Active:      snap.Active,
		Pending:     snap.Pending,
	}, nil
}

func syncMessage(added, removed int) string {
	if added == 0 && removed == 0 {
		return "already in sync"
	}
	return fmt.Sprintf("synchronized: %d added, %d removed", added, removed)
}
