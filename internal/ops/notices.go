package ops

import (
	"strings"

	"github.com/hpungsan/switchboard/internal/reconcile"
)

// NoticesInput contains parameters for the ListNotices operation.
type NoticesInput struct {
	AssistantID string // optional filter
	AfterSeq    int64  // only notices newer than this sequence number
	Limit       int    // default: 20, max: 200; keeps the newest
}

// NoticesOutput contains the result of the ListNotices operation.
type NoticesOutput struct {
	Items   []reconcile.Notice `json:"items"`
	LastSeq int64              `json:"last_seq"`
}

// ListNotices returns the newest operator notices, oldest first.
func (s *Service) ListNotices(input NoticesInput) *NoticesOutput {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultNoticeLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	items := s.notices.List(strings.TrimSpace(input.AssistantID), input.AfterSeq)
	if len(items) > limit {
		items = items[len(items)-limit:]
	}

	out := &NoticesOutput{Items: items, LastSeq: input.AfterSeq}
	if len(items) > 0 {
		out.LastSeq = items[len(items)-1].Seq
	}
	return out
}
