package reconcile

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/schedule"
)

// Notice levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// DefaultNoticeCapacity is how many notices a feed retains.
const DefaultNoticeCapacity = 100

// Notice is one operator-facing message, rendered as a toast.
type Notice struct {
	Seq         int64     `json:"seq"`
	AssistantID string    `json:"assistant_id"`
	Level       string    `json:"level"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message"`
	Remediation string    `json:"remediation,omitempty"`
	At          time.Time `json:"at"`
}

// Notices is a bounded, append-only feed. Oldest notices fall off first.
type Notices struct {
	clock    schedule.Clock
	capacity int

	mu    sync.Mutex
	items []Notice
	seq   int64
}

// NewNotices creates a feed. capacity <= 0 uses DefaultNoticeCapacity.
func NewNotices(clock schedule.Clock, capacity int) *Notices {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if capacity <= 0 {
		capacity = DefaultNoticeCapacity
	}
	return &Notices{clock: clock, capacity: capacity}
}

// Add appends a notice and returns it with Seq and At filled in.
func (n *Notices) Add(notice Notice) Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	notice.Seq = n.seq
	notice.At = n.clock.Now()
	n.items = append(n.items, notice)
	if over := len(n.items) - n.capacity; over > 0 {
		n.items = append([]Notice{}, n.items[over:]...)
	}
	return notice
}

// Publish records err for an assistant. Warnings carry the remediation hint.
func (n *Notices) Publish(assistantID string, err error) Notice {
	notice := Notice{AssistantID: assistantID, Level: LevelError, Message: err.Error()}

	var sErr *errors.Error
	if stderrors.As(err, &sErr) {
		notice.Code = string(sErr.Code)
		notice.Message = sErr.Message
		if sErr.Warning() {
			notice.Level = LevelWarning
			notice.Remediation = errors.RemediationSync
		}
	}
	return n.Add(notice)
}

// Info records an informational notice.
func (n *Notices) Info(assistantID, message string) Notice {
	return n.Add(Notice{AssistantID: assistantID, Level: LevelInfo, Message: message})
}

// List returns notices newer than afterSeq, oldest first. An empty
// assistantID matches every assistant.
func (n *Notices) List(assistantID string, afterSeq int64) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notice, 0)
	for _, item := range n.items {
		if item.Seq <= afterSeq {
			continue
		}
		if assistantID != "" && item.AssistantID != assistantID {
			continue
		}
		out = append(out, item)
	}
	return out
}
