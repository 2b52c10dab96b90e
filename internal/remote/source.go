// Package remote talks to the platform that actually executes capabilities.
// The platform knows capabilities only by name; mapping names back to local
// IDs is the capability package's job.
package remote

import (
	"context"
	stderrors "errors"

	"github.com/hpungsan/switchboard/internal/capability"
)

// Sentinel errors for common remote failure classes.
var (
	ErrUnauthorized = stderrors.New("unauthorized")
	ErrNotFound     = stderrors.New("not found")
	ErrUnavailable  = stderrors.New("remote unavailable")
)

// AddResult reports the outcome of a single-capability add.
type AddResult struct {
	// Added is false when the capability was already active remotely
	Added bool `json:"added"`

	// Name is the remote name the capability is now known by
	Name string `json:"name"`
}

// ReplaceResult reports the diff a replace-all actually applied.
type ReplaceResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Source is the remote activation set of every assistant.
type Source interface {
	// ListActive returns the names active for an assistant.
	ListActive(ctx context.Context, assistantID string) ([]string, error)

	// AddOne activates a single capability without touching the others.
	AddOne(ctx context.Context, assistantID string, c capability.Capability) (AddResult, error)

	// RemoveByName deactivates one capability. Removing an absent name succeeds.
	RemoveByName(ctx context.Context, assistantID, name string) error

	// ReplaceAll makes names the complete active set.
	ReplaceAll(ctx context.Context, assistantID string, names []string) (ReplaceResult, error)
}

// Diff computes what replacing current with desired adds and removes,
// preserving input order.
func Diff(current, desired []string) ReplaceResult {
	cur := make(map[string]bool, len(current))
	for _, n := range current {
		cur[n] = true
	}
	want := make(map[string]bool, len(desired))
	for _, n := range desired {
		want[n] = true
	}

	res := ReplaceResult{Added: []string{}, Removed: []string{}}
	seen := make(map[string]bool, len(desired))
	for _, n := range desired {
		if !cur[n] && !seen[n] {
			res.Added = append(res.Added, n)
		}
		seen[n] = true
	}
	seen = make(map[string]bool, len(current))
	for _, n := range current {
		if !want[n] && !seen[n] {
			res.Removed = append(res.Removed, n)
		}
		seen[n] = true
	}
	return res
}
