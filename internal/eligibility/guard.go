// Package eligibility decides whether a requester may be issued a key.
package eligibility

import (
	"time"

	"github.com/trialkey-service/internal/model"
)

const (
	DefaultRecencyWindow = 30 * time.Minute

	// maxClockSkew tolerates client clocks slightly ahead of ours.
	maxClockSkew = time.Minute
)

// DefaultRequiredTasks are the task flags a claim must carry.
var DefaultRequiredTasks = []string{"task1", "task2"}

// Conflict names the still-valid key already held by a matching identity.
type Conflict struct {
	ExistingKey string
	ExpiresAt   time.Time
}

type Guard struct {
	requiredTasks []string
	recency       time.Duration
	validity      time.Duration
}

func NewGuard(requiredTasks []string, recency, validity time.Duration) *Guard {
	if len(requiredTasks) == 0 {
		requiredTasks = DefaultRequiredTasks
	}
	if recency <= 0 {
		recency = DefaultRecencyWindow
	}
	if validity <= 0 {
		validity = model.DefaultValidity
	}
	return &Guard{requiredTasks: requiredTasks, recency: recency, validity: validity}
}

func (g *Guard) RequiredTasks() []string {
	return g.requiredTasks
}

// CheckTaskCompletion accepts a claim only when every required task is
// flagged complete and the claim was made within the recency window.
func (g *Guard) CheckTaskCompletion(claim model.TaskClaim, now time.Time) bool {
	if claim.CompletedAt.IsZero() {
		return false
	}
	for _, task := range g.requiredTasks {
		if !claim.Tasks[task] {
			return false
		}
	}

	age := now.Sub(claim.CompletedAt)
	if age < -maxClockSkew {
		return false
	}
	return age <= g.recency
}

// CheckIdentityFreshness looks for a non-expired record issued to an identity
// sharing either the IP or the fingerprint. Must run inside the same store
// transaction as the insert that follows it.
func (g *Guard) CheckIdentityFreshness(db *model.KeyDatabase, id model.Identity, now time.Time) *Conflict {
	var found *model.KeyRecord
	for _, rec := range db.Keys {
		if rec.Expired(now, g.validity) || !id.Matches(rec.Identity()) {
			continue
		}
		// Deterministic answer if legacy data holds more than one match.
		if found == nil || rec.GeneratedAt.Before(found.GeneratedAt) {
			found = rec
		}
	}
	if found == nil {
		return nil
	}
	return &Conflict{ExistingKey: found.Key, ExpiresAt: found.ExpiresAt(g.validity)}
}
