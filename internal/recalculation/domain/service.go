package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	"gorm.io/gorm"
)

// Mutation changes readings inside the ledger transaction and reports the images it touched.
type Mutation func(ctx context.Context, tx *gorm.DB) ([]ReadingChange, error)

type ApplyRequest struct {
	UserID      snowflake.ID
	ActorID     *snowflake.ID
	TriggerType TriggerType
	Reason      string
	Mutate      Mutation
	// Forward, when set, is checked against the current readings under the user's lock.
	// A forward mutation commits without a batch and Apply returns a nil batch.
	Forward func(current []readingdomain.Reading) bool
}

type RollbackRequest struct {
	BatchID string
	UserID  string
	ActorID string
	Reason  string
}

type Service interface {
	// Apply runs a mutation under the user's lock and records exactly one batch unless
	// the request reports the mutation as forward.
	Apply(ctx context.Context, req ApplyRequest) (*Batch, error)
	// Rollback undoes a pending batch and returns the compensating batch.
	Rollback(ctx context.Context, req RollbackRequest) (*Batch, error)
	Pending(ctx context.Context, userID string) ([]BatchView, error)
	History(ctx context.Context, userID string, limit int) ([]BatchView, error)
}

// BatchView is a batch with its status resolved at read time.
type BatchView struct {
	Batch
	EffectiveStatus Status `json:"effective_status"`
	Rollbackable    bool   `json:"rollbackable"`
}

// CacheInvalidator drops memoized derivations of a user after a committed change.
type CacheInvalidator interface {
	Invalidate(userID snowflake.ID)
}

// LockKey is the per-user key shared by mutations and rollbacks.
func LockKey(userID snowflake.ID) string {
	return "recalculation:user:" + userID.String()
}

// DefaultRollbackWindow applies when no window is configured.
const DefaultRollbackWindow = 24 * time.Hour

var (
	ErrInvalidUser             = errors.New("invalid_user")
	ErrInvalidBatch            = errors.New("invalid_batch")
	ErrInvalidMutation         = errors.New("invalid_mutation")
	ErrConcurrentRecalculation = errors.New("concurrent_recalculation")
	ErrRollbackExpired         = errors.New("rollback_expired")
	ErrRollbackNotFound        = errors.New("rollback_not_found")
	// ErrRollbackConflict means a newer change touched a reading of the batch; roll that back first.
	ErrRollbackConflict        = errors.New("rollback_conflict")
)
