package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-sql/civil"
	readingdomain "github.com/smallbiznis/kwhtracker/internal/reading/domain"
	"gorm.io/datatypes"
)

type TriggerType string

const (
	TriggerBackdateTopUp    TriggerType = "BACKDATE_TOPUP"
	TriggerEditTopUp        TriggerType = "EDIT_TOPUP"
	TriggerDeleteTopUp      TriggerType = "DELETE_TOPUP"
	TriggerManualCorrection TriggerType = "MANUAL_CORRECTION"
	TriggerRollback         TriggerType = "ROLLBACK"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerBackdateTopUp, TriggerEditTopUp, TriggerDeleteTopUp, TriggerManualCorrection, TriggerRollback:
		return true
	}
	return false
}

// Status is the stored state of a batch. StatusExpired is never stored: it is derived
// from CanRollbackUntil when the batch is read.
type Status string

const (
	StatusPendingRollback Status = "PENDING_ROLLBACK"
	StatusRolledBack      Status = "ROLLED_BACK"
	StatusExpired         Status = "EXPIRED"
	StatusCompensation    Status = "COMPENSATION"
)

type EventType string

const (
	EventUsageChanged EventType = "usage_changed"
	EventDayAdded     EventType = "day_added"
	EventDayRemoved   EventType = "day_removed"
	EventTopUpChanged EventType = "topup_changed"
)

// AffectedEvent is one day whose derived usage changed because of a mutation.
// OldKwh is nil for days that did not exist before, NewKwh for days that no longer exist.
type AffectedEvent struct {
	EventDate civil.Date `json:"eventDate"`
	EventType EventType  `json:"eventType"`
	OldKwh    *float64   `json:"oldKwh"`
	NewKwh    *float64   `json:"newKwh"`
}

// ReadingChange stores the image of a reading before and after a mutation.
// Before is nil for inserts and After is nil for deletes.
type ReadingChange struct {
	ReadingID snowflake.ID           `json:"readingId"`
	Before    *readingdomain.Reading `json:"before"`
	After     *readingdomain.Reading `json:"after"`
}

type Batch struct {
	ID                 snowflake.ID                       `json:"id" gorm:"primaryKey"`
	UserID             snowflake.ID                       `json:"user_id" gorm:"column:user_id;not null;index:idx_recalculation_batches_user_created,priority:1"`
	TriggerType        TriggerType                        `json:"trigger_type" gorm:"column:trigger_type;type:text;not null"`
	Status             Status                             `json:"status" gorm:"column:status;type:text;not null;index"`
	AffectedEvents     datatypes.JSONSlice[AffectedEvent] `json:"affected_events" gorm:"column:affected_events"`
	ReadingChanges     datatypes.JSONSlice[ReadingChange] `json:"reading_changes" gorm:"column:reading_changes"`
	CompensatesBatchID *snowflake.ID                      `json:"compensates_batch_id,omitempty" gorm:"column:compensates_batch_id"`
	Reason             string                             `json:"reason,omitempty" gorm:"type:text"`
	ActorID            *snowflake.ID                      `json:"actor_id,omitempty" gorm:"column:actor_id"`
	CreatedAt          time.Time                          `json:"created_at" gorm:"not null;index:idx_recalculation_batches_user_created,priority:2"`
	CanRollbackUntil   time.Time                          `json:"can_rollback_until" gorm:"column:can_rollback_until;not null"`
	RolledBackAt       *time.Time                         `json:"rolled_back_at,omitempty" gorm:"column:rolled_back_at"`
	RolledBackBy       *snowflake.ID                      `json:"rolled_back_by,omitempty" gorm:"column:rolled_back_by"`
	RollbackReason     string                             `json:"rollback_reason,omitempty" gorm:"column:rollback_reason;type:text"`
}

func (Batch) TableName() string { return "recalculation_batches" }

// EffectiveStatus resolves the passive PENDING_ROLLBACK -> EXPIRED transition at now.
func (b Batch) EffectiveStatus(now time.Time) Status {
	if b.Status == StatusPendingRollback && now.After(b.CanRollbackUntil) {
		return StatusExpired
	}
	return b.Status
}

// Rollbackable reports whether the batch can still be undone at now.
func (b Batch) Rollbackable(now time.Time) bool {
	return b.EffectiveStatus(now) == StatusPendingRollback
}
