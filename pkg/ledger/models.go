package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Run is one invocation of the migrator.
type Run struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	RunUUID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_migration_runs_uuid" json:"runUuid"`
	Source      string    `gorm:"type:varchar(200);not null" json:"source"`
	Destination string    `gorm:"type:varchar(200);not null" json:"destination"`
	Concurrency int       `json:"concurrency"`

	StartedAt  time.Time  `gorm:"not null" json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// Totals are filled in by FinishRun.
	Created         int `json:"created"`
	Updated         int `json:"updated"`
	Failed          int `json:"failed"`
	PeakConcurrency int `json:"peakConcurrency"`
}

// TableName specifies the table name.
func (Run) TableName() string {
	return "migration_runs"
}

// BeforeCreate assigns a run UUID when none was given.
func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.RunUUID == uuid.Nil {
		r.RunUUID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	return nil
}

// OutcomeRecord is the persisted outcome of one template in a run.
type OutcomeRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	RunID    uint   `gorm:"not null;index:idx_migration_outcomes_run" json:"runId"`
	Template string `gorm:"type:varchar(500);not null;index:idx_migration_outcomes_template" json:"template"`
	Status   string `gorm:"type:varchar(20);not null;index:idx_migration_outcomes_status" json:"status"`

	SourceID      uuid.UUID `gorm:"type:uuid" json:"sourceId"`
	DestinationID uuid.UUID `gorm:"type:uuid" json:"destinationId"`

	EntityName   string `gorm:"type:varchar(200)" json:"entityName"`
	OldCode      int    `json:"oldCode"`
	NewCode      int    `json:"newCode"`
	Replacements int    `json:"replacements"`

	Reason     string `gorm:"type:text" json:"reason,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// TableName specifies the table name.
func (OutcomeRecord) TableName() string {
	return "migration_outcomes"
}
