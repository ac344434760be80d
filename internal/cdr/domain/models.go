// Package domain contains persistence models for call detail records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProcessingStatus is the CDR lifecycle: rows are inserted pending and end
// processed or failed; both end states are terminal.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusProcessed ProcessingStatus = "processed"
	StatusFailed    ProcessingStatus = "failed"
)

// CallType classifies the called number for per-type pricing and usage
// counters.
type CallType string

const (
	CallTypeLocal  CallType = "local"
	CallTypeSTD    CallType = "std"
	CallTypeISD    CallType = "isd"
	CallTypeMobile CallType = "mobile"
)

// CDR is the billing-grade record of one completed call. Created at call
// completion, mutated only by the rating pipeline.
type CDR struct {
	ID   snowflake.ID `gorm:"primaryKey" json:"id"`
	UUID string       `gorm:"type:text;not null;uniqueIndex" json:"uuid"` // idempotency key

	AccountID      snowflake.ID `gorm:"not null;index" json:"account_id"`
	SubscriptionID snowflake.ID `gorm:"index" json:"subscription_id,omitempty"`

	CallingNumber string `gorm:"type:text;not null" json:"calling_number"`
	CalledNumber  string `gorm:"type:text;not null" json:"called_number"`

	StartTime  time.Time  `gorm:"not null" json:"start_time"`
	AnswerTime *time.Time `gorm:"" json:"answer_time,omitempty"`
	EndTime    time.Time  `gorm:"not null" json:"end_time"`

	Duration        int `gorm:"not null;default:0" json:"duration"`
	BillableSeconds int `gorm:"not null;default:0" json:"billable_seconds"`

	HangupCause string   `gorm:"type:text" json:"hangup_cause"`
	Direction   string   `gorm:"type:text" json:"direction"`
	CallType    CallType `gorm:"type:text" json:"call_type"`

	ProcessingStatus ProcessingStatus `gorm:"type:text;not null" json:"processing_status"`
	CalculatedCost   float64          `gorm:"type:decimal(15,4);not null;default:0" json:"calculated_cost"`
	Charged          bool             `gorm:"not null;default:false" json:"charged"`
	Error            string           `gorm:"type:text" json:"error,omitempty"`

	Metadata datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CDR) TableName() string { return "cdrs" }
