// Package domain contains per-period usage accumulation models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord accumulates rated minutes for one subscription and billing
// period. Created lazily on first usage; the overage rate is frozen at
// creation so mid-period plan edits cannot reprice history.
type UsageRecord struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID `gorm:"not null;uniqueIndex:idx_usage_subscription_period" json:"subscription_id"`
	PeriodStart    time.Time    `gorm:"not null;uniqueIndex:idx_usage_subscription_period" json:"period_start"`
	PeriodEnd      time.Time    `gorm:"not null" json:"period_end"`

	MinutesIncluded int `gorm:"not null;default:0" json:"minutes_included"`
	MinutesUsed     int `gorm:"not null;default:0" json:"minutes_used"`
	MinutesOverage  int `gorm:"not null;default:0" json:"minutes_overage"`

	OverageRatePerMinute float64 `gorm:"type:decimal(10,4);not null;default:0" json:"overage_rate_per_minute"`
	OverageCost          float64 `gorm:"type:decimal(15,4);not null;default:0" json:"overage_cost"`

	LocalCalls  int `gorm:"not null;default:0" json:"local_calls"`
	STDCalls    int `gorm:"not null;default:0" json:"std_calls"`
	ISDCalls    int `gorm:"not null;default:0" json:"isd_calls"`
	MobileCalls int `gorm:"not null;default:0" json:"mobile_calls"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
