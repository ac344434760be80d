// Package domain contains the read-only rate plan model.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RatePlan is a subscription tier: included minutes plus overage pricing.
// Plans are managed elsewhere; this core only reads them.
type RatePlan struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	Name                 string       `gorm:"type:text;not null" json:"name"`
	IncludedMinutes      int          `gorm:"not null;default:0" json:"included_minutes"`
	OverageRatePerMinute float64      `gorm:"type:decimal(10,4);not null;default:0" json:"overage_rate_per_minute"`

	// Optional per-call-type pricing; the overage rate applies when unset.
	LocalRatePerMinute  *float64 `gorm:"type:decimal(10,4)" json:"local_rate_per_minute,omitempty"`
	STDRatePerMinute    *float64 `gorm:"type:decimal(10,4)" json:"std_rate_per_minute,omitempty"`
	ISDRatePerMinute    *float64 `gorm:"type:decimal(10,4)" json:"isd_rate_per_minute,omitempty"`
	MobileRatePerMinute *float64 `gorm:"type:decimal(10,4)" json:"mobile_rate_per_minute,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (RatePlan) TableName() string { return "rate_plans" }

var ErrRatePlanNotFound = errors.New("rate_plan_not_found")

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*RatePlan, error)
}
