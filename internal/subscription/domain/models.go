// Package domain contains subscription models and the period resolver.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription binds an account to a rate plan. Billing periods are monthly,
// anchored to the subscription start day.
type Subscription struct {
	ID         snowflake.ID       `gorm:"primaryKey" json:"id"`
	AccountID  snowflake.ID       `gorm:"not null;index" json:"account_id"`
	RatePlanID snowflake.ID       `gorm:"not null;index" json:"rate_plan_id"`
	Status     SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	StartAt    time.Time          `gorm:"not null" json:"start_at"`
	CanceledAt *time.Time         `gorm:"" json:"canceled_at,omitempty"`
	CreatedAt  time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// BillingPeriod is one subscription billing window.
type BillingPeriod struct {
	Start time.Time
	End   time.Time
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	GetActiveByAccountID(ctx context.Context, accountID snowflake.ID) (*Subscription, error)
	// CurrentPeriod resolves the billing window containing now, anchored to
	// the subscription's start day.
	CurrentPeriod(sub *Subscription, now time.Time) BillingPeriod
}
