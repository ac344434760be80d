// Package domain contains persistence models for billing accounts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Account owns the shared balance debited by the rating pipeline.
type Account struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	Prepaid         bool         `gorm:"not null;default:false" json:"prepaid"`
	Balance         float64      `gorm:"type:decimal(15,4);not null;default:0" json:"balance"`
	LowBalanceAlert bool         `gorm:"not null;default:false" json:"low_balance_alert"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

var (
	ErrAccountNotFound = errors.New("account_not_found")
	ErrInvalidAmount   = errors.New("invalid_amount")
)

// Service exposes the transactional balance store. Debit participates in the
// caller's transaction so the balance change and the CDR charge flag commit
// or roll back together.
type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Account, error)
	// Debit atomically subtracts amount when the balance covers it and
	// reports whether the charge landed. Insufficient funds is a business
	// state, not an error: the account is flagged, the balance untouched.
	Debit(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount float64) (bool, error)
	Credit(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount float64) error
}
