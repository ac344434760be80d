package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/voxbill/internal/account/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("account.service"),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) Debit(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount float64) (bool, error) {
	if amount <= 0 {
		return false, accountdomain.ErrInvalidAmount
	}
	if tx == nil {
		tx = s.db
	}

	// Conditional update keeps the balance non-negative without a
	// read-modify-write race.
	result := tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET balance = balance - ?, updated_at = ?
		 WHERE id = ? AND balance >= ?`,
		amount, time.Now().UTC(), id, amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Not covered: flag the account, leave the balance alone.
	flag := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET low_balance_alert = ?, updated_at = ? WHERE id = ?`,
		true, time.Now().UTC(), id,
	)
	if flag.Error != nil {
		return false, flag.Error
	}
	if flag.RowsAffected == 0 {
		return false, accountdomain.ErrAccountNotFound
	}

	s.log.Warn("balance debit skipped, insufficient funds",
		zap.String("account_id", id.String()),
		zap.Float64("amount", amount),
	)
	return false, nil
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount float64) error {
	if amount <= 0 {
		return accountdomain.ErrInvalidAmount
	}
	if tx == nil {
		tx = s.db
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET balance = balance + ?, low_balance_alert = ?, updated_at = ?
		 WHERE id = ?`,
		amount, false, time.Now().UTC(), id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return accountdomain.ErrAccountNotFound
	}
	return nil
}
