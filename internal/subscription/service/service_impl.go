package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	"github.com/smallbiznis/voxbill/pkg/repository"
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
	log  *zap.Logger
	repo repository.Repository[subscriptiondomain.Subscription]
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		log:  p.Log.Named("subscription.service"),
		repo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindOne(ctx, &subscriptiondomain.Subscription{ID: id})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) GetActiveByAccountID(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindOne(ctx, &subscriptiondomain.Subscription{
		AccountID: accountID,
		Status:    subscriptiondomain.SubscriptionStatusActive,
	})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// CurrentPeriod anchors monthly periods to the start day, clamped to the
// length of shorter months.
func (s *Service) CurrentPeriod(sub *subscriptiondomain.Subscription, now time.Time) subscriptiondomain.BillingPeriod {
	now = now.UTC()
	anchorDay := sub.StartAt.UTC().Day()

	start := periodStart(now.Year(), now.Month(), anchorDay, now.Location())
	if start.After(now) {
		prev := now.AddDate(0, -1, 0)
		start = periodStart(prev.Year(), prev.Month(), anchorDay, now.Location())
	}
	end := periodStart(start.Year(), start.Month()+1, anchorDay, now.Location())

	return subscriptiondomain.BillingPeriod{Start: start, End: end}
}

func periodStart(year int, month time.Month, day int, loc *time.Location) time.Time {
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
