package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	"github.com/smallbiznis/voxbill/internal/clock"
	rateplandomain "github.com/smallbiznis/voxbill/internal/rateplan/domain"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"github.com/smallbiznis/voxbill/pkg/db/option"
	"github.com/smallbiznis/voxbill/pkg/db/pagination"
	"github.com/smallbiznis/voxbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	SubSvc  subscriptiondomain.Service
	PlanSvc rateplandomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	subSvc  subscriptiondomain.Service
	planSvc rateplandomain.Service
	repo    repository.Repository[usagedomain.UsageRecord]
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		subSvc:  p.SubSvc,
		planSvc: p.PlanSvc,
		repo:    repository.ProvideStore[usagedomain.UsageRecord](p.DB),
	}
}

func (s *Service) AddMinutesUsed(
	ctx context.Context,
	subscriptionID snowflake.ID,
	minutes float64,
	callType cdrdomain.CallType,
) (*usagedomain.UsageRecord, error) {
	if minutes < 0 || math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return nil, usagedomain.ErrInvalidMinutes
	}

	sub, err := s.subSvc.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	plan, err := s.planSvc.GetByID(ctx, sub.RatePlanID)
	if err != nil {
		return nil, err
	}

	period := s.subSvc.CurrentPeriod(sub, s.clock.Now())
	wholeMinutes := int(math.Ceil(minutes))

	var updated *usagedomain.UsageRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.lockRecord(ctx, tx, subscriptionID, period)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if record == nil {
			// First usage in the period seeds the allowance and freezes
			// the overage rate.
			record = &usagedomain.UsageRecord{
				ID:                   s.genID.Generate(),
				SubscriptionID:       subscriptionID,
				PeriodStart:          period.Start,
				PeriodEnd:            period.End,
				MinutesIncluded:      plan.IncludedMinutes,
				OverageRatePerMinute: plan.OverageRatePerMinute,
				CreatedAt:            now,
			}
		}

		record.MinutesUsed += wholeMinutes
		record.MinutesOverage = max(0, record.MinutesUsed-record.MinutesIncluded)
		record.OverageCost = float64(record.MinutesOverage) * record.OverageRatePerMinute

		switch callType {
		case cdrdomain.CallTypeSTD:
			record.STDCalls++
		case cdrdomain.CallTypeISD:
			record.ISDCalls++
		case cdrdomain.CallTypeMobile:
			record.MobileCalls++
		default:
			record.LocalCalls++
		}

		record.UpdatedAt = now
		if err := tx.Save(record).Error; err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// lockRecord loads the period's record under a row lock so concurrent
// read-modify-write updates serialize. SQLite serializes writers itself and
// rejects FOR UPDATE, so the clause is skipped there.
func (s *Service) lockRecord(
	ctx context.Context,
	tx *gorm.DB,
	subscriptionID snowflake.ID,
	period subscriptiondomain.BillingPeriod,
) (*usagedomain.UsageRecord, error) {
	stmt := tx.WithContext(ctx).
		Where("subscription_id = ? AND period_start = ?", subscriptionID, period.Start)
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var record usagedomain.UsageRecord
	err := stmt.First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) GetCurrentUsage(ctx context.Context, subscriptionID snowflake.ID) (*usagedomain.CurrentUsage, error) {
	sub, err := s.subSvc.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	period := s.subSvc.CurrentPeriod(sub, s.clock.Now())

	record, err := s.repo.FindOne(ctx, &usagedomain.UsageRecord{
		SubscriptionID: subscriptionID,
		PeriodStart:    period.Start,
	})
	if err != nil {
		return nil, err
	}

	usage := &usagedomain.CurrentUsage{
		SubscriptionID: subscriptionID.String(),
		PeriodStart:    period.Start.Format(time.RFC3339),
		PeriodEnd:      period.End.Format(time.RFC3339),
		PerTypeCounts:  map[string]int{},
	}

	if record == nil {
		// No usage yet this period: report the plan allowance untouched.
		plan, err := s.planSvc.GetByID(ctx, sub.RatePlanID)
		if err != nil {
			return nil, err
		}
		usage.Included = plan.IncludedMinutes
		usage.Remaining = plan.IncludedMinutes
		return usage, nil
	}

	usage.Included = record.MinutesIncluded
	usage.Used = record.MinutesUsed
	usage.Remaining = max(0, record.MinutesIncluded-record.MinutesUsed)
	usage.Overage = record.MinutesOverage
	usage.OverageCost = record.OverageCost
	usage.PerTypeCounts = map[string]int{
		string(cdrdomain.CallTypeLocal):  record.LocalCalls,
		string(cdrdomain.CallTypeSTD):    record.STDCalls,
		string(cdrdomain.CallTypeISD):    record.ISDCalls,
		string(cdrdomain.CallTypeMobile): record.MobileCalls,
	}
	return usage, nil
}

func (s *Service) GetUsageHistory(ctx context.Context, req usagedomain.HistoryRequest) (usagedomain.HistoryResponse, error) {
	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil || subscriptionID == 0 {
		return usagedomain.HistoryResponse{}, subscriptiondomain.ErrInvalidSubscription
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 12
	}

	items, err := s.repo.Find(ctx,
		&usagedomain.UsageRecord{SubscriptionID: subscriptionID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
	)
	if err != nil {
		return usagedomain.HistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *usagedomain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	records := make([]usagedomain.UsageRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := usagedomain.HistoryResponse{UsageRecords: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
