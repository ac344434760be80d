package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	accountdomain "github.com/smallbiznis/voxbill/internal/account/domain"
	"github.com/smallbiznis/voxbill/internal/cache"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/observability/metrics"
	rateplandomain "github.com/smallbiznis/voxbill/internal/rateplan/domain"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	usageworker "github.com/smallbiznis/voxbill/internal/usage/worker"
	"github.com/smallbiznis/voxbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config  config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *metrics.Metrics
	Cache   cache.RatingResolverCache
	Account accountdomain.Service
	Sub     subscriptiondomain.Service
	Plan    rateplandomain.Service
	Worker  *usageworker.Worker
}

type Service struct {
	cfg     config.Config
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	metrics *metrics.Metrics
	cache   cache.RatingResolverCache
	account accountdomain.Service
	sub     subscriptiondomain.Service
	plan    rateplandomain.Service
	worker  *usageworker.Worker
}

func NewService(p Params) cdrdomain.Service {
	return &Service{
		cfg:     p.Config,
		db:      p.DB,
		log:     p.Log.Named("cdr.service"),
		genID:   p.GenID,
		metrics: p.Metrics,
		cache:   p.Cache,
		account: p.Account,
		sub:     p.Sub,
		plan:    p.Plan,
		worker:  p.Worker,
	}
}

func (s *Service) Process(ctx context.Context, req cdrdomain.RateRequest) (*cdrdomain.CDR, error) {
	req.UUID = strings.TrimSpace(req.UUID)
	if _, err := uuid.Parse(req.UUID); err != nil {
		return nil, cdrdomain.ErrInvalidUUID
	}

	// Cheap pre-check; the unique index on uuid is the real guarantee.
	if existing, err := s.findByUUID(ctx, req.UUID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, cdrdomain.ErrDuplicateCDR
	}

	accountID, err := snowflake.ParseString(strings.TrimSpace(req.AccountID))
	if err != nil || accountID == 0 {
		return nil, cdrdomain.ErrInvalidAccount
	}

	account, sub, plan, err := s.resolve(ctx, accountID)
	if err != nil {
		// Resolution failures are retryable once the data is fixed, so the
		// record is kept as a failed stub instead of being thrown away.
		return s.persistFailed(ctx, req, accountID, err)
	}

	callType := Classify(req.CalledNumber, s.cfg.Billing.HomeCountryCode)
	cost := s.rateCall(plan, callType, req.BillSec)

	now := time.Now().UTC()
	record := &cdrdomain.CDR{
		ID:               s.genID.Generate(),
		UUID:             req.UUID,
		AccountID:        accountID,
		SubscriptionID:   sub.ID,
		CallingNumber:    req.CallingNumber,
		CalledNumber:     req.CalledNumber,
		StartTime:        req.CallStartTime.UTC(),
		AnswerTime:       req.CallAnswerTime,
		EndTime:          req.CallEndTime.UTC(),
		Duration:         req.Duration,
		BillableSeconds:  req.BillSec,
		HangupCause:      req.HangupCause,
		Direction:        req.Direction,
		CallType:         callType,
		ProcessingStatus: cdrdomain.StatusPending,
		CalculatedCost:   cost,
		Metadata:         requestMetadata(req),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return cdrdomain.ErrDuplicateCDR
			}
			return err
		}

		// Prepaid balance moves in the same transaction as the status flip,
		// so a crash never leaves a charged call unrated or vice versa.
		if account.Prepaid && cost > 0 {
			charged, err := s.account.Debit(ctx, tx, account.ID, cost)
			if err != nil {
				return err
			}
			record.Charged = charged
		}

		record.ProcessingStatus = cdrdomain.StatusProcessed
		record.UpdatedAt = time.Now().UTC()
		return tx.Model(&cdrdomain.CDR{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"processing_status": record.ProcessingStatus,
				"charged":           record.Charged,
				"updated_at":        record.UpdatedAt,
			}).Error
	})
	if err != nil {
		if errors.Is(err, cdrdomain.ErrDuplicateCDR) {
			s.metrics.CDRsProcessed.WithLabelValues("duplicate").Inc()
			existing, findErr := s.findByUUID(ctx, req.UUID)
			if findErr != nil {
				return nil, findErr
			}
			return existing, cdrdomain.ErrDuplicateCDR
		}
		// The rollback removed the pending row; keep a failed stub so the
		// error is auditable and the call retryable. The original error wins
		// even when the stub write fails too.
		stub, _ := s.persistFailed(ctx, req, accountID, err)
		return stub, err
	}

	s.metrics.CDRsProcessed.WithLabelValues("processed").Inc()
	if !record.Charged && account.Prepaid && cost > 0 {
		s.metrics.CDRsProcessed.WithLabelValues("uncharged").Inc()
	}

	if req.BillSec > 0 {
		s.worker.Enqueue(usageworker.Job{
			SubscriptionID: sub.ID,
			Minutes:        float64(req.BillSec) / 60.0,
			CallType:       callType,
		})
	}

	s.log.Info("cdr rated",
		zap.String("uuid", record.UUID),
		zap.String("call_type", string(callType)),
		zap.Float64("cost", cost),
		zap.Bool("charged", record.Charged),
	)
	return record, nil
}

func (s *Service) ProcessBatch(ctx context.Context, reqs []cdrdomain.RateRequest) []cdrdomain.Result {
	results := make([]cdrdomain.Result, 0, len(reqs))
	for _, req := range reqs {
		record, err := s.Process(ctx, req)
		result := cdrdomain.Result{UUID: req.UUID, OK: err == nil, CDR: record}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func (s *Service) Retry(ctx context.Context, id string) (*cdrdomain.CDR, error) {
	record, err := s.findByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, cdrdomain.ErrCDRNotFound
	}
	if record.ProcessingStatus != cdrdomain.StatusFailed {
		return nil, cdrdomain.ErrCDRNotRetryable
	}

	req, err := requestFromRecord(record)
	if err != nil {
		return nil, err
	}

	// Remove the failed row first so the duplicate check does not block the
	// re-run. The pipeline writes a fresh row either way.
	if err := s.db.WithContext(ctx).
		Where("id = ?", record.ID).
		Delete(&cdrdomain.CDR{}).Error; err != nil {
		return nil, err
	}

	s.metrics.CDRsProcessed.WithLabelValues("retried").Inc()
	return s.Process(ctx, req)
}

func (s *Service) GetByUUID(ctx context.Context, id string) (*cdrdomain.CDR, error) {
	record, err := s.findByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, cdrdomain.ErrCDRNotFound
	}
	return record, nil
}

func (s *Service) findByUUID(ctx context.Context, id string) (*cdrdomain.CDR, error) {
	var record cdrdomain.CDR
	err := s.db.WithContext(ctx).
		Where("uuid = ?", id).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// resolve loads the account, its active subscription and the plan, going to
// the cache first. The cached balance is never trusted for charging; the
// debit runs as a conditional update against the database.
func (s *Service) resolve(ctx context.Context, accountID snowflake.ID) (
	*accountdomain.Account,
	*subscriptiondomain.Subscription,
	*rateplandomain.RatePlan,
	error,
) {
	account, ok := s.cache.GetAccount(accountID.String())
	if !ok {
		var err error
		account, err = s.account.GetByID(ctx, accountID)
		if err != nil {
			return nil, nil, nil, err
		}
		s.cache.SetAccount(accountID.String(), account)
	}

	sub, ok := s.cache.GetActiveSubscription(accountID.String())
	if !ok {
		var err error
		sub, err = s.sub.GetActiveByAccountID(ctx, accountID)
		if err != nil {
			return nil, nil, nil, err
		}
		s.cache.SetActiveSubscription(accountID.String(), sub)
	}

	plan, ok := s.cache.GetRatePlan(sub.RatePlanID.String())
	if !ok {
		var err error
		plan, err = s.plan.GetByID(ctx, sub.RatePlanID)
		if err != nil {
			return nil, nil, nil, err
		}
		s.cache.SetRatePlan(sub.RatePlanID.String(), plan)
	}

	return account, sub, plan, nil
}

// rateCall prices billable time in whole-minute increments. Unanswered calls
// have zero billable seconds and cost nothing.
func (s *Service) rateCall(plan *rateplandomain.RatePlan, callType cdrdomain.CallType, billSec int) float64 {
	if billSec <= 0 {
		return 0
	}
	minutes := math.Ceil(float64(billSec) / 60.0)
	return minutes * s.ratePerMinute(plan, callType)
}

func (s *Service) ratePerMinute(plan *rateplandomain.RatePlan, callType cdrdomain.CallType) float64 {
	if plan == nil {
		return s.cfg.Billing.DefaultRatePerMinute
	}

	var override *float64
	switch callType {
	case cdrdomain.CallTypeLocal:
		override = plan.LocalRatePerMinute
	case cdrdomain.CallTypeSTD:
		override = plan.STDRatePerMinute
	case cdrdomain.CallTypeISD:
		override = plan.ISDRatePerMinute
	case cdrdomain.CallTypeMobile:
		override = plan.MobileRatePerMinute
	}
	if override != nil {
		return *override
	}
	if plan.OverageRatePerMinute > 0 {
		return plan.OverageRatePerMinute
	}
	return s.cfg.Billing.DefaultRatePerMinute
}

// persistFailed writes a failed stub carrying the original submission so a
// later retry can re-run the pipeline with identical input.
func (s *Service) persistFailed(ctx context.Context, req cdrdomain.RateRequest, accountID snowflake.ID, cause error) (*cdrdomain.CDR, error) {
	now := time.Now().UTC()
	record := &cdrdomain.CDR{
		ID:               s.genID.Generate(),
		UUID:             req.UUID,
		AccountID:        accountID,
		CallingNumber:    req.CallingNumber,
		CalledNumber:     req.CalledNumber,
		StartTime:        req.CallStartTime.UTC(),
		AnswerTime:       req.CallAnswerTime,
		EndTime:          req.CallEndTime.UTC(),
		Duration:         req.Duration,
		BillableSeconds:  req.BillSec,
		HangupCause:      req.HangupCause,
		Direction:        req.Direction,
		ProcessingStatus: cdrdomain.StatusFailed,
		Error:            cause.Error(),
		Metadata:         requestMetadata(req),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			existing, findErr := s.findByUUID(ctx, req.UUID)
			if findErr != nil {
				return nil, findErr
			}
			return existing, cdrdomain.ErrDuplicateCDR
		}
		return nil, err
	}

	s.metrics.CDRsProcessed.WithLabelValues("failed").Inc()
	s.log.Error("cdr processing failed",
		zap.String("uuid", req.UUID),
		zap.String("account_id", req.AccountID),
		zap.Error(cause),
	)
	return record, cause
}

// requestMetadata snapshots the submission into the record's metadata column.
func requestMetadata(req cdrdomain.RateRequest) datatypes.JSONMap {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return datatypes.JSONMap{"rate_request": m}
}

// requestFromRecord rebuilds the original submission from a failed stub.
func requestFromRecord(record *cdrdomain.CDR) (cdrdomain.RateRequest, error) {
	raw, ok := record.Metadata["rate_request"]
	if !ok {
		return cdrdomain.RateRequest{}, fmt.Errorf("cdr %s has no stored submission", record.UUID)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return cdrdomain.RateRequest{}, err
	}
	var req cdrdomain.RateRequest
	if err := json.Unmarshal(buf, &req); err != nil {
		return cdrdomain.RateRequest{}, err
	}
	return req, nil
}
