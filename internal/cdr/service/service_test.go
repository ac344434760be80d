package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/voxbill/internal/account/domain"
	accountservice "github.com/smallbiznis/voxbill/internal/account/service"
	"github.com/smallbiznis/voxbill/internal/cache"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/observability/metrics"
	rateplandomain "github.com/smallbiznis/voxbill/internal/rateplan/domain"
	rateplanservice "github.com/smallbiznis/voxbill/internal/rateplan/service"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/voxbill/internal/subscription/service"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	usageservice "github.com/smallbiznis/voxbill/internal/usage/service"
	usageworker "github.com/smallbiznis/voxbill/internal/usage/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// promauto registers against the default registry; one instance per binary.
var testMetrics = metrics.New()

type testEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	svc     cdrdomain.Service
	worker  *usageworker.Worker
	cfg     config.Config
	account accountdomain.Service
	subSvc  subscriptiondomain.Service
	planSvc rateplandomain.Service
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&rateplandomain.RatePlan{},
		&subscriptiondomain.Subscription{},
		&cdrdomain.CDR{},
		&usagedomain.UsageRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	logger := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC))

	accountSvc := accountservice.NewService(accountservice.Params{DB: db, Log: logger})
	subSvc := subscriptionservice.NewService(subscriptionservice.Params{DB: db, Log: logger})
	planSvc := rateplanservice.NewService(rateplanservice.Params{DB: db, Log: logger})
	usageSvc := usageservice.NewService(usageservice.Params{
		DB: db, Log: logger, GenID: node, Clock: clk, SubSvc: subSvc, PlanSvc: planSvc,
	})
	worker := usageworker.NewWorker(usageworker.Params{
		Log: logger, Metrics: testMetrics, Usage: usageSvc,
	})

	cfg := config.Config{
		Billing: config.BillingConfig{HomeCountryCode: "91", DefaultRatePerMinute: 1.0},
	}
	svc := NewService(Params{
		Config:  cfg,
		DB:      db,
		Log:     logger,
		GenID:   node,
		Metrics: testMetrics,
		Cache:   cache.NewRatingResolverCache(),
		Account: accountSvc,
		Sub:     subSvc,
		Plan:    planSvc,
		Worker:  worker,
	})

	return &testEnv{
		db: db, node: node, svc: svc, worker: worker,
		cfg: cfg, account: accountSvc, subSvc: subSvc, planSvc: planSvc,
	}
}

// serviceWith builds a second pipeline over the same database with the
// account store swapped out.
func (e *testEnv) serviceWith(account accountdomain.Service) cdrdomain.Service {
	return NewService(Params{
		Config:  e.cfg,
		DB:      e.db,
		Log:     zap.NewNop(),
		GenID:   e.node,
		Metrics: testMetrics,
		Cache:   cache.NewRatingResolverCache(),
		Account: account,
		Sub:     e.subSvc,
		Plan:    e.planSvc,
		Worker:  e.worker,
	})
}

func (e *testEnv) seedAccount(t *testing.T, prepaid bool, balance float64) (snowflake.ID, snowflake.ID) {
	t.Helper()

	accountID := e.node.Generate()
	planID := e.node.Generate()
	subID := e.node.Generate()

	isd := 5.0
	require.NoError(t, e.db.Create(&accountdomain.Account{
		ID: accountID, Name: "acme-telecom", Prepaid: prepaid, Balance: balance,
	}).Error)
	require.NoError(t, e.db.Create(&rateplandomain.RatePlan{
		ID:                   planID,
		Name:                 "starter-500",
		IncludedMinutes:      500,
		OverageRatePerMinute: 2.0,
		ISDRatePerMinute:     &isd,
	}).Error)
	require.NoError(t, e.db.Create(&subscriptiondomain.Subscription{
		ID:         subID,
		AccountID:  accountID,
		RatePlanID: planID,
		Status:     subscriptiondomain.SubscriptionStatusActive,
		StartAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}).Error)

	return accountID, subID
}

func rateRequest(accountID snowflake.ID, uuid string, billSec int) cdrdomain.RateRequest {
	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	answer := start.Add(2 * time.Second)
	return cdrdomain.RateRequest{
		UUID:           uuid,
		CallingNumber:  "1001",
		CalledNumber:   "+919812345678",
		CallStartTime:  start,
		CallAnswerTime: &answer,
		CallEndTime:    start.Add(time.Duration(billSec+2) * time.Second),
		Duration:       billSec + 2,
		BillSec:        billSec,
		HangupCause:    "NORMAL_CLEARING",
		Direction:      "inbound",
		AccountID:      accountID.String(),
	}
}

func TestProcessRatesAndCharges(t *testing.T) {
	env := setupTest(t)
	accountID, subID := env.seedAccount(t, true, 100)

	// 130s of mobile traffic rounds up to 3 minutes at the overage rate.
	record, err := env.svc.Process(context.Background(),
		rateRequest(accountID, "11111111-1111-1111-1111-111111111111", 130))
	require.NoError(t, err)

	assert.Equal(t, cdrdomain.StatusProcessed, record.ProcessingStatus)
	assert.Equal(t, cdrdomain.CallTypeMobile, record.CallType)
	assert.Equal(t, subID, record.SubscriptionID)
	assert.InDelta(t, 6.0, record.CalculatedCost, 0.0001)
	assert.True(t, record.Charged)

	var account accountdomain.Account
	require.NoError(t, env.db.First(&account, "id = ?", accountID).Error)
	assert.InDelta(t, 94.0, account.Balance, 0.0001)
	assert.False(t, account.LowBalanceAlert)
}

func TestProcessUsesPerTypeRate(t *testing.T) {
	env := setupTest(t)
	accountID, _ := env.seedAccount(t, false, 0)

	req := rateRequest(accountID, "22222222-2222-2222-2222-222222222222", 60)
	req.CalledNumber = "+12025551234"

	record, err := env.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, cdrdomain.CallTypeISD, record.CallType)
	assert.InDelta(t, 5.0, record.CalculatedCost, 0.0001)
	// Postpaid accounts are never debited at rating time.
	assert.False(t, record.Charged)
}

func TestProcessDuplicateUUID(t *testing.T) {
	env := setupTest(t)
	accountID, _ := env.seedAccount(t, true, 100)

	const id = "33333333-3333-3333-3333-333333333333"
	first, err := env.svc.Process(context.Background(), rateRequest(accountID, id, 60))
	require.NoError(t, err)

	second, err := env.svc.Process(context.Background(), rateRequest(accountID, id, 600))
	require.ErrorIs(t, err, cdrdomain.ErrDuplicateCDR)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, env.db.Model(&cdrdomain.CDR{}).Where("uuid = ?", id).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// The duplicate never double-charges.
	var account accountdomain.Account
	require.NoError(t, env.db.First(&account, "id = ?", accountID).Error)
	assert.InDelta(t, 98.0, account.Balance, 0.0001)
}

func TestProcessInsufficientFundsIsBusinessState(t *testing.T) {
	env := setupTest(t)
	accountID, _ := env.seedAccount(t, true, 1.0)

	record, err := env.svc.Process(context.Background(),
		rateRequest(accountID, "44444444-4444-4444-4444-444444444444", 60))
	require.NoError(t, err)

	assert.Equal(t, cdrdomain.StatusProcessed, record.ProcessingStatus)
	assert.InDelta(t, 2.0, record.CalculatedCost, 0.0001)
	assert.False(t, record.Charged)

	var account accountdomain.Account
	require.NoError(t, env.db.First(&account, "id = ?", accountID).Error)
	assert.InDelta(t, 1.0, account.Balance, 0.0001)
	assert.True(t, account.LowBalanceAlert)
}

func TestProcessZeroBillSecCostsNothing(t *testing.T) {
	env := setupTest(t)
	accountID, _ := env.seedAccount(t, true, 100)

	req := rateRequest(accountID, "55555555-5555-5555-5555-555555555555", 0)
	req.CallAnswerTime = nil
	req.HangupCause = "NO_ANSWER"

	record, err := env.svc.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Zero(t, record.CalculatedCost)
	assert.False(t, record.Charged)
}

func TestProcessInvalidUUID(t *testing.T) {
	env := setupTest(t)
	accountID, _ := env.seedAccount(t, true, 100)

	_, err := env.svc.Process(context.Background(), rateRequest(accountID, "not-a-uuid", 60))
	assert.ErrorIs(t, err, cdrdomain.ErrInvalidUUID)
}

func TestProcessUnknownAccountPersistsFailedStub(t *testing.T) {
	env := setupTest(t)

	const id = "66666666-6666-6666-6666-666666666666"
	ghost := env.node.Generate()

	record, err := env.svc.Process(context.Background(), rateRequest(ghost, id, 60))
	require.ErrorIs(t, err, accountdomain.ErrAccountNotFound)
	require.NotNil(t, record)
	assert.Equal(t, cdrdomain.StatusFailed, record.ProcessingStatus)
	assert.NotEmpty(t, record.Error)

	var stored cdrdomain.CDR
	require.NoError(t, env.db.First(&stored, "uuid = ?", id).Error)
	assert.Equal(t, cdrdomain.StatusFailed, stored.ProcessingStatus)
}

// debitFailingAccounts simulates the balance store erroring mid-transaction.
type debitFailingAccounts struct {
	accountdomain.Service
}

func (debitFailingAccounts) Debit(context.Context, *gorm.DB, snowflake.ID, float64) (bool, error) {
	return false, errors.New("deadlock detected")
}

func TestTransactionFailurePersistsFailedStub(t *testing.T) {
	env := setupTest(t)
	accountID, _ := env.seedAccount(t, true, 100)

	const id = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	svc := env.serviceWith(debitFailingAccounts{env.account})

	record, err := svc.Process(context.Background(), rateRequest(accountID, id, 60))
	require.Error(t, err)
	require.NotNil(t, record)
	assert.Equal(t, cdrdomain.StatusFailed, record.ProcessingStatus)
	assert.Contains(t, record.Error, "deadlock")

	// The rollback removed the rated row; only the audit stub remains.
	var stored cdrdomain.CDR
	require.NoError(t, env.db.First(&stored, "uuid = ?", id).Error)
	assert.Equal(t, cdrdomain.StatusFailed, stored.ProcessingStatus)

	var account accountdomain.Account
	require.NoError(t, env.db.First(&account, "id = ?", accountID).Error)
	assert.InDelta(t, 100.0, account.Balance, 0.0001)

	// Once the store recovers, the stub retries through the normal pipeline.
	retried, err := env.svc.Retry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, cdrdomain.StatusProcessed, retried.ProcessingStatus)
	assert.True(t, retried.Charged)
}

func TestRetryReprocessesFailedCDR(t *testing.T) {
	env := setupTest(t)

	const id = "77777777-7777-7777-7777-777777777777"
	accountID := env.node.Generate()

	_, err := env.svc.Process(context.Background(), rateRequest(accountID, id, 60))
	require.Error(t, err)

	// The account appears later; the retry must succeed with the stored input.
	planID := env.node.Generate()
	require.NoError(t, env.db.Create(&accountdomain.Account{
		ID: accountID, Name: "late-arrival", Prepaid: true, Balance: 50,
	}).Error)
	require.NoError(t, env.db.Create(&rateplandomain.RatePlan{
		ID: planID, Name: "basic", IncludedMinutes: 100, OverageRatePerMinute: 2.0,
	}).Error)
	require.NoError(t, env.db.Create(&subscriptiondomain.Subscription{
		ID:         env.node.Generate(),
		AccountID:  accountID,
		RatePlanID: planID,
		Status:     subscriptiondomain.SubscriptionStatusActive,
		StartAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}).Error)

	record, err := env.svc.Retry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, cdrdomain.StatusProcessed, record.ProcessingStatus)
	assert.True(t, record.Charged)

	var count int64
	require.NoError(t, env.db.Model(&cdrdomain.CDR{}).Where("uuid = ?", id).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRetryRejectsProcessedCDR(t *testing.T) {
	env := setupTest(t)
	accountID, _ := env.seedAccount(t, true, 100)

	const id = "88888888-8888-8888-8888-888888888888"
	_, err := env.svc.Process(context.Background(), rateRequest(accountID, id, 60))
	require.NoError(t, err)

	_, err = env.svc.Retry(context.Background(), id)
	assert.ErrorIs(t, err, cdrdomain.ErrCDRNotRetryable)
}

func TestProcessBatchReportsPerItemResults(t *testing.T) {
	env := setupTest(t)
	accountID, _ := env.seedAccount(t, true, 100)

	reqs := []cdrdomain.RateRequest{
		rateRequest(accountID, "99999999-9999-9999-9999-999999999999", 60),
		rateRequest(accountID, "bad-uuid", 60),
		rateRequest(accountID, "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", 120),
	}

	results := env.svc.ProcessBatch(context.Background(), reqs)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Equal(t, cdrdomain.ErrInvalidUUID.Error(), results[1].Error)
	assert.True(t, results[2].OK)

	// The bad record never aborts the batch.
	var count int64
	require.NoError(t, env.db.Model(&cdrdomain.CDR{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}
