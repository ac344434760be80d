package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	"github.com/smallbiznis/voxbill/pkg/db/pagination"
)

// CurrentUsage is the live view consumed by the billing UI.
type CurrentUsage struct {
	SubscriptionID string         `json:"subscription_id"`
	PeriodStart    string         `json:"period_start"`
	PeriodEnd      string         `json:"period_end"`
	Included       int            `json:"included"`
	Used           int            `json:"used"`
	Remaining      int            `json:"remaining"`
	Overage        int            `json:"overage"`
	OverageCost    float64        `json:"overage_cost"`
	PerTypeCounts  map[string]int `json:"per_type_counts"`
}

type HistoryRequest struct {
	SubscriptionID string `json:"subscription_id" form:"-"`
	PageToken      string `json:"page_token" form:"page_token"`
	PageSize       int32  `json:"page_size" form:"page_size"`
}

type HistoryResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

var (
	ErrInvalidMinutes = errors.New("invalid_minutes")
	ErrUsageNotFound  = errors.New("usage_not_found")
)

type Service interface {
	// AddMinutesUsed accumulates ceil(minutes) into the current period's
	// record, creating it on first use. Concurrent updates to the same
	// record are serialized by the store.
	AddMinutesUsed(ctx context.Context, subscriptionID snowflake.ID, minutes float64, callType cdrdomain.CallType) (*UsageRecord, error)
	GetCurrentUsage(ctx context.Context, subscriptionID snowflake.ID) (*CurrentUsage, error)
	GetUsageHistory(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
}
