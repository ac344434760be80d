package domain

import (
	"context"
	"errors"
	"time"
)

// RateRequest is the completed-call payload accepted by the rating pipeline.
type RateRequest struct {
	UUID           string         `json:"uuid"`
	CallingNumber  string         `json:"calling_number"`
	CalledNumber   string         `json:"called_number"`
	CallStartTime  time.Time      `json:"call_start_time"`
	CallAnswerTime *time.Time     `json:"call_answer_time,omitempty"`
	CallEndTime    time.Time      `json:"call_end_time"`
	Duration       int            `json:"duration"`
	BillSec        int            `json:"billsec"`
	HangupCause    string         `json:"hangup_cause"`
	Direction      string         `json:"direction"`
	AccountID      string         `json:"account_id"`
	DIDID          string         `json:"did_id,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// Result is one item of a batch submission; a bad record never aborts the
// batch.
type Result struct {
	UUID  string `json:"uuid"`
	OK    bool   `json:"ok"`
	CDR   *CDR   `json:"cdr,omitempty"`
	Error string `json:"error,omitempty"`
}

var (
	ErrDuplicateCDR    = errors.New("duplicate_cdr")
	ErrCDRNotFound     = errors.New("cdr_not_found")
	ErrCDRNotRetryable = errors.New("cdr_not_retryable")
	ErrInvalidUUID     = errors.New("invalid_uuid")
	ErrInvalidAccount  = errors.New("invalid_account")
)

type Service interface {
	// Process rates one completed call in a single transaction.
	Process(ctx context.Context, req RateRequest) (*CDR, error)
	// ProcessBatch rates each request independently and reports per-item
	// results.
	ProcessBatch(ctx context.Context, reqs []RateRequest) []Result
	// Retry deletes a failed CDR and re-runs the pipeline with the
	// original input, so the duplicate check does not block it.
	Retry(ctx context.Context, uuid string) (*CDR, error)
	GetByUUID(ctx context.Context, uuid string) (*CDR, error)
}
