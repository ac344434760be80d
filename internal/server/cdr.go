package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
)

const maxBatchSize = 500

func (s *Server) processCDR(c *gin.Context) {
	var req cdrdomain.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	if !s.allowIntake(c, req.AccountID) {
		return
	}

	record, err := s.cdrSvc.Process(c.Request.Context(), req)
	if err != nil {
		// A duplicate still reports the existing record in the body.
		if errors.Is(err, cdrdomain.ErrDuplicateCDR) && record != nil {
			c.JSON(http.StatusConflict, gin.H{"cdr": record, "duplicate": true})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"cdr": record})
}

func (s *Server) processCDRBatch(c *gin.Context) {
	var body struct {
		CDRs []cdrdomain.RateRequest `json:"cdrs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.CDRs) == 0 {
		AbortWithError(c, newValidationError("cdrs", "invalid_request", "cdrs must be a non-empty array"))
		return
	}
	if len(body.CDRs) > maxBatchSize {
		AbortWithError(c, newValidationError("cdrs", "batch_too_large", "too many records in one batch"))
		return
	}

	if !s.allowIntake(c, batchAccountID(body.CDRs)) {
		return
	}

	results := s.cdrSvc.ProcessBatch(c.Request.Context(), body.CDRs)

	accepted := 0
	for _, result := range results {
		if result.OK {
			accepted++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"results":  results,
		"accepted": accepted,
		"rejected": len(results) - accepted,
	})
}

func (s *Server) getCDR(c *gin.Context) {
	record, err := s.cdrSvc.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cdr": record})
}

func (s *Server) retryCDR(c *gin.Context) {
	record, err := s.cdrSvc.Retry(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cdr": record})
}

// allowIntake applies the per-account token bucket. Limiter failures let the
// request through; billing availability beats throttling precision.
func (s *Server) allowIntake(c *gin.Context, accountID string) bool {
	if !s.limiter.Enabled() {
		return true
	}
	result, err := s.limiter.AllowAccount(c.Request.Context(), accountID)
	if err != nil {
		s.log.Warn("rate limiter unavailable, allowing request")
		return true
	}
	if !result.Allowed {
		c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
		AbortWithError(c, ErrRateLimited)
		return false
	}
	return true
}

// batchAccountID picks the throttle key for a batch; mixed-account batches
// are keyed by the first record.
func batchAccountID(reqs []cdrdomain.RateRequest) string {
	for _, req := range reqs {
		if id := strings.TrimSpace(req.AccountID); id != "" {
			return id
		}
	}
	return "unknown"
}
