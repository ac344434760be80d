package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
)

func (s *Server) getCurrentUsage(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_subscription", "invalid subscription id"))
		return
	}

	usage, err := s.usageSvc.GetCurrentUsage(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

func (s *Server) getUsageHistory(c *gin.Context) {
	req := usagedomain.HistoryRequest{SubscriptionID: c.Param("id")}
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid query parameters"))
		return
	}

	resp, err := s.usageSvc.GetUsageHistory(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
