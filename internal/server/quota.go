package server

import (
	"net/http"
	"strconv"
	"strings"

	quotadomain "github.com/datakilde/varsel/internal/quota/domain"
	"github.com/gin-gonic/gin"
)

// GetQuota reports the scope's remaining budget for today plus the
// per-dataset usage breakdown. An optional date query overrides the
// accounting day for audits.
func (s *Server) GetQuota(c *gin.Context) {
	scope := c.Param("scope")
	if _, err := s.registry.Get(scope); err != nil {
		AbortWithError(c, err)
		return
	}

	usageDate := strings.TrimSpace(c.Query("date"))
	if usageDate == "" {
		usageDate = quotadomain.UsageDate(s.clock.Now())
	}

	limit := s.tuning.Get().QuotaLimitFor(scope)
	remaining, err := s.ledger.Remaining(c.Request.Context(), scope, usageDate, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	breakdown, err := s.ledger.Breakdown(c.Request.Context(), scope, usageDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider_scope": scope,
		"usage_date":     usageDate,
		"limit":          limit,
		"remaining":      remaining,
		"breakdown":      breakdown,
	})
}

func (s *Server) ListRuns(c *gin.Context) {
	code := strings.TrimSpace(c.Query("dataset_code"))
	if code == "" {
		AbortWithError(c, newValidationError("dataset_code", "required", "dataset_code is required"))
		return
	}

	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			AbortWithError(c, newValidationError("limit", "invalid", "limit must be between 1 and 500"))
			return
		}
		limit = parsed
	}

	runs, err := s.runs.ListByDataset(c.Request.Context(), s.db, code, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
