package server

import (
	"net/http"
	"strings"

	freshnessdomain "github.com/datakilde/varsel/internal/freshness/domain"
	"github.com/datakilde/varsel/internal/orchestrator"
	"github.com/gin-gonic/gin"
)

type checkFreshnessRequest struct {
	ProviderScope string   `json:"provider_scope"`
	DatasetCodes  []string `json:"dataset_codes"`
}

func (s *Server) CheckFreshness(c *gin.Context) {
	var req checkFreshnessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ProviderScope) == "" {
		AbortWithError(c, newValidationError("provider_scope", "required", "provider_scope is required"))
		return
	}

	report, err := s.checker.Check(c.Request.Context(), freshnessdomain.CheckRequest{
		ProviderScope: req.ProviderScope,
		DatasetCodes:  req.DatasetCodes,
	})
	if err != nil {
		// The report still carries the datasets that were checked before
		// the failure; surface both.
		c.JSON(http.StatusMultiStatus, gin.H{"report": report, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

type runUpdateRequest struct {
	ProviderScope string   `json:"provider_scope"`
	DatasetCodes  []string `json:"dataset_codes"`
	Force         bool     `json:"force"`
	QuotaOverride int      `json:"quota_override"`
}

func (s *Server) RunUpdate(c *gin.Context) {
	var req runUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ProviderScope) == "" {
		AbortWithError(c, newValidationError("provider_scope", "required", "provider_scope is required"))
		return
	}
	if req.Force && len(req.DatasetCodes) == 0 {
		AbortWithError(c, newValidationError("dataset_codes", "required", "force requires explicit dataset codes"))
		return
	}

	report, err := s.orch.RunUpdate(c.Request.Context(), orchestrator.RunRequest{
		ProviderScope: req.ProviderScope,
		DatasetCodes:  req.DatasetCodes,
		Force:         req.Force,
		QuotaOverride: req.QuotaOverride,
	})
	if err != nil && report.DatasetsProcessed == 0 {
		AbortWithError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusMultiStatus, gin.H{"report": report, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}
