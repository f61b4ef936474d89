package server

import (
	"net/http"
	"strings"

	sentineldomain "github.com/datakilde/varsel/internal/sentinel/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListDatasets(c *gin.Context) {
	scope := strings.TrimSpace(c.Query("provider_scope"))
	if scope == "" {
		AbortWithError(c, newValidationError("provider_scope", "required", "provider_scope is required"))
		return
	}

	datasets, err := s.datasetSvc.ListActive(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

func (s *Server) GetDataset(c *gin.Context) {
	dataset, err := s.datasetSvc.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, dataset)
}

func (s *Server) GetDatasetStatus(c *gin.Context) {
	report, err := s.orch.Status(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// ResetDataset re-arms a full update cycle for the dataset regardless of
// what the sentinels have detected.
func (s *Server) ResetDataset(c *gin.Context) {
	report, err := s.orch.ResetStatus(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

type selectSentinelsRequest struct {
	Force bool `json:"force"`
}

func (s *Server) SelectSentinels(c *gin.Context) {
	var req selectSentinelsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	report, err := s.sentinelSvc.Select(c.Request.Context(), sentineldomain.SelectRequest{
		DatasetCode: c.Param("code"),
		Force:       req.Force,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

type syncCatalogRequest struct {
	ProviderScope string `json:"provider_scope"`
}

func (s *Server) SyncCatalog(c *gin.Context) {
	var req syncCatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ProviderScope) == "" {
		AbortWithError(c, newValidationError("provider_scope", "required", "provider_scope is required"))
		return
	}

	report, err := s.datasetSvc.SyncCatalog(c.Request.Context(), req.ProviderScope)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
