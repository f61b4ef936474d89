package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	quotadomain "github.com/datakilde/varsel/internal/quota/domain"
	sentineldomain "github.com/datakilde/varsel/internal/sentinel/domain"
	"github.com/gin-gonic/gin"
)

type fakeDatasetService struct {
	dataset   *datasetdomain.Dataset
	getErr    error
	syncErr   error
	listCalls int
	getCalls  int
}

func (f *fakeDatasetService) SyncCatalog(ctx context.Context, providerScope string) (datasetdomain.SyncReport, error) {
	_ = ctx
	_ = providerScope
	if f.syncErr != nil {
		return datasetdomain.SyncReport{}, f.syncErr
	}
	return datasetdomain.SyncReport{}, nil
}

func (f *fakeDatasetService) Get(ctx context.Context, code string) (*datasetdomain.Dataset, error) {
	f.getCalls++
	_ = ctx
	_ = code
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.dataset, nil
}

func (f *fakeDatasetService) ListActive(ctx context.Context, providerScope string) ([]*datasetdomain.Dataset, error) {
	f.listCalls++
	_ = ctx
	_ = providerScope
	return nil, nil
}

type fakeSentinelService struct {
	report    sentineldomain.SelectReport
	err       error
	lastForce bool
	calls     int
}

func (f *fakeSentinelService) Select(ctx context.Context, req sentineldomain.SelectRequest) (sentineldomain.SelectReport, error) {
	f.calls++
	f.lastForce = req.Force
	_ = ctx
	if f.err != nil {
		return sentineldomain.SelectReport{}, f.err
	}
	return f.report, nil
}

func newTestRouter(srv *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	srv.engine = router
	registerRoutes(srv)
	return router
}

func TestListDatasetsRequiresProviderScope(t *testing.T) {
	datasetSvc := &fakeDatasetService{}
	router := newTestRouter(&Server{datasetSvc: datasetSvc})

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if datasetSvc.listCalls != 0 {
		t.Fatal("expected dataset service not to be called")
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Type != "validation_error" {
		t.Fatalf("expected validation_error, got %q", body.Error.Type)
	}
}

func TestGetDatasetUnknownCodeReturns404(t *testing.T) {
	datasetSvc := &fakeDatasetService{getErr: datasetdomain.ErrNotFound}
	router := newTestRouter(&Server{datasetSvc: datasetSvc})

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/99999", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestSyncCatalogQuotaExhaustedReturns429(t *testing.T) {
	datasetSvc := &fakeDatasetService{syncErr: quotadomain.ErrQuotaExhausted}
	router := newTestRouter(&Server{datasetSvc: datasetSvc})

	payload := bytes.NewBufferString(`{"provider_scope":"ssb"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/catalog/sync", payload)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Type != "quota_exhausted" {
		t.Fatalf("expected quota_exhausted, got %q", body.Error.Type)
	}
}

func TestSelectSentinelsPassesForceFlag(t *testing.T) {
	sentinelSvc := &fakeSentinelService{
		report: sentineldomain.SelectReport{DatasetCode: "07459", Selected: 50},
	}
	router := newTestRouter(&Server{sentinelSvc: sentinelSvc})

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/07459/sentinels/select", bytes.NewBufferString(`{"force":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if sentinelSvc.calls != 1 || !sentinelSvc.lastForce {
		t.Fatalf("expected one forced select call, got calls=%d force=%v", sentinelSvc.calls, sentinelSvc.lastForce)
	}
}

func TestSelectSentinelsNoActiveItemsReturns409(t *testing.T) {
	sentinelSvc := &fakeSentinelService{err: sentineldomain.ErrNoActiveItems}
	router := newTestRouter(&Server{sentinelSvc: sentinelSvc})

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/07459/sentinels/select", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Type != "not_configured" {
		t.Fatalf("expected not_configured, got %q", body.Error.Type)
	}
}

func TestRunUpdateForceRequiresDatasetCodes(t *testing.T) {
	router := newTestRouter(&Server{})

	req := httptest.NewRequest(http.MethodPost, "/v1/updates/run", bytes.NewBufferString(`{"provider_scope":"ssb","force":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}
