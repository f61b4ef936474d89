package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/datakilde/varsel/internal/provider/domain"
	"go.uber.org/zap"
)

// Client talks to one agency's JSON API. All responses are decoded into the
// provider-neutral types in the domain package; transient failures are
// retried with bounded exponential backoff before surfacing.
type Client struct {
	scope      string
	baseURL    string
	batchSize  int
	httpClient *http.Client
	log        *zap.Logger
	maxRetries uint64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

func New(scope, baseURL string, batchSize int, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		scope:      scope,
		baseURL:    baseURL,
		batchSize:  batchSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.Named("provider.httpapi").With(zap.String("scope", scope)),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Scope() string  { return c.scope }
func (c *Client) BatchSize() int { return c.batchSize }

type datasetPayload struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	CadenceDays int    `json:"cadence_days"`
}

func (c *Client) ListDatasets(ctx context.Context) ([]domain.DatasetRef, error) {
	var payload []datasetPayload
	if err := c.getJSON(ctx, c.baseURL+"/datasets", &payload); err != nil {
		return nil, err
	}
	refs := make([]domain.DatasetRef, 0, len(payload))
	for _, d := range payload {
		refs = append(refs, domain.DatasetRef{
			Code:            d.Code,
			Title:           d.Title,
			CadenceHintDays: d.CadenceDays,
		})
	}
	return refs, nil
}

type itemPayload struct {
	ID        string `json:"id"`
	Aggregate bool   `json:"aggregate"`
	Group     string `json:"group"`
}

func (c *Client) ListActiveItems(ctx context.Context, datasetCode string) ([]domain.ItemRef, error) {
	var payload []itemPayload
	url := fmt.Sprintf("%s/datasets/%s/items", c.baseURL, datasetCode)
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}
	refs := make([]domain.ItemRef, 0, len(payload))
	for _, it := range payload {
		refs = append(refs, domain.ItemRef{ID: it.ID, Aggregate: it.Aggregate, Group: it.Group})
	}
	return refs, nil
}

type observationPayload struct {
	ItemID    string  `json:"item_id"`
	Period    string  `json:"period"`
	Value     float64 `json:"value"`
	Footnotes string  `json:"footnotes"`
}

func (c *Client) FetchLatest(ctx context.Context, datasetCode string, itemIDs []string) ([]domain.Observation, error) {
	if len(itemIDs) > c.batchSize {
		return nil, &domain.PermanentError{
			Err: fmt.Errorf("%d items exceeds batch limit %d", len(itemIDs), c.batchSize),
		}
	}

	body, err := json.Marshal(map[string]any{"items": itemIDs})
	if err != nil {
		return nil, err
	}

	var payload []observationPayload
	url := fmt.Sprintf("%s/datasets/%s/latest", c.baseURL, datasetCode)
	if err := c.postJSON(ctx, url, body, &payload); err != nil {
		return nil, err
	}

	obs := make([]domain.Observation, 0, len(payload))
	for _, o := range payload {
		obs = append(obs, domain.Observation{
			ItemID:    o.ItemID,
			Period:    o.Period,
			Value:     o.Value,
			Footnotes: o.Footnotes,
		})
	}
	return obs, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		return c.decode(req, out)
	})
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte, out any) error {
	return c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.decode(req, out)
	})
}

func (c *Client) doWithRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries),
		ctx,
	)
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		te, ok := err.(*domain.TransientError)
		if !ok {
			return backoff.Permanent(err)
		}
		if te.RetryAfter > 0 {
			// Honor the provider's pacing hint before the next attempt.
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-time.After(te.RetryAfter):
			}
		}
		return err
	}, policy)
	return err
}

func (c *Client) decode(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are retryable.
		return &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.TransientError{
			Err:        fmt.Errorf("rate limited by %s", c.scope),
			RetryAfter: retryAfter(resp),
		}
	case resp.StatusCode >= 500:
		return &domain.TransientError{
			Err: fmt.Errorf("%s returned %d", c.scope, resp.StatusCode),
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.PermanentError{
			Err: fmt.Errorf("%s returned %d: %s", c.scope, resp.StatusCode, string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.PermanentError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
