// Package predict talks to the remote classification service.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/machine-monitor/backend/internal/models"
)

// EndpointPath is appended to the configured base URL.
const EndpointPath = "/api/predict"

const (
	defaultTimeout          = 60 * time.Second
	defaultMaxResponseBytes = 1 << 20
	errorBodySnippet        = 512
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables client-side limiting
	Burst             int
	MaxResponseBytes  int64
	HTTPClient        *http.Client // optional; Timeout is ignored when set
}

// Client submits numeric sequences to the prediction service. It holds no
// per-request state: callers are responsible for keeping a single request
// outstanding per session. It never retries.
type Client struct {
	hc      *http.Client
	url     string
	limiter *rate.Limiter
	maxBody int64
	logger  *slog.Logger
}

// New builds a Client for opts.BaseURL.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("predict: base URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("predict: base URL must be http(s): %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		hc:      hc,
		url:     base + EndpointPath,
		limiter: limiter,
		maxBody: maxBody,
		logger:  logger.With(slog.String("component", "predict")),
	}, nil
}

// URL returns the full prediction endpoint.
func (c *Client) URL() string {
	return c.url
}

// Submit posts payload as a JSON array and decodes the features and label.
// Errors wrap ErrNetwork or ErrMalformedResponse.
func (c *Client) Submit(ctx context.Context, payload []float64) (*models.Prediction, error) {
	if payload == nil {
		payload = []float64{}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrNetwork, err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %w", ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "prediction request failed",
			slog.Int("values", len(payload)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "prediction response",
		slog.Int("status", resp.StatusCode),
		slog.Int("values", len(payload)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodySnippet))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrNetwork, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, c.maxBody)
	}

	return DecodeResponse(data)
}

type wireResponse struct {
	Features *models.FeatureMap `json:"features"`
	Label    *string            `json:"label"`
}

// DecodeResponse validates and decodes a prediction response body.
func DecodeResponse(data []byte) (*models.Prediction, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if w.Features == nil {
		return nil, fmt.Errorf("%w: missing features", ErrMalformedResponse)
	}
	if w.Label == nil {
		return nil, fmt.Errorf("%w: missing label", ErrMalformedResponse)
	}

	return &models.Prediction{
		Features: *w.Features,
		Label:    *w.Label,
	}, nil
}
