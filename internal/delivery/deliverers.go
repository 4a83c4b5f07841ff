package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/packshop/internal/catalog"
	"github.com/mbd888/packshop/internal/orders"
	"github.com/mbd888/packshop/internal/retry"
	"github.com/mbd888/packshop/internal/webhooks"
)

// LogDeliverer writes the hand-off to the log. Used when no fulfilment
// service is configured.
type LogDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer creates a log deliverer.
func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDeliverer{logger: logger}
}

func (l *LogDeliverer) Name() string { return "log" }

func (l *LogDeliverer) Deliver(_ context.Context, o *orders.Order, pack catalog.Pack) error {
	l.logger.Info("pack delivered",
		"order_id", o.ID,
		"customer_email", o.CustomerEmail,
		"pack_id", pack.ID,
		"content", pack.Content,
	)
	return nil
}

// EventDelivered is the X-Packshop-Event value of fulfilment callbacks.
const EventDelivered = "order.delivered"

// Payload is the JSON body posted to the fulfilment service.
type Payload struct {
	OrderID       string    `json:"orderId"`
	PackID        int64     `json:"packId"`
	PackName      string    `json:"packName"`
	Content       string    `json:"content"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
	Amount        int64     `json:"amount"`
	DeliveredAt   time.Time `json:"deliveredAt"`
}

// HTTPDeliverer posts a signed delivery request to a fulfilment service.
// The signature uses the same scheme the webhook endpoint verifies, so a
// fulfilment service can share the verification code.
type HTTPDeliverer struct {
	url          string
	secret       string
	client       *http.Client
	now          func() time.Time
	urlValidator func(string) error
}

// HTTPOption configures an HTTPDeliverer.
type HTTPOption func(*HTTPDeliverer)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPDeliverer) { h.client = c }
}

// WithURLValidator checks the target URL before every request.
func WithURLValidator(fn func(string) error) HTTPOption {
	return func(h *HTTPDeliverer) { h.urlValidator = fn }
}

// NewHTTPDeliverer creates an HTTP deliverer for url.
func NewHTTPDeliverer(url, secret string, opts ...HTTPOption) *HTTPDeliverer {
	h := &HTTPDeliverer{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPDeliverer) Name() string { return "http" }

// Deliver posts the payload. 4xx responses other than 408 and 429 are
// permanent; everything else may be retried.
func (h *HTTPDeliverer) Deliver(ctx context.Context, o *orders.Order, pack catalog.Pack) error {
	if h.urlValidator != nil {
		if err := h.urlValidator(h.url); err != nil {
			return retry.Permanent(fmt.Errorf("delivery url rejected: %w", err))
		}
	}

	p := Payload{
		OrderID:       o.ID,
		PackID:        pack.ID,
		PackName:      pack.Name,
		Content:       pack.Content,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Amount:        o.Amount,
	}
	if o.DeliveredAt != nil {
		p.DeliveredAt = *o.DeliveredAt
	}
	body, err := json.Marshal(p)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal delivery payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build delivery request: %w", err))
	}
	ts := h.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Packshop-Event", EventDelivered)
	req.Header.Set("Idempotency-Key", o.ID)
	req.Header.Set(webhooks.TimestampHeader, fmt.Sprintf("%d", ts))
	if h.secret != "" {
		req.Header.Set(webhooks.SignatureHeader, webhooks.Sign(h.secret, ts, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("fulfilment service returned %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("fulfilment service returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("fulfilment service returned %d", resp.StatusCode)
	}
}
