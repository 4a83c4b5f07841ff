package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for connecting to a packshop server.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Optional; enables the admin tools
}

// Client is a pure HTTP client for the packshop API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the packshop API.
func NewClient(cfg Config) *Client {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HasAdmin reports whether admin calls can be made.
func (c *Client) HasAdmin() bool {
	return c.cfg.AdminSecret != ""
}

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Code)
}

// doRequest makes an HTTP request and decodes a 2xx JSON body into out.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any, admin bool) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Pack mirrors the public pack representation.
type Pack struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Price       int64  `json:"price"`
	Description string `json:"description"`
}

// Order mirrors the public order representation.
type Order struct {
	ID                  string     `json:"id"`
	PackID              int64      `json:"packId"`
	PackName            string     `json:"packName"`
	CustomerName        string     `json:"customerName"`
	CustomerEmail       string     `json:"customerEmail"`
	Amount              int64      `json:"amount"`
	Status              string     `json:"status"`
	PaymentReference    string     `json:"paymentReference"`
	PaymentPresentation string     `json:"paymentPresentation"`
	CreatedAt           time.Time  `json:"createdAt"`
	PaidAt              *time.Time `json:"paidAt"`
	DeliveredAt         *time.Time `json:"deliveredAt"`
	Delivery            *struct {
		State     string `json:"state"`
		Attempts  int    `json:"attempts"`
		LastError string `json:"lastError"`
	} `json:"delivery"`
}

// CreatedOrder is the body returned by POST /orders.
type CreatedOrder struct {
	OrderID             string `json:"orderId"`
	PaymentReference    string `json:"paymentReference"`
	PaymentPresentation string `json:"paymentPresentation"`
	Amount              int64  `json:"amount"`
	Status              string `json:"status"`
}

// ListPacks returns the catalog.
func (c *Client) ListPacks(ctx context.Context) ([]Pack, error) {
	var resp struct {
		Packs []Pack `json:"packs"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/packs", nil, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Packs, nil
}

// GetPack returns a single pack.
func (c *Client) GetPack(ctx context.Context, id int64) (*Pack, error) {
	var resp struct {
		Pack Pack `json:"pack"`
	}
	path := "/packs/" + strconv.FormatInt(id, 10)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp.Pack, nil
}

// CreateOrder places an order awaiting payment.
func (c *Client) CreateOrder(ctx context.Context, packID int64, name, email string) (*CreatedOrder, error) {
	body := map[string]any{
		"packId":        packID,
		"customerName":  name,
		"customerEmail": email,
	}
	var out CreatedOrder
	if err := c.doRequest(ctx, http.MethodPost, "/orders", nil, body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder returns an order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var resp struct {
		Order Order `json:"order"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

// ListOrders lists orders through the admin surface.
func (c *Client) ListOrders(ctx context.Context, status string, limit int) ([]Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Orders []Order `json:"orders"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/admin/orders", q, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// Redeliver re-queues a failed delivery.
func (c *Client) Redeliver(ctx context.Context, id string) (*Order, error) {
	var resp struct {
		Order Order `json:"order"`
	}
	path := "/admin/orders/" + url.PathEscape(id) + "/redeliver"
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}
