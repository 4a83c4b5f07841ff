package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleListPacks lists the catalog.
func (h *Handlers) HandleListPacks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	packs, err := h.client.ListPacks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list packs: %v", err)), nil
	}
	return mcp.NewToolResultText(formatPackList(packs)), nil
}

// HandleGetPack returns one pack.
func (h *Handlers) HandleGetPack(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("pack_id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("pack_id must be a positive number"), nil
	}

	pack, err := h.client.GetPack(ctx, int64(id))
	if err != nil {
		if isStatus(err, 404) {
			return mcp.NewToolResultError(fmt.Sprintf("Pack %d does not exist. Use list_packs to see the catalog.", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get pack: %v", err)), nil
	}
	return mcp.NewToolResultText(formatPack(pack)), nil
}

// HandleCreateOrder places an order and returns the payment instruction.
func (h *Handlers) HandleCreateOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	packID := req.GetInt("pack_id", 0)
	name := strings.TrimSpace(req.GetString("customer_name", ""))
	email := strings.TrimSpace(req.GetString("customer_email", ""))

	var missing []string
	if packID <= 0 {
		missing = append(missing, "pack_id")
	}
	if name == "" {
		missing = append(missing, "customer_name")
	}
	if email == "" {
		missing = append(missing, "customer_email")
	}
	if len(missing) > 0 {
		return mcp.NewToolResultError("Missing required fields: " + strings.Join(missing, ", ")), nil
	}

	created, err := h.client.CreateOrder(ctx, int64(packID), name, email)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create order: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Order created.\n")
	fmt.Fprintf(&sb, "  Order ID: %s\n", created.OrderID)
	fmt.Fprintf(&sb, "  Amount: %s\n", formatAmount(created.Amount))
	fmt.Fprintf(&sb, "  Status: %s\n", created.Status)
	fmt.Fprintf(&sb, "  Payment reference: %s\n", created.PaymentReference)
	fmt.Fprintf(&sb, "\nPay with:\n%s\n", created.PaymentPresentation)
	sb.WriteString("\nUse get_order to follow the order until it is delivered.")
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetOrder returns an order's current state.
func (h *Handlers) HandleGetOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("order_id", ""))
	if id == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	order, err := h.client.GetOrder(ctx, id)
	if err != nil {
		if isStatus(err, 404) {
			return mcp.NewToolResultError(fmt.Sprintf("Order %s not found.", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get order: %v", err)), nil
	}
	return mcp.NewToolResultText(formatOrder(order)), nil
}

// HandleListOrders lists orders through the admin surface.
func (h *Handlers) HandleListOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !h.client.HasAdmin() {
		return mcp.NewToolResultError("Admin tools are not configured"), nil
	}
	status := req.GetString("status", "")
	limit := req.GetInt("limit", 20)

	list, err := h.client.ListOrders(ctx, status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list orders: %v", err)), nil
	}
	return mcp.NewToolResultText(formatOrderList(list)), nil
}

// HandleRedeliverOrder retries a failed delivery.
func (h *Handlers) HandleRedeliverOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !h.client.HasAdmin() {
		return mcp.NewToolResultError("Admin tools are not configured"), nil
	}
	id := strings.TrimSpace(req.GetString("order_id", ""))
	if id == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	order, err := h.client.Redeliver(ctx, id)
	if err != nil {
		if isStatus(err, 409) {
			return mcp.NewToolResultError(fmt.Sprintf("Order %s has no failed delivery to retry.", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to redeliver: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Delivery re-queued for %s (status %s).", order.ID, order.Status)), nil
}

func isStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// formatAmount renders minor units as "R$ 12,90".
func formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}

func formatPackList(packs []Pack) string {
	if len(packs) == 0 {
		return "No packs available."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d pack(s):\n\n", len(packs))
	for i, p := range packs {
		fmt.Fprintf(&sb, "%d. %s (id %d) - %s\n", i+1, p.Name, p.ID, formatAmount(p.Price))
		if p.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", p.Description)
		}
	}
	return sb.String()
}

func formatPack(p *Pack) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (id %d)\n", p.Name, p.ID)
	fmt.Fprintf(&sb, "  Price: %s\n", formatAmount(p.Price))
	if p.Slug != "" {
		fmt.Fprintf(&sb, "  Slug: %s\n", p.Slug)
	}
	if p.Description != "" {
		fmt.Fprintf(&sb, "  %s\n", p.Description)
	}
	return sb.String()
}

func formatOrder(o *Order) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order %s\n", o.ID)
	fmt.Fprintf(&sb, "  Pack: %s (id %d)\n", o.PackName, o.PackID)
	fmt.Fprintf(&sb, "  Amount: %s\n", formatAmount(o.Amount))
	fmt.Fprintf(&sb, "  Status: %s\n", o.Status)
	fmt.Fprintf(&sb, "  Created: %s\n", o.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	if o.PaidAt != nil {
		fmt.Fprintf(&sb, "  Paid: %s\n", o.PaidAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	if o.DeliveredAt != nil {
		fmt.Fprintf(&sb, "  Delivered: %s\n", o.DeliveredAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	if o.Delivery != nil {
		fmt.Fprintf(&sb, "  Delivery: %s after %d attempt(s)\n", o.Delivery.State, o.Delivery.Attempts)
		if o.Delivery.LastError != "" {
			fmt.Fprintf(&sb, "  Last error: %s\n", o.Delivery.LastError)
		}
	}
	if o.Status == "pending_payment" && o.PaymentPresentation != "" {
		fmt.Fprintf(&sb, "\nAwaiting payment:\n%s\n", o.PaymentPresentation)
	}
	return sb.String()
}

func formatOrderList(list []Order) string {
	if len(list) == 0 {
		return "No orders found."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d order(s):\n\n", len(list))
	for i, o := range list {
		fmt.Fprintf(&sb, "%d. %s  %s  %s  %s <%s>\n",
			i+1, o.ID, o.Status, formatAmount(o.Amount), o.CustomerName, o.CustomerEmail)
		if o.Delivery != nil && o.Delivery.State == "failed" {
			fmt.Fprintf(&sb, "   delivery failed: %s\n", o.Delivery.LastError)
		}
	}
	return sb.String()
}
