package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the packshop MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListPacks = mcp.NewTool("list_packs",
	mcp.WithDescription(
		"List the digital packs for sale, with id, name and price. "+
			"Use this before create_order to find the pack id."),
)

var ToolGetPack = mcp.NewTool("get_pack",
	mcp.WithDescription("Get the details of a single pack by id."),
	mcp.WithNumber("pack_id",
		mcp.Required(),
		mcp.Description("Numeric pack id from list_packs")),
)

var ToolCreateOrder = mcp.NewTool("create_order",
	mcp.WithDescription(
		"Place an order for a pack. Returns the order id and the payment instruction "+
			"the customer must complete. The order stays pending_payment until the "+
			"payment gateway confirms it."),
	mcp.WithNumber("pack_id",
		mcp.Required(),
		mcp.Description("Numeric pack id")),
	mcp.WithString("customer_name",
		mcp.Required(),
		mcp.Description("Buyer's full name")),
	mcp.WithString("customer_email",
		mcp.Required(),
		mcp.Description("Buyer's email; the pack is delivered here")),
)

var ToolGetOrder = mcp.NewTool("get_order",
	mcp.WithDescription(
		"Check an order's status: pending_payment, paid, delivered, failed or expired."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("Order id returned by create_order (e.g. 'ord_...')")),
)

var ToolListOrders = mcp.NewTool("list_orders",
	mcp.WithDescription(
		"Admin: list recent orders, newest first. Requires the server's admin secret."),
	mcp.WithString("status",
		mcp.Description("Only orders in this status"),
		mcp.Enum("pending_payment", "paid", "delivered", "failed", "expired")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of orders to return (default 20)")),
)

var ToolRedeliverOrder = mcp.NewTool("redeliver_order",
	mcp.WithDescription(
		"Admin: retry a delivered order whose content delivery failed. "+
			"Does not change the order status."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("Order id to redeliver")),
)
