package mcp

import (
	"context"
	"fmt"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/clicker/pkg/types"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// RegisterTools registers all clicker tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(gomcp.NewTool("clicker_status",
		gomcp.WithDescription("Get the clicker status: wallet, session readiness, nonce, gas, click counts, unlocked auto-click tiers, recent clicks and confirmation latency."),
	), statusHandler(client))

	s.AddTool(gomcp.NewTool("clicker_health",
		gomcp.WithDescription("Quick health check for the clicker service. Checks RPC connectivity."),
	), healthHandler(client))

	s.AddTool(gomcp.NewTool("clicker_click",
		gomcp.WithDescription("Submit one manual click transaction. This is a MUTATING operation that spends gas."),
	), clickHandler(client))

	s.AddTool(gomcp.NewTool("clicker_history",
		gomcp.WithDescription("List past clicks from the click log, newest first (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	), historyHandler(client))

	s.AddTool(gomcp.NewTool("clicker_click_detail",
		gomcp.WithDescription("Get one click from the click log by ID."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Click ID"),
		),
	), clickDetailHandler(client))

	s.AddTool(gomcp.NewTool("clicker_stats",
		gomcp.WithDescription("Aggregate click log statistics: totals by state and source, average confirmation latency."),
	), statsHandler(client))

	s.AddTool(gomcp.NewTool("clicker_disconnect",
		gomcp.WithDescription("Disconnect the wallet: stop auto-clicks, drop the stored session and reset local counters. This is a MUTATING operation."),
	), disconnectHandler(client))
}

func statusHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var st types.Status
		if err := client.Get(ctx, "/v1/status", &st); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Clicker unreachable: %v\n\nIs the service running? Try: make run", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(&st)), nil
	}
}

func healthHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var ready readyResponse
		if err := client.Get(ctx, "/ready", &ready); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Clicker unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(&ready)), nil
	}
}

func clickHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var resp types.ClickResponse
		if err := client.Post(ctx, "/v1/click", nil, &resp); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Click failed: %v", err)), nil
		}
		if !resp.Success {
			return gomcp.NewToolResultError(joinLines(
				section("Click Failed"),
				kv("Error", resp.Error),
				kv("Nonce", resp.Record.Nonce),
			)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Click Submitted"),
			kv("ID", resp.Record.ID),
			kv("Nonce", resp.Record.Nonce),
			kv("TX Hash", resp.Record.TxHash),
			kv("State", resp.Record.State),
		)), nil
	}
}

func historyHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultHistoryLimit)
		if limit <= 0 || limit > maxHistoryLimit {
			limit = defaultHistoryLimit
		}
		offset := req.GetInt("offset", 0)
		if offset < 0 {
			offset = 0
		}

		var page types.PaginatedClicks
		if err := client.Get(ctx, fmt.Sprintf("/v1/clicks?limit=%d&offset=%d", limit, offset), &page); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(&page)), nil
	}
}

func clickDetailHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil || strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
			return gomcp.NewToolResultError("id is required"), nil
		}

		var rec types.ClickRecord
		if err := client.Get(ctx, "/v1/clicks/"+id, &rec); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Click detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatClick(&rec)), nil
	}
}

func statsHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var stats types.ClickStats
		if err := client.Get(ctx, "/v1/stats", &stats); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stats failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Click Stats"),
			kv("Total", formatNumber(stats.Total)),
			kv("Confirmed", formatNumber(stats.Confirmed)),
			kv("Failed", formatNumber(stats.Failed)),
			kv("Pending", formatNumber(stats.Pending)),
			kv("Manual", formatNumber(stats.Manual)),
			kv("Auto", formatNumber(stats.Auto)),
			kv("Avg Latency", formatMs(stats.AvgLatencyMs)),
		)), nil
	}
}

func disconnectHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if err := client.Post(ctx, "/v1/disconnect", nil, nil); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Disconnect failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Wallet Disconnected"),
			"Auto-clicks stopped and the stored session was cleared. Import a new session to continue.",
		)), nil
	}
}

// readyResponse mirrors the /ready body.
type readyResponse struct {
	Ready  bool `json:"ready"`
	Checks []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error"`
	} `json:"checks"`
}

// Response formatting functions

func formatStatus(st *types.Status) string {
	ready := "NOT READY"
	if st.Ready {
		ready = "READY"
	}

	lines := joinLines(
		section("Clicker Status: "+ready),
		kv("Network", fmt.Sprintf("%s (chain %d)", st.Network, st.ChainID)),
		kv("Wallet", st.Address),
		kv("Session", yesNo(st.Readiness.SessionKey)),
		kv("Gas", yesNo(st.Readiness.Gas)),
		kv("Nonce", yesNo(st.Readiness.Nonce)),
		kv("In Flight", st.InFlight),
	)

	lines += "\n\n" + joinLines(
		section("Clicks"),
		kv("On Chain", formatNumber(st.Clicks.OnChain)),
		kv("Pending", formatNumber(st.Clicks.Offset)),
		kv("Effective", formatNumber(st.Clicks.Effective)),
	)
	if st.TotalClicks != nil {
		lines += "\n" + kv("All Players", formatNumber(*st.TotalClicks))
	}

	if st.Nonce != nil {
		lines += "\n\n" + joinLines(
			section("Nonce"),
			kv("Base", st.Nonce.Base),
			kv("Offset", st.Nonce.Offset),
			kv("Next", st.Nonce.Effective),
		)
	}

	if st.Gas != nil {
		lines += "\n\n" + joinLines(
			section("Gas"),
			kv("Gas Limit", formatNumber(st.Gas.GasLimit)),
			kv("Max Fee", formatGwei(st.Gas.MaxFeePerGas)),
			kv("Priority Fee", formatGwei(st.Gas.MaxPriorityFeePerGas)),
			kv("Fetched", formatTimeMs(st.Gas.FetchedAtMs)),
		)
	} else if st.GasError != "" {
		lines += "\n\n" + joinLines(section("Gas"), kv("Error", st.GasError))
	}

	var tiers []string
	for _, t := range st.Tiers {
		mark := " "
		if t.Unlocked {
			mark = "x"
		}
		tiers = append(tiers, fmt.Sprintf("  [%s] %-10s %s clicks, every %s", mark, t.Name, formatNumber(t.Threshold), formatMs(float64(t.IntervalMs))))
	}
	if len(tiers) > 0 {
		lines += "\n\n" + section("Auto-Click Tiers") + "\n" + strings.Join(tiers, "\n")
	}

	if st.Latency != nil && st.Latency.Count > 0 {
		lines += "\n\n" + joinLines(
			section("Confirmation Latency"),
			kv("Count", formatNumber(st.Latency.Count)),
			kv("Min", formatMs(st.Latency.Min)),
			kv("P50", formatMs(st.Latency.P50)),
			kv("P95", formatMs(st.Latency.P95)),
			kv("P99", formatMs(st.Latency.P99)),
			kv("Max", formatMs(st.Latency.Max)),
		)
	}

	if len(st.Records) > 0 {
		lines += "\n\n" + section("Recent Clicks")
		for _, r := range st.Records {
			lines += "\n" + formatRecordLine(&r)
		}
	}

	return lines
}

func formatHealth(r *readyResponse) string {
	state := "READY"
	if !r.Ready {
		state = "NOT READY"
	}

	lines := section("Clicker Health: " + state)
	for _, check := range r.Checks {
		line := fmt.Sprintf("  %-15s %s (%dms)", check.Name, check.Status, check.LatencyMs)
		if check.Error != "" {
			line += " - " + check.Error
		}
		lines += "\n" + line
	}
	return lines
}

func formatHistory(page *types.PaginatedClicks) string {
	lines := joinLines(
		section("Click History"),
		kv("Total Clicks", formatNumber(page.Total)),
		"",
	)

	if len(page.Clicks) == 0 {
		return lines + "\nNo clicks found."
	}

	for _, c := range page.Clicks {
		lines += "\n" + formatRecordLine(&c)
	}
	if shown := page.Offset + len(page.Clicks); shown < page.Total {
		lines += fmt.Sprintf("\n\n... %d more (use offset=%d)", page.Total-shown, shown)
	}
	return lines
}

func formatRecordLine(r *types.ClickRecord) string {
	line := fmt.Sprintf("  %s  nonce=%d  %-10s %-6s", formatTimeMs(r.ClickedAtMs), r.Nonce, r.State, r.Source)
	if r.TxHash != "" {
		line += "  " + shortHash(r.TxHash)
	}
	if r.LatencyMs != nil {
		line += "  " + formatMs(float64(*r.LatencyMs))
	}
	if r.ErrorMessage != "" {
		line += "  " + r.ErrorMessage
	}
	return line
}

func formatClick(r *types.ClickRecord) string {
	lines := joinLines(
		section("Click: "+r.ID),
		kv("Wallet", r.Address),
		kv("Nonce", r.Nonce),
		kv("State", r.State),
		kv("Source", r.Source),
		kv("Clicked", formatTimeMs(r.ClickedAtMs)),
	)
	if r.TxHash != "" {
		lines += "\n" + kv("TX Hash", r.TxHash)
	}
	if r.FinalizedAtMs != nil {
		lines += "\n" + kv("Finalized", formatTimeMs(*r.FinalizedAtMs))
	}
	if r.LatencyMs != nil {
		lines += "\n" + kv("Latency", formatMs(float64(*r.LatencyMs)))
	}
	if r.ErrorMessage != "" {
		lines += "\n" + kv("Error", r.ErrorMessage)
	}
	return lines
}
