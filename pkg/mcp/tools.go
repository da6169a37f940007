package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/budgetly/budgetly/pkg/models"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

func object(required []string, props map[string]Property) Schema {
	if props == nil {
		props = map[string]Property{}
	}
	return Schema{Type: "object", Properties: props, Required: required}
}

var allTools = []Tool{
	{
		Name:        "budgetly_budgets",
		Description: "List every budget with its total and currently releasable balance",
		InputSchema: object(nil, nil),
	},
	{
		Name:        "budgetly_budget",
		Description: "Show one budget: owner, schedule, per-token balances and what is releasable now",
		InputSchema: object([]string{"name"}, map[string]Property{
			"name": {Type: "string", Description: "Budget name"},
		}),
	},
	{
		Name:        "budgetly_token",
		Description: "Report whether a token is whitelisted",
		InputSchema: object([]string{"token"}, map[string]Property{
			"token": {Type: "string", Description: "Token identifier"},
		}),
	},
	{
		Name:        "budgetly_events",
		Description: "Query the ledger event log",
		InputSchema: object(nil, map[string]Property{
			"budget": {Type: "string", Description: "Filter by budget name"},
			"kind":   {Type: "string", Description: "Filter by event kind (e.g. budget_withdrawn)"},
			"since":  {Type: "string", Description: "Only events at or after this RFC 3339 time"},
			"limit":  {Type: "integer", Description: "Maximum events to return (default 50)"},
		}),
	},
}

var toolHandlers = map[string]toolHandler{
	"budgetly_budgets": handleBudgets,
	"budgetly_budget":  handleBudget,
	"budgetly_token":   handleToken,
	"budgetly_events":  handleEvents,
}

func handleBudgets(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	names, err := s.ledger.GetBudgets(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("list budgets: %v", err))
	}
	rows := make([]budgetRow, 0, len(names))
	for _, name := range names {
		total, err := s.ledger.TotalBalance(ctx, name)
		if err != nil {
			return errorResult(fmt.Sprintf("total balance %s: %v", name, err))
		}
		avail, err := s.ledger.GetAvailableBalanceToRelease(ctx, name)
		if err != nil {
			return errorResult(fmt.Sprintf("available balance %s: %v", name, err))
		}
		rows = append(rows, budgetRow{Name: name, Total: total, Available: avail})
	}
	return textResult(formatBudgets(rows))
}

func handleBudget(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult {
	var params struct {
		Name string `json:"name"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return errorResult("invalid arguments: " + err.Error())
		}
	}
	if params.Name == "" {
		return errorResult("name is required")
	}

	d, err := s.ledger.GetBudgetDetails(ctx, params.Name)
	if err != nil {
		return errorResult(fmt.Sprintf("budget details: %v", err))
	}
	if d.Owner == "" {
		return textResult(fmt.Sprintf("Budget %q not found.", params.Name))
	}
	bd, err := s.ledger.Breakdown(ctx, params.Name)
	if err != nil {
		return errorResult(fmt.Sprintf("breakdown: %v", err))
	}
	return textResult(formatBudget(d, bd))
}

func handleToken(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult {
	var params struct {
		Token string `json:"token"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return errorResult("invalid arguments: " + err.Error())
		}
	}
	if params.Token == "" {
		return errorResult("token is required")
	}

	ok, err := s.ledger.IsAllowed(ctx, params.Token)
	if err != nil {
		return errorResult(fmt.Sprintf("token status: %v", err))
	}
	if ok {
		return textResult(fmt.Sprintf("Token %s is whitelisted.", params.Token))
	}
	return textResult(fmt.Sprintf("Token %s is not whitelisted.", params.Token))
}

func handleEvents(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult {
	if s.events == nil {
		return textResult("Event log is not enabled.")
	}

	var params struct {
		Budget string `json:"budget"`
		Kind   string `json:"kind"`
		Since  string `json:"since"`
		Limit  int    `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return errorResult("invalid arguments: " + err.Error())
		}
	}

	opts := models.EventQueryOpts{
		Budget: params.Budget,
		Kind:   models.EventKind(params.Kind),
		Limit:  params.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if params.Since != "" {
		since, err := time.Parse(time.RFC3339, params.Since)
		if err != nil {
			return errorResult("since must be RFC 3339")
		}
		opts.Since = since
	}

	evs, err := s.events.Query(ctx, opts)
	if err != nil {
		return errorResult(fmt.Sprintf("query events: %v", err))
	}
	return textResult(formatEvents(evs))
}
