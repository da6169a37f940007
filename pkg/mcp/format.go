package mcp

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/budgetly/budgetly/pkg/amount"
	"github.com/budgetly/budgetly/pkg/models"
	"github.com/budgetly/budgetly/pkg/schedule"
)

type budgetRow struct {
	Name      string
	Total     *big.Int
	Available *big.Int
}

// formatBudgets formats the budget directory as a text table.
func formatBudgets(rows []budgetRow) string {
	if len(rows) == 0 {
		return "No budgets found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %24s %24s\n", "Budget", "Total", "Available")
	b.WriteString(strings.Repeat("-", 74) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-24s %24s %24s\n", r.Name, amount.Format(r.Total), amount.Format(r.Available))
	}
	return b.String()
}

// formatBudget formats one budget with its per-token breakdown.
func formatBudget(d models.BudgetDetails, bd schedule.Breakdown) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Budget: %s\n", d.Name)
	fmt.Fprintf(&b, "Owner: %s\n", d.Owner)
	fmt.Fprintf(&b, "Enabled: %t\n", d.Enabled)
	fmt.Fprintf(&b, "Release: %s every %s\n", amount.Format(d.ReleaseAmount), d.ReleaseCycle)
	fmt.Fprintf(&b, "Last release: %s\n", d.LastReleaseTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "Elapsed cycles: %d\n", bd.Elapsed)
	fmt.Fprintf(&b, "Available: %s\n\n", amount.Format(bd.Available))

	fmt.Fprintf(&b, "%-24s %24s %-16s\n", "Token", "Balance", "Policy")
	b.WriteString(strings.Repeat("-", 66) + "\n")
	for _, e := range bd.Entries {
		fmt.Fprintf(&b, "%-24s %24s %-16s\n", e.Token, amount.Format(e.Balance), e.Policy)
	}
	return b.String()
}

// formatEvents formats ledger events as a text table.
func formatEvents(evs []models.Event) string {
	if len(evs) == 0 {
		return "No events found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-28s %-16s %-16s %s\n", "Time", "Kind", "Budget", "Caller", "Detail")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, ev := range evs {
		fmt.Fprintf(&b, "%-20s %-28s %-16s %-16s %s\n",
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
			ev.Kind, ev.Budget, ev.Caller, eventDetail(ev))
	}
	return b.String()
}

func eventDetail(ev models.Event) string {
	switch {
	case ev.Allowed != nil:
		return fmt.Sprintf("%s allowed=%t", ev.Token, *ev.Allowed)
	case ev.Enabled != nil:
		return fmt.Sprintf("enabled=%t", *ev.Enabled)
	case ev.Field != "":
		return ev.Field + "=" + ev.Value
	case len(ev.Amounts) > 0:
		parts := make([]string, len(ev.Amounts))
		for i, ta := range ev.Amounts {
			parts[i] = ta.Token + ":" + amount.Format(ta.Amount)
		}
		detail := strings.Join(parts, " ")
		if ev.Beneficiary != "" {
			detail += " -> " + ev.Beneficiary
		}
		return detail
	}
	return ""
}
