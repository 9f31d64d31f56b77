// Package sheets lays out an owner's expenses as a spreadsheet and hands
// the grid to an exporter.
package sheets

import (
	"context"
	"time"

	"expensedash/internal/core"
)

// Grid is a block of cell values, row major, anchored at A1.
type Grid [][]any

// Exporter writes a grid to a spreadsheet, replacing what was there.
type Exporter interface {
	Export(ctx context.Context, grid Grid) error
}

var header = []any{"Date", "Description", "Category", "Amount"}

// BuildGrid renders records followed by the dashboard summary as of now.
// Amounts are numbers so the spreadsheet can compute with them.
func BuildGrid(owner core.User, records []core.Expense, now time.Time) Grid {
	summary := core.Summarize(records, now)

	title := "Expenses"
	if owner.Name != "" {
		title += " for " + owner.Name
	}
	grid := Grid{
		{title, "exported " + now.Format(time.RFC3339)},
		{},
		header,
	}
	for _, r := range records {
		grid = append(grid, []any{r.Date.String(), r.Description, r.CategoryLabel(), r.Amount.Float()})
	}

	grid = append(grid,
		[]any{},
		[]any{"Total", summary.Total.Float()},
		[]any{"This week", summary.WeekTotal.Float()},
		[]any{"This month", summary.MonthTotal.Float()},
		[]any{},
		[]any{"Category", "Amount", "Share %"},
	)
	for _, s := range summary.Shares() {
		grid = append(grid, []any{s.Name, s.Amount.Float(), roundPercent(s.Percent)})
	}
	return grid
}

func roundPercent(p float64) float64 {
	return float64(int64(p*100+0.5)) / 100
}
