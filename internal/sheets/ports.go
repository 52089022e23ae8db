// Package sheets defines the spreadsheet export port and the row layout
// shared by its adapters.
package sheets

import (
	"context"

	"fintrack/internal/core"
)

// RecordExporter appends exported records to a spreadsheet. Each call
// returns a reference to the written row range.
type RecordExporter interface {
	AppendExpense(ctx context.Context, e core.Expense) (rowRef string, err error)
	AppendCardBill(ctx context.Context, b core.CardBill) (rowRef string, err error)
	AppendIncome(ctx context.Context, in core.Income) (rowRef string, err error)
}
