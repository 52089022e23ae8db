package sheets

import (
	"fmt"
	"strconv"
	"strings"

	"fintrack/internal/core"
)

// Base sheet names per record kind. Adapters prefix them with the year of
// the record, e.g. "2025 Expenses".
var SheetNames = map[core.RecordKind]string{
	core.KindExpense:  "Expenses",
	core.KindCardBill: "Card Bills",
	core.KindIncome:   "Incomes",
}

var headers = map[core.RecordKind][]any{
	core.KindExpense:  {"Date", "Description", "Amount", "Category", "Card", "Notes", "User", "ID"},
	core.KindCardBill: {"Due date", "Closing date", "Card", "Description", "Total", "Allocated", "Unallocated", "Divisions", "User", "ID"},
	core.KindIncome:   {"Date", "Description", "Amount", "Source", "User", "ID"},
}

// Header returns the header row for kind.
func Header(kind core.RecordKind) []any {
	return append([]any(nil), headers[kind]...)
}

// SheetName returns the year-prefixed sheet for kind.
func SheetName(kind core.RecordKind, year int) string {
	return YearPrefixedName(SheetNames[kind], year)
}

// YearPrefixedName returns "<year> <base>" unless base already starts with
// a 4-digit year.
func YearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 && base[4] == ' ' {
		if y, err := strconv.Atoi(base[:4]); err == nil && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func amount(m core.Money) float64 {
	return m.Decimal().InexactFloat64()
}

func ExpenseRow(e core.Expense) []any {
	return []any{
		e.Date.String(),
		e.Description,
		amount(e.Amount),
		string(e.Category),
		string(e.Card),
		e.Notes,
		e.UserID,
		e.ID,
	}
}

func CardBillRow(b core.CardBill) []any {
	return []any{
		b.DueDate.String(),
		b.ClosingDate.String(),
		string(b.Card),
		b.Description,
		amount(b.Total),
		amount(b.Allocated()),
		amount(b.Unallocated()),
		formatDivisions(b.Divisions),
		b.UserID,
		b.ID,
	}
}

func IncomeRow(in core.Income) []any {
	return []any{
		in.Date.String(),
		in.Description,
		amount(in.Amount),
		in.Source,
		in.UserID,
		in.ID,
	}
}

// formatDivisions renders divisions as "Ana=300.00; Bruno=150.00".
func formatDivisions(divs []core.PersonDivision) string {
	parts := make([]string, 0, len(divs))
	for _, d := range divs {
		parts = append(parts, d.Person+"="+d.Amount.Decimal().StringFixed(2))
	}
	return strings.Join(parts, "; ")
}
