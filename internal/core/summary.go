package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   Category `json:"name"`
	Amount Money    `json:"amount"`
}

// MonthOverview is a compact per-user summary for a specific year+month.
type MonthOverview struct {
	UserID       string           `json:"user_id"`
	Year         int              `json:"year"`
	Month        int              `json:"month"` // 1-12
	ExpenseTotal Money            `json:"expense_total"`
	IncomeTotal  Money            `json:"income_total"`
	CardBillsDue Money            `json:"card_bills_due"`
	ByCategory   []CategoryAmount `json:"by_category"`
}

// Balance is income minus expenses, in cents. It may be negative.
func (o MonthOverview) Balance() int64 {
	return o.IncomeTotal.Cents - o.ExpenseTotal.Cents
}

// Period selects records by calendar month. A zero Month covers the whole
// year and a zero Year covers everything.
type Period struct {
	Year  int
	Month int
}

// Bounds returns the half-open date range [from, to) covered by p. ok is
// false when p is unbounded.
func (p Period) Bounds() (from, to Date, ok bool) {
	if p.Year == 0 {
		return Date{}, Date{}, false
	}
	if p.Month == 0 {
		return NewDate(p.Year, 1, 1), NewDate(p.Year+1, 1, 1), true
	}
	from = NewDate(p.Year, p.Month, 1)
	if p.Month == 12 {
		return from, NewDate(p.Year+1, 1, 1), true
	}
	return from, NewDate(p.Year, p.Month+1, 1), true
}

// Validate rejects months outside 1-12 and a month without a year.
func (p Period) Validate() error {
	if p.Month < 0 || p.Month > 12 {
		return ErrInvalidDate
	}
	if p.Month != 0 && p.Year == 0 {
		return ErrInvalidDate
	}
	if p.Year != 0 && (p.Year < 1900 || p.Year > 9999) {
		return ErrInvalidDate
	}
	return nil
}
