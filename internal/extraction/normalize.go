package extraction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// Normalize maps a schema-validated result into a typed record owned by
// userID. locale is the caller's BCP 47 hint and decides how amounts such
// as "1.500" are read; without it they are read as decimals and flagged.
// It never drops unmatched labels: they become Other and the original
// text is kept in Warnings.
func Normalize(raw RawResult, userID, locale string) (*Record, error) {
	n := &normalizer{mark: core.DecimalMarkFor(locale)}
	rec := &Record{
		UserID:     userID,
		Kind:       core.RecordKind(raw.DocumentType),
		Currency:   strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Confidence: raw.Confidence,
	}

	var err error
	switch rec.Kind {
	case core.KindExpense:
		rec.Expense, err = n.expense(raw, userID)
	case core.KindCardBill:
		rec.CardBill, err = n.cardBill(raw, userID)
		if err == nil {
			rec.Imbalance = reconcile(rec.CardBill)
		}
	default:
		err = &NormalizationError{Field: "document_type", Value: raw.DocumentType, Err: fmt.Errorf("unknown document type")}
	}
	if err != nil {
		return nil, err
	}
	rec.Warnings = n.warnings
	return rec, nil
}

type normalizer struct {
	mark     core.DecimalMark
	warnings []string
}

func (n *normalizer) warn(format string, args ...any) {
	n.warnings = append(n.warnings, fmt.Sprintf(format, args...))
}

func (n *normalizer) expense(raw RawResult, userID string) (*core.Expense, error) {
	amount, err := n.amount("total", raw.Total)
	if err != nil {
		return nil, err
	}
	if amount.Cents == 0 {
		n.warn("total is zero")
	}
	date, err := parseRawDate("date", raw.Date)
	if err != nil {
		return nil, err
	}
	if len(raw.Divisions) > 0 {
		n.warn("divisions ignored for expense documents")
	}

	e := &core.Expense{
		UserID:      userID,
		Date:        date,
		Description: n.description(raw),
		Amount:      amount,
		Category:    n.category(raw.Category),
	}
	if strings.TrimSpace(raw.Card) != "" {
		e.Card = n.card(raw.Card)
	}
	return e, nil
}

func (n *normalizer) cardBill(raw RawResult, userID string) (*core.CardBill, error) {
	total, err := n.amount("total", raw.Total)
	if err != nil {
		return nil, err
	}
	due, err := parseRawDate("due_date", raw.DueDate)
	if err != nil {
		return nil, err
	}
	var closing core.Date
	if strings.TrimSpace(raw.ClosingDate) != "" {
		if closing, err = parseRawDate("closing_date", raw.ClosingDate); err != nil {
			return nil, err
		}
	}

	card := core.CardOther
	if strings.TrimSpace(raw.Card) == "" {
		n.warn("card missing, using %s", core.CardOther)
	} else {
		card = n.card(raw.Card)
	}

	b := &core.CardBill{
		UserID:      userID,
		Card:        card,
		Description: n.optionalDescription(raw),
		DueDate:     due,
		ClosingDate: closing,
		Total:       total,
	}

	if len(raw.Divisions) > core.MaxDivisions {
		return nil, &NormalizationError{Field: "divisions", Value: fmt.Sprint(len(raw.Divisions)), Err: core.ErrTooManyDivisions}
	}
	seen := make(map[string]bool, len(raw.Divisions))
	for i, d := range raw.Divisions {
		person := strings.Join(strings.Fields(d.Person), " ")
		if person == "" {
			return nil, &NormalizationError{Field: fmt.Sprintf("divisions[%d].person", i), Value: d.Person, Err: core.ErrEmptyPerson}
		}
		amount, err := n.amount(fmt.Sprintf("divisions[%d].amount", i), d.Amount)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(person)
		if seen[key] {
			n.warn("person %q appears more than once", person)
		}
		seen[key] = true
		b.Divisions = append(b.Divisions, core.PersonDivision{Person: person, Amount: amount})
	}
	return b, nil
}

// reconcile compares the division sum with the total. It never adjusts
// amounts; resolving an imbalance is left to the caller.
func reconcile(b *core.CardBill) *Imbalance {
	if len(b.Divisions) == 0 {
		return nil
	}
	allocated := decimal.Zero
	for _, d := range b.Divisions {
		allocated = allocated.Add(d.Amount.Decimal())
	}
	total := b.Total.Decimal()
	if allocated.Equal(total) {
		return nil
	}
	diff, _ := core.FromDecimal(allocated.Sub(total).Abs())
	alloc, _ := core.FromDecimal(allocated)
	return &Imbalance{
		Total:      b.Total,
		Allocated:  alloc,
		Difference: diff,
		Over:       allocated.GreaterThan(total),
	}
}

func (n *normalizer) description(raw RawResult) string {
	if d := n.optionalDescription(raw); d != "" {
		return d
	}
	n.warn("description missing")
	return ""
}

func (n *normalizer) optionalDescription(raw RawResult) string {
	desc := strings.Join(strings.Fields(raw.Description), " ")
	if desc == "" {
		desc = strings.Join(strings.Fields(raw.Merchant), " ")
	}
	if utf8.RuneCountInString(desc) > core.MaxDescriptionLen {
		n.warn("description truncated")
		desc = truncateRunes(desc, core.MaxDescriptionLen)
	}
	return desc
}

func (n *normalizer) category(label string) core.Category {
	c, ok := core.CanonicalizeCategory(label)
	if !ok && strings.TrimSpace(label) != "" {
		n.warn("category %q mapped to %s", label, c)
	}
	return c
}

func (n *normalizer) card(label string) core.Card {
	c, ok := core.CanonicalizeCard(label)
	if !ok {
		n.warn("card %q mapped to %s", label, c)
	}
	return c
}

// amount parses a remote amount. JSON numbers always use a dot; strings
// follow the locale's decimal mark.
func (n *normalizer) amount(field string, a RawAmount) (core.Money, error) {
	var (
		m         core.Money
		ambiguous bool
		err       error
	)
	if a.IsNumber {
		var d decimal.Decimal
		if d, err = decimal.NewFromString(a.Value); err != nil {
			err = core.ErrInvalidAmount
		} else {
			m, err = core.FromDecimal(d)
		}
	} else {
		m, ambiguous, err = core.ParseAmountMark(a.Value, n.mark)
	}
	if err != nil {
		return core.Money{}, &NormalizationError{Field: field, Value: a.Value, Err: err}
	}
	if ambiguous {
		n.warn("%s %q is ambiguous without a locale, read as %s", field, a.Value, m)
	}
	return m, nil
}

func parseRawDate(field, s string) (core.Date, error) {
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, &NormalizationError{Field: field, Value: s, Err: err}
	}
	return d, nil
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
