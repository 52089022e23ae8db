package extraction

import (
	"time"

	"fintrack/internal/core"
)

// Record is a normalized extraction result. Exactly one of Expense and
// CardBill is set, matching Kind. It is a draft: nothing has been persisted.
type Record struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Kind        core.RecordKind `json:"kind"`
	Expense     *core.Expense   `json:"expense,omitempty"`
	CardBill    *core.CardBill  `json:"card_bill,omitempty"`
	Imbalance   *Imbalance      `json:"imbalance,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	ExtractedAt time.Time       `json:"extracted_at"`
}

// Imbalance is attached to a card bill whose person divisions do not add
// up to its total. Difference is always non-negative; Over tells whether
// the divisions exceed the total.
type Imbalance struct {
	Total      core.Money `json:"total"`
	Allocated  core.Money `json:"allocated"`
	Difference core.Money `json:"difference"`
	Over       bool       `json:"over"`
}

// Imbalanced reports whether the record carries an imbalance flag.
func (r *Record) Imbalanced() bool {
	return r.Imbalance != nil
}

// Raw renders the record back into the remote result shape. The output
// always passes ValidateResponse and normalizes to an equal record.
func (r *Record) Raw() RawResult {
	raw := RawResult{
		DocumentType: string(r.Kind),
		Currency:     r.Currency,
		Confidence:   r.Confidence,
	}
	switch r.Kind {
	case core.KindExpense:
		if e := r.Expense; e != nil {
			raw.Total = RawAmount{Value: e.Amount.String()}
			raw.Date = e.Date.String()
			raw.Description = e.Description
			raw.Category = string(e.Category)
			raw.Card = string(e.Card)
		}
	case core.KindCardBill:
		if b := r.CardBill; b != nil {
			raw.Total = RawAmount{Value: b.Total.String()}
			raw.DueDate = b.DueDate.String()
			raw.ClosingDate = b.ClosingDate.String()
			raw.Description = b.Description
			raw.Card = string(b.Card)
			for _, d := range b.Divisions {
				raw.Divisions = append(raw.Divisions, RawDivision{
					Person: d.Person,
					Amount: RawAmount{Value: d.Amount.String()},
				})
			}
		}
	}
	return raw
}
