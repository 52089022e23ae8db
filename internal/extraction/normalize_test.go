package extraction

import (
	"encoding/json"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
)

func mustNormalize(t *testing.T, body string) *Record {
	t.Helper()
	return mustNormalizeLocale(t, body, "")
}

func mustNormalizeLocale(t *testing.T, body, locale string) *Record {
	t.Helper()
	raw, err := ValidateResponse([]byte(body))
	require.NoError(t, err)
	rec, err := Normalize(raw, "user-1", locale)
	require.NoError(t, err)
	return rec
}

func TestNormalize_LocaleAmounts(t *testing.T) {
	tests := []struct {
		total string
		cents int64
	}{
		{`"1.234,56"`, 123456},
		{`"1,234.56"`, 123456},
		{`"R$ 1.234,56"`, 123456},
		{`"€ 12,50"`, 1250},
		{`"1 234,56"`, 123456},
		{`"12.345"`, 1235},
		{`"1.234.567"`, 123456700},
		{`19.999`, 2000},
		{`42`, 4200},
	}

	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			rec := mustNormalize(t, `{"document_type":"expense","total":`+tt.total+`,"date":"2025-01-02","description":"x"}`)
			assert.Equal(t, tt.cents, rec.Expense.Amount.Cents)
		})
	}
}

func TestNormalize_GroupedAmountFollowsLocale(t *testing.T) {
	body := `{"document_type":"expense","total":"R$ 1.500","date":"2025-01-02","description":"Aluguel"}`

	t.Run("pt-BR reads a thousands separator", func(t *testing.T) {
		rec := mustNormalizeLocale(t, body, "pt-BR")
		assert.Equal(t, int64(150000), rec.Expense.Amount.Cents)
		assert.Empty(t, rec.Warnings)
	})

	t.Run("en-US reads a decimal point", func(t *testing.T) {
		rec := mustNormalizeLocale(t, body, "en-US")
		assert.Equal(t, int64(150), rec.Expense.Amount.Cents)
		assert.Empty(t, rec.Warnings)
	})

	t.Run("no locale warns", func(t *testing.T) {
		rec := mustNormalize(t, body)
		assert.Equal(t, int64(150), rec.Expense.Amount.Cents)
		require.Len(t, rec.Warnings, 1)
		assert.Contains(t, rec.Warnings[0], "ambiguous")
	})
}

func TestNormalize_RejectsUnboundedAmounts(t *testing.T) {
	tests := []struct {
		name  string
		total string
	}{
		{"huge exponent", `1e999999999`},
		{"tiny exponent", `1e-999999999`},
		{"trailing letters", `"1234abc"`},
		{"over the limit", `1e17`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ValidateResponse([]byte(`{"document_type":"expense","total":` + tt.total + `,"date":"2025-01-02"}`))
			require.NoError(t, err)
			_, err = Normalize(raw, "user-1", "")
			var nerr *NormalizationError
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, "total", nerr.Field)
		})
	}
}

func TestNormalize_TooManyDivisions(t *testing.T) {
	divs := make([]map[string]any, core.MaxDivisions+1)
	for i := range divs {
		divs[i] = map[string]any{"person": fmt.Sprintf("p%d", i), "amount": "1"}
	}
	body, err := json.Marshal(map[string]any{
		"document_type": "card_bill", "total": "1", "due_date": "2025-04-10", "divisions": divs,
	})
	require.NoError(t, err)
	raw, err := ValidateResponse(body)
	require.NoError(t, err)

	_, err = Normalize(raw, "user-1", "")
	require.ErrorIs(t, err, core.ErrTooManyDivisions)
}

func TestNormalize_UnknownLabelsFallBackToOther(t *testing.T) {
	rec := mustNormalize(t, `{
		"document_type":"expense","total":"10","date":"2025-01-02",
		"description":"Gadget","category":"Gizmos","card":"Discover"}`)

	assert.Equal(t, core.CategoryOther, rec.Expense.Category)
	assert.Equal(t, core.CardOther, rec.Expense.Card)
	assert.Contains(t, rec.Warnings, `category "Gizmos" mapped to Other`)
	assert.Contains(t, rec.Warnings, `card "Discover" mapped to Other`)
}

func TestNormalize_ExpenseDefaults(t *testing.T) {
	rec := mustNormalize(t, `{"document_type":"expense","total":0,"date":"2025-01-02","category":null,"card":null}`)

	assert.Equal(t, core.CategoryOther, rec.Expense.Category)
	assert.Empty(t, rec.Expense.Card)
	assert.Empty(t, rec.Expense.Description)
	assert.Contains(t, rec.Warnings, "total is zero")
	assert.Contains(t, rec.Warnings, "description missing")
}

func TestNormalize_CardBill(t *testing.T) {
	t.Run("balanced divisions carry no flag", func(t *testing.T) {
		rec := mustNormalize(t, `{"document_type":"card_bill","total":"100,00","due_date":"10/04/2025",
			"card":"Nubank Mastercard","divisions":[{"person":"Ana","amount":"60"},{"person":"Bia","amount":"40,00"}]}`)
		assert.Nil(t, rec.Imbalance)
		assert.Equal(t, core.NewDate(2025, 4, 10), rec.CardBill.DueDate)
	})

	t.Run("under allocation is flagged", func(t *testing.T) {
		rec := mustNormalize(t, `{"document_type":"card_bill","total":"100","due_date":"2025-04-10","card":"Elo",
			"divisions":[{"person":"Ana","amount":"60"}]}`)
		require.NotNil(t, rec.Imbalance)
		assert.False(t, rec.Imbalance.Over)
		assert.Equal(t, int64(4000), rec.Imbalance.Difference.Cents)
	})

	t.Run("no divisions means nothing to reconcile", func(t *testing.T) {
		rec := mustNormalize(t, `{"document_type":"card_bill","total":"100","due_date":"2025-04-10"}`)
		assert.Nil(t, rec.Imbalance)
		assert.Equal(t, core.CardOther, rec.CardBill.Card)
		assert.Contains(t, rec.Warnings, "card missing, using Other")
	})

	t.Run("duplicate person warns", func(t *testing.T) {
		rec := mustNormalize(t, `{"document_type":"card_bill","total":"10","due_date":"2025-04-10","card":"Visa",
			"divisions":[{"person":"Ana","amount":"5"},{"person":"ana","amount":"5"}]}`)
		assert.Len(t, rec.CardBill.Divisions, 2)
		assert.Contains(t, rec.Warnings, `person "ana" appears more than once`)
	})
}

func TestNormalize_LongDescriptionTruncated(t *testing.T) {
	long := make([]byte, 0, 300)
	for len(long) < 300 {
		long = append(long, "ção "...)
	}
	body, err := json.Marshal(map[string]any{
		"document_type": "expense", "total": "1", "date": "2025-01-02", "description": string(long),
	})
	require.NoError(t, err)

	rec := mustNormalize(t, string(body))
	assert.Equal(t, core.MaxDescriptionLen, utf8.RuneCountInString(rec.Expense.Description))
	assert.True(t, json.Valid([]byte(`"`+rec.Expense.Description+`"`)))
	assert.Contains(t, rec.Warnings, "description truncated")
}

func TestRecord_RawRoundTrip(t *testing.T) {
	bodies := []string{
		expenseJSON,
		cardBillJSON,
		`{"document_type":"expense","total":"3,50","date":"2025-06-01","description":"Café","category":"Gizmos"}`,
		`{"document_type":"card_bill","total":"99.90","due_date":"2025-06-10","card":"Amex","description":"Fatura junho",
			"divisions":[{"person":"Ana","amount":"49,95"},{"person":"Bia","amount":"49.95"}]}`,
	}

	for _, body := range bodies {
		first := mustNormalize(t, body)

		b, err := json.Marshal(first.Raw())
		require.NoError(t, err)
		raw, err := ValidateResponse(b)
		require.NoError(t, err, "rendered raw must pass the schema: %s", b)
		second, err := Normalize(raw, first.UserID, "")
		require.NoError(t, err)

		assert.Equal(t, first.Kind, second.Kind)
		assert.Equal(t, first.Expense, second.Expense)
		assert.Equal(t, first.CardBill, second.CardBill)
		assert.Equal(t, first.Imbalance, second.Imbalance)
		assert.Equal(t, first.Currency, second.Currency)
	}
}

func TestRawAmount_JSON(t *testing.T) {
	var a RawAmount
	require.NoError(t, json.Unmarshal([]byte(`12.50`), &a))
	assert.Equal(t, RawAmount{Value: "12.50", IsNumber: true}, a)

	require.NoError(t, json.Unmarshal([]byte(`"12,50"`), &a))
	assert.Equal(t, RawAmount{Value: "12,50"}, a)

	b, err := json.Marshal(RawAmount{Value: "7", IsNumber: true})
	require.NoError(t, err)
	assert.Equal(t, `7`, string(b))
}
