// Package memory is an in-process RecordExporter that keeps rows per
// sheet. It backs tests and local runs without a spreadsheet.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/sheets"
)

var _ sheets.RecordExporter = (*Store)(nil)

type Store struct {
	mu     sync.Mutex
	sheets map[string][][]any
	fail   error
}

func New() *Store {
	return &Store{sheets: make(map[string][][]any)}
}

// FailWith makes every following append return err until called with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Store) AppendExpense(_ context.Context, e core.Expense) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	return s.append(sheets.SheetName(core.KindExpense, e.Date.Year), sheets.ExpenseRow(e))
}

func (s *Store) AppendCardBill(_ context.Context, b core.CardBill) (string, error) {
	if err := b.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	return s.append(sheets.SheetName(core.KindCardBill, b.DueDate.Year), sheets.CardBillRow(b))
}

func (s *Store) AppendIncome(_ context.Context, in core.Income) (string, error) {
	if err := in.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	return s.append(sheets.SheetName(core.KindIncome, in.Date.Year), sheets.IncomeRow(in))
}

func (s *Store) append(sheet string, row []any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	if sheet == "" {
		return "", errors.New("unknown sheet")
	}
	s.sheets[sheet] = append(s.sheets[sheet], row)
	n := len(s.sheets[sheet])
	return fmt.Sprintf("mem:%s!%d", sheet, n), nil
}

// Rows returns a copy of the rows appended to sheet.
func (s *Store) Rows(sheet string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, len(s.sheets[sheet]))
	copy(out, s.sheets[sheet])
	return out
}
