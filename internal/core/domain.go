package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	Monthly RepetitionTypes = "monthly"
	Yearly  RepetitionTypes = "yearly"
	Weekly  RepetitionTypes = "weekly"
	Daily   RepetitionTypes = "daily"
)

// RecordKind identifies the shape of a persisted or extracted record.
type RecordKind string

const (
	KindExpense      RecordKind = "expense"
	KindCardBill     RecordKind = "card_bill"
	KindIncome       RecordKind = "income"
	KindSubscription RecordKind = "subscription"
)

const (
	// MaxDescriptionLen is the longest description, in characters.
	MaxDescriptionLen = 200
	// MaxDivisions bounds how many people a card bill is split between.
	MaxDivisions = 50
)

type (
	RepetitionTypes string

	Expense struct {
		ID          int64    `json:"id,omitempty"`
		UserID      string   `json:"user_id"`
		Date        Date     `json:"date"`
		Description string   `json:"description"`
		Amount      Money    `json:"amount"`
		Category    Category `json:"category"`
		Card        Card     `json:"card,omitempty"`
		Notes       string   `json:"notes,omitempty"`
	}

	// PersonDivision attributes part of a card bill to a named person.
	PersonDivision struct {
		Person string `json:"person"`
		Amount Money  `json:"amount"`
	}

	CardBill struct {
		ID          int64            `json:"id,omitempty"`
		UserID      string           `json:"user_id"`
		Card        Card             `json:"card"`
		Description string           `json:"description,omitempty"`
		DueDate     Date             `json:"due_date"`
		ClosingDate Date             `json:"closing_date,omitempty"`
		Total       Money            `json:"total"`
		Divisions   []PersonDivision `json:"divisions,omitempty"`
	}

	Income struct {
		ID          int64  `json:"id,omitempty"`
		UserID      string `json:"user_id"`
		Date        Date   `json:"date"`
		Description string `json:"description"`
		Amount      Money  `json:"amount"`
		Source      string `json:"source,omitempty"`
	}

	Subscription struct {
		ID            int64           `json:"id,omitempty"`
		UserID        string          `json:"user_id"`
		StartDate     Date            `json:"start_date"`
		EndDate       Date            `json:"end_date,omitempty"`
		Every         RepetitionTypes `json:"every"`
		Description   string          `json:"description"`
		Amount        Money           `json:"amount"`
		Category      Category        `json:"category"`
		Card          Card            `json:"card,omitempty"`
		LastExecution time.Time       `json:"last_execution,omitempty"`
	}
)

var (
	ErrEmptyUserID          = errors.New("empty user id")
	ErrEmptyDescription     = errors.New("empty description")
	ErrDescriptionTooLong   = fmt.Errorf("description too long (max %d characters)", MaxDescriptionLen)
	ErrEmptyPerson          = errors.New("empty person name in division")
	ErrDuplicatePerson      = errors.New("duplicate person in divisions")
	ErrDivisionsExceedTotal = errors.New("divisions exceed card bill total")
	ErrTooManyDivisions     = fmt.Errorf("too many divisions (max %d)", MaxDivisions)
	ErrInvalidRepetition    = errors.New("invalid repetition type")
	ErrEndBeforeStart       = errors.New("end date must be after start date")
)

func validateDescription(desc string) error {
	if len(strings.TrimSpace(desc)) == 0 {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return nil
}

func (e Expense) Validate() error {
	if err := validateUser(e.UserID); err != nil {
		return err
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := validateDescription(e.Description); err != nil {
		return err
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.Category.Validate(); err != nil {
		return err
	}
	if e.Card != "" {
		if err := e.Card.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Allocated returns the sum of all person divisions. The sum is exact;
// one too large for Money, which Validate rejects, saturates.
func (b CardBill) Allocated() Money {
	m, err := FromDecimal(b.allocated())
	if err != nil {
		return Money{Cents: math.MaxInt64}
	}
	return m
}

func (b CardBill) allocated() decimal.Decimal {
	sum := decimal.Zero
	for _, d := range b.Divisions {
		sum = sum.Add(d.Amount.Decimal())
	}
	return sum
}

// Unallocated returns the part of the total not attributed to anyone,
// or zero when the divisions cover or exceed the total.
func (b CardBill) Unallocated() Money {
	alloc := b.Allocated()
	if alloc.Cents >= b.Total.Cents {
		return Money{}
	}
	return Money{Cents: b.Total.Cents - alloc.Cents}
}

func (b CardBill) Validate() error {
	if err := validateUser(b.UserID); err != nil {
		return err
	}
	if err := b.Card.Validate(); err != nil {
		return err
	}
	if err := b.DueDate.Validate(); err != nil {
		return fmt.Errorf("due date: %w", err)
	}
	if !b.ClosingDate.IsEmpty() {
		if err := b.ClosingDate.Validate(); err != nil {
			return fmt.Errorf("closing date: %w", err)
		}
	}
	if utf8.RuneCountInString(b.Description) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if err := b.Total.Validate(); err != nil {
		return err
	}
	if len(b.Divisions) > MaxDivisions {
		return ErrTooManyDivisions
	}
	seen := make(map[string]struct{}, len(b.Divisions))
	for _, d := range b.Divisions {
		name := strings.ToLower(strings.TrimSpace(d.Person))
		if name == "" {
			return ErrEmptyPerson
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePerson, d.Person)
		}
		seen[name] = struct{}{}
		if d.Amount.Cents < 0 {
			return ErrNegativeAmount
		}
	}
	if b.allocated().GreaterThan(b.Total.Decimal()) {
		return ErrDivisionsExceedTotal
	}
	return nil
}

func (i Income) Validate() error {
	if err := validateUser(i.UserID); err != nil {
		return err
	}
	if err := i.Date.Validate(); err != nil {
		return err
	}
	if err := validateDescription(i.Description); err != nil {
		return err
	}
	return i.Amount.Validate()
}

func (s Subscription) Validate() error {
	if err := validateUser(s.UserID); err != nil {
		return err
	}
	if err := s.StartDate.Validate(); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	if !s.EndDate.IsEmpty() {
		if err := s.EndDate.Validate(); err != nil {
			return fmt.Errorf("invalid end date: %w", err)
		}
		if s.EndDate.Before(s.StartDate.Date) {
			return ErrEndBeforeStart
		}
	}

	switch s.Every {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return ErrInvalidRepetition
	}

	if err := validateDescription(s.Description); err != nil {
		return err
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if err := s.Category.Validate(); err != nil {
		return err
	}
	if s.Card != "" {
		return s.Card.Validate()
	}
	return nil
}

// ActiveOn reports whether the subscription covers the given day.
func (s Subscription) ActiveOn(day Date) bool {
	if day.Before(s.StartDate.Date) {
		return false
	}
	if !s.EndDate.IsEmpty() && day.After(s.EndDate.Date) {
		return false
	}
	return true
}
