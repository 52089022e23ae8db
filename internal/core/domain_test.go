package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{}, false},               // unset
		{NewDate(2025, 2, 30), false}, // not a calendar date
		{NewDate(1850, 1, 1), false},
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		UserID:      "u1",
		Date:        NewDate(2025, 1, 1),
		Description: "ok",
		Amount:      Money{Cents: 100},
		Category:    CategoryFood,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{UserID: "u1", Description: "a", Amount: Money{Cents: 1}, Category: CategoryFood}, // unset date
		{UserID: "u1", Date: NewDate(2025, 1, 1), Description: "", Amount: Money{Cents: 1}, Category: CategoryFood},
		{UserID: "u1", Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 0}, Category: CategoryFood},
		{UserID: "u1", Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 1}, Category: "Pets"},
		{UserID: "u1", Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 1}, Category: CategoryFood, Card: "Discover"},
		{UserID: " ", Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 1}, Category: CategoryFood},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDescriptionLimitCountsCharacters(t *testing.T) {
	e := Expense{
		UserID:      "u1",
		Date:        NewDate(2025, 1, 1),
		Description: strings.Repeat("ç", MaxDescriptionLen),
		Amount:      Money{Cents: 100},
		Category:    CategoryFood,
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("%d accented characters should fit, got %v", MaxDescriptionLen, err)
	}
	e.Description += "a"
	if err := e.Validate(); !errors.Is(err, ErrDescriptionTooLong) {
		t.Fatalf("expected ErrDescriptionTooLong, got %v", err)
	}

	b := CardBill{UserID: "u1", Card: CardVisa, DueDate: NewDate(2025, 3, 10), Total: Money{Cents: 100},
		Description: strings.Repeat("é", MaxDescriptionLen)}
	if err := b.Validate(); err != nil {
		t.Fatalf("card bill description of %d characters should fit, got %v", MaxDescriptionLen, err)
	}
}

func TestCardBillValidate(t *testing.T) {
	base := func() CardBill {
		return CardBill{
			UserID:  "u1",
			Card:    CardVisa,
			DueDate: NewDate(2025, 3, 10),
			Total:   Money{Cents: 50000},
			Divisions: []PersonDivision{
				{Person: "Ana", Amount: Money{Cents: 30000}},
				{Person: "Bruno", Amount: Money{Cents: 15000}},
			},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if got := base().Unallocated(); got.Cents != 5000 {
		t.Fatalf("unallocated = %d, want 5000", got.Cents)
	}

	over := base()
	over.Divisions[1].Amount = Money{Cents: 22000}
	if err := over.Validate(); !errors.Is(err, ErrDivisionsExceedTotal) {
		t.Fatalf("expected ErrDivisionsExceedTotal, got %v", err)
	}
	if got := over.Unallocated(); got.Cents != 0 {
		t.Fatalf("unallocated = %d, want 0", got.Cents)
	}

	huge := base()
	huge.Total = Money{Cents: 100}
	huge.Divisions = nil
	for i := 0; i < 93; i++ {
		huge.Divisions = append(huge.Divisions, PersonDivision{
			Person: fmt.Sprintf("p%d", i),
			Amount: Money{Cents: 1e17},
		})
	}
	if err := huge.Validate(); !errors.Is(err, ErrTooManyDivisions) {
		t.Fatalf("expected ErrTooManyDivisions, got %v", err)
	}
	huge.Divisions = huge.Divisions[:MaxDivisions]
	if err := huge.Validate(); !errors.Is(err, ErrDivisionsExceedTotal) {
		t.Fatalf("expected ErrDivisionsExceedTotal for summed overflow, got %v", err)
	}
	if got := huge.Allocated(); got.Cents != math.MaxInt64 {
		t.Fatalf("allocated = %d, want saturated", got.Cents)
	}
	if got := huge.Unallocated(); got.Cents != 0 {
		t.Fatalf("unallocated = %d, want 0", got.Cents)
	}

	dup := base()
	dup.Divisions[1].Person = " ana "
	if err := dup.Validate(); !errors.Is(err, ErrDuplicatePerson) {
		t.Fatalf("expected ErrDuplicatePerson, got %v", err)
	}

	empty := base()
	empty.Divisions[0].Person = ""
	if err := empty.Validate(); !errors.Is(err, ErrEmptyPerson) {
		t.Fatalf("expected ErrEmptyPerson, got %v", err)
	}

	noCard := base()
	noCard.Card = ""
	if err := noCard.Validate(); !errors.Is(err, ErrUnknownCard) {
		t.Fatalf("expected ErrUnknownCard, got %v", err)
	}
}

func TestSubscriptionValidate(t *testing.T) {
	good := Subscription{
		UserID:      "u1",
		StartDate:   NewDate(2025, 1, 15),
		Every:       Monthly,
		Description: "Streaming",
		Amount:      Money{Cents: 3990},
		Category:    CategorySubscriptions,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	endBefore := good
	endBefore.EndDate = NewDate(2024, 12, 31)
	if err := endBefore.Validate(); !errors.Is(err, ErrEndBeforeStart) {
		t.Fatalf("expected ErrEndBeforeStart, got %v", err)
	}

	badEvery := good
	badEvery.Every = "hourly"
	if err := badEvery.Validate(); !errors.Is(err, ErrInvalidRepetition) {
		t.Fatalf("expected ErrInvalidRepetition, got %v", err)
	}
}

func TestSubscriptionActiveOn(t *testing.T) {
	s := Subscription{StartDate: NewDate(2025, 1, 15), EndDate: NewDate(2025, 6, 15)}
	cases := []struct {
		day  Date
		want bool
	}{
		{NewDate(2025, 1, 14), false},
		{NewDate(2025, 1, 15), true},
		{NewDate(2025, 6, 15), true},
		{NewDate(2025, 6, 16), false},
	}
	for _, tc := range cases {
		if got := s.ActiveOn(tc.day); got != tc.want {
			t.Fatalf("ActiveOn(%s) = %v, want %v", tc.day, got, tc.want)
		}
	}
}

func TestPeriodBounds(t *testing.T) {
	tests := []struct {
		name     string
		p        Period
		from, to string
		ok       bool
	}{
		{"unbounded", Period{}, "", "", false},
		{"whole year", Period{Year: 2025}, "2025-01-01", "2026-01-01", true},
		{"month", Period{Year: 2025, Month: 2}, "2025-02-01", "2025-03-01", true},
		{"december", Period{Year: 2025, Month: 12}, "2025-12-01", "2026-01-01", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, ok := tt.p.Bounds()
			if ok != tt.ok || from.String() != tt.from || to.String() != tt.to {
				t.Errorf("Bounds() = %s, %s, %v; want %s, %s, %v", from, to, ok, tt.from, tt.to, tt.ok)
			}
		})
	}
}

func TestPeriodValidate(t *testing.T) {
	valid := []Period{{}, {Year: 2025}, {Year: 2025, Month: 12}}
	for _, p := range valid {
		if err := p.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v", p, err)
		}
	}
	invalid := []Period{{Month: 3}, {Year: 2025, Month: 13}, {Year: 2025, Month: -1}, {Year: 12}}
	for _, p := range invalid {
		if err := p.Validate(); err == nil {
			t.Errorf("Validate(%+v) expected error", p)
		}
	}
}
