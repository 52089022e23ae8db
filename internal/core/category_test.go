package core

import "testing"

func TestCanonicalizeCategory(t *testing.T) {
	cases := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"Food", CategoryFood, true},
		{"  groceries ", CategoryGroceries, true},
		{"Alimentação", CategoryFood, true},
		{"FARMÁCIA", CategoryHealth, true},
		{"Supermercado", CategoryGroceries, true},
		{"Condomínio", CategoryHousing, true},
		{"Pet shop", CategoryOther, false},
		{"", CategoryOther, false},
		{"outros", CategoryOther, true},
	}
	for _, tc := range cases {
		got, ok := CanonicalizeCategory(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%q = (%s, %v), want (%s, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCanonicalizeCard(t *testing.T) {
	cases := []struct {
		in   string
		want Card
		ok   bool
	}{
		{"VISA", CardVisa, true},
		{"Visa Platinum", CardVisa, true},
		{"Mastercard Black", CardMastercard, true},
		{"American Express", CardAmex, true},
		{"master", CardMastercard, true},
		{"Banco Imaginário", CardOther, false},
		{"", CardOther, false},
	}
	for _, tc := range cases {
		got, ok := CanonicalizeCard(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%q = (%s, %v), want (%s, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEnumerationsValidate(t *testing.T) {
	for _, c := range Categories() {
		if err := c.Validate(); err != nil {
			t.Fatalf("category %s: %v", c, err)
		}
	}
	for _, c := range Cards() {
		if err := c.Validate(); err != nil {
			t.Fatalf("card %s: %v", c, err)
		}
	}
	if err := Category("food").Validate(); err == nil {
		t.Fatalf("expected error for non-canonical category")
	}
}
