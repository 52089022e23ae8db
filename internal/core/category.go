package core

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type (
	Category string
	Card     string
)

const (
	CategoryFood          Category = "Food"
	CategoryGroceries     Category = "Groceries"
	CategoryTransport     Category = "Transport"
	CategoryHousing       Category = "Housing"
	CategoryUtilities     Category = "Utilities"
	CategoryHealth        Category = "Health"
	CategoryEducation     Category = "Education"
	CategoryEntertainment Category = "Entertainment"
	CategoryShopping      Category = "Shopping"
	CategoryTravel        Category = "Travel"
	CategorySubscriptions Category = "Subscriptions"
	CategoryTaxes         Category = "Taxes"
	CategoryOther         Category = "Other"
)

const (
	CardVisa       Card = "Visa"
	CardMastercard Card = "Mastercard"
	CardAmex       Card = "Amex"
	CardElo        Card = "Elo"
	CardHipercard  Card = "Hipercard"
	CardDiners     Card = "Diners"
	CardOther      Card = "Other"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownCard     = errors.New("unknown card")
)

var allCategories = []Category{
	CategoryFood,
	CategoryGroceries,
	CategoryTransport,
	CategoryHousing,
	CategoryUtilities,
	CategoryHealth,
	CategoryEducation,
	CategoryEntertainment,
	CategoryShopping,
	CategoryTravel,
	CategorySubscriptions,
	CategoryTaxes,
	CategoryOther,
}

var allCards = []Card{
	CardVisa,
	CardMastercard,
	CardAmex,
	CardElo,
	CardHipercard,
	CardDiners,
	CardOther,
}

// Keys are folded with foldLabel.
var categorySynonyms = map[string]Category{
	"alimentacao":   CategoryFood,
	"restaurante":   CategoryFood,
	"restaurant":    CategoryFood,
	"meals":         CategoryFood,
	"lanchonete":    CategoryFood,
	"delivery":      CategoryFood,
	"mercado":       CategoryGroceries,
	"supermercado":  CategoryGroceries,
	"supermarket":   CategoryGroceries,
	"grocery":       CategoryGroceries,
	"transporte":    CategoryTransport,
	"combustivel":   CategoryTransport,
	"fuel":          CategoryTransport,
	"uber":          CategoryTransport,
	"taxi":          CategoryTransport,
	"moradia":       CategoryHousing,
	"aluguel":       CategoryHousing,
	"rent":          CategoryHousing,
	"condominio":    CategoryHousing,
	"energia":       CategoryUtilities,
	"luz":           CategoryUtilities,
	"agua":          CategoryUtilities,
	"internet":      CategoryUtilities,
	"telefone":      CategoryUtilities,
	"saude":         CategoryHealth,
	"farmacia":      CategoryHealth,
	"pharmacy":      CategoryHealth,
	"medico":        CategoryHealth,
	"educacao":      CategoryEducation,
	"escola":        CategoryEducation,
	"curso":         CategoryEducation,
	"lazer":         CategoryEntertainment,
	"cinema":        CategoryEntertainment,
	"compras":       CategoryShopping,
	"vestuario":     CategoryShopping,
	"clothing":      CategoryShopping,
	"viagem":        CategoryTravel,
	"hotel":         CategoryTravel,
	"airline":       CategoryTravel,
	"passagem":      CategoryTravel,
	"assinatura":    CategorySubscriptions,
	"assinaturas":   CategorySubscriptions,
	"subscription":  CategorySubscriptions,
	"streaming":     CategorySubscriptions,
	"saas":          CategorySubscriptions,
	"impostos":      CategoryTaxes,
	"imposto":       CategoryTaxes,
	"tax":           CategoryTaxes,
	"outros":        CategoryOther,
	"outro":         CategoryOther,
	"miscellaneous": CategoryOther,
}

var cardSynonyms = map[string]Card{
	"master":           CardMastercard,
	"master card":      CardMastercard,
	"mc":               CardMastercard,
	"american express": CardAmex,
	"americanexpress":  CardAmex,
	"amex card":        CardAmex,
	"visa credito":     CardVisa,
	"visa debito":      CardVisa,
	"diners club":      CardDiners,
	"hiper":            CardHipercard,
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldLabel lowercases s, strips diacritics and collapses whitespace.
func foldLabel(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// CanonicalizeCategory maps a free-text label onto a known category.
// Unknown labels fall back to Other with ok=false so callers can keep
// the original text around for review.
func CanonicalizeCategory(input string) (Category, bool) {
	key := foldLabel(input)
	if key == "" {
		return CategoryOther, false
	}
	for _, c := range allCategories {
		if key == strings.ToLower(string(c)) {
			return c, true
		}
	}
	if c, ok := categorySynonyms[key]; ok {
		return c, true
	}
	return CategoryOther, false
}

// CanonicalizeCard maps an issuer or network label onto a known card.
func CanonicalizeCard(input string) (Card, bool) {
	key := foldLabel(input)
	if key == "" {
		return CardOther, false
	}
	for _, c := range allCards {
		if key == strings.ToLower(string(c)) {
			return c, true
		}
	}
	if c, ok := cardSynonyms[key]; ok {
		return c, true
	}
	// "VISA PLATINUM", "Mastercard Black" and similar product names.
	for _, c := range allCards {
		if c != CardOther && strings.HasPrefix(key, strings.ToLower(string(c))+" ") {
			return c, true
		}
	}
	return CardOther, false
}

// Categories lists the known categories in display order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Cards lists the known cards in display order.
func Cards() []Card {
	out := make([]Card, len(allCards))
	copy(out, allCards)
	return out
}

func (c Category) Validate() error {
	for _, known := range allCategories {
		if c == known {
			return nil
		}
	}
	return ErrUnknownCategory
}

func (c Card) Validate() error {
	for _, known := range allCards {
		if c == known {
			return nil
		}
	}
	return ErrUnknownCard
}
