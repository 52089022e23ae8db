package services

import (
	"fmt"
	"sync"
	"time"

	"fintrack/internal/core"
)

// DuenessChecker decides whether a subscription should produce an expense
// today. Each repetition type has its own strategy.
type DuenessChecker interface {
	// IsDue reports whether a charge is due on today. An empty last means
	// the subscription never ran.
	IsDue(last, today, start core.Date) bool
}

// DailyChecker is due once per calendar day.
type DailyChecker struct{}

func (DailyChecker) IsDue(last, today, _ core.Date) bool {
	return last.IsEmpty() || last.Before(today.Date)
}

// WeeklyChecker is due when 7 or more days passed since the last run.
type WeeklyChecker struct{}

func (WeeklyChecker) IsDue(last, today, _ core.Date) bool {
	if last.IsEmpty() {
		return true
	}
	return today.DaysSince(last.Date) >= 7
}

// MonthlyChecker is due once per month, on or after the start date's day.
// Days past the end of a short month clamp to its last day.
type MonthlyChecker struct{}

func (MonthlyChecker) IsDue(last, today, start core.Date) bool {
	if last.IsEmpty() {
		return true
	}
	if !monthBefore(last, today) {
		return false
	}
	return today.Day >= clampDay(today.Year, today.Month, start.Day)
}

// YearlyChecker is due once per year, on or after the start date's month
// and day.
type YearlyChecker struct{}

func (YearlyChecker) IsDue(last, today, start core.Date) bool {
	if last.IsEmpty() {
		return true
	}
	if last.Year >= today.Year {
		return false
	}
	switch {
	case today.Month < start.Month:
		return false
	case today.Month > start.Month:
		return true
	default:
		return today.Day >= clampDay(today.Year, today.Month, start.Day)
	}
}

func monthBefore(a, b core.Date) bool {
	return a.Year < b.Year || (a.Year == b.Year && a.Month < b.Month)
}

func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

var (
	strategiesMu      sync.RWMutex
	duenessStrategies = map[core.RepetitionTypes]DuenessChecker{
		core.Daily:   DailyChecker{},
		core.Weekly:  WeeklyChecker{},
		core.Monthly: MonthlyChecker{},
		core.Yearly:  YearlyChecker{},
	}
)

// GetDuenessChecker returns the checker registered for frequency.
func GetDuenessChecker(frequency core.RepetitionTypes) (DuenessChecker, error) {
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidRepetition, frequency)
	}
	return checker, nil
}

// RegisterDuenessChecker adds or replaces the checker for frequency.
func RegisterDuenessChecker(frequency core.RepetitionTypes, checker DuenessChecker) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	duenessStrategies[frequency] = checker
}
