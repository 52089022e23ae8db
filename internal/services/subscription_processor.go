package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// SubscriptionStore lists subscriptions across all users and records runs.
type SubscriptionStore interface {
	ListActiveSubscriptions(ctx context.Context, day core.Date) ([]core.Subscription, error)
	MarkSubscriptionExecuted(ctx context.Context, id int64, at time.Time) error
}

// ExpenseCreator is the part of RecordService the processor writes through,
// so generated expenses are published and exported like manual ones.
type ExpenseCreator interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
}

// SubscriptionProcessor turns due subscriptions into expenses.
type SubscriptionProcessor struct {
	store    SubscriptionStore
	expenses ExpenseCreator
	location *time.Location
	logger   *log.Logger
}

// NewSubscriptionProcessor builds a processor that evaluates dueness in
// loc (UTC when nil).
func NewSubscriptionProcessor(store SubscriptionStore, expenses ExpenseCreator, loc *time.Location, logger *log.Logger) *SubscriptionProcessor {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &SubscriptionProcessor{
		store:    store,
		expenses: expenses,
		location: loc,
		logger:   logger.WithComponent(log.ComponentSubscription),
	}
}

// ProcessDue creates one expense for every subscription due at now and
// returns how many were created. A failing subscription is logged and
// skipped.
func (p *SubscriptionProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil || p.expenses == nil {
		return 0, errors.New("subscription processor not properly initialized")
	}

	today := core.DateOf(now.In(p.location))
	subs, err := p.store.ListActiveSubscriptions(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list active subscriptions: %w", err)
	}

	p.logger.InfoContext(ctx, "Processing subscriptions",
		"total_active", len(subs),
		"processing_date", today.String())

	created := 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ok, err := p.processOne(ctx, sub, today, now)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to process subscription",
				log.FieldError, err,
				"subscription_id", sub.ID,
				log.FieldUserID, sub.UserID)
			continue
		}
		if ok {
			created++
		}
	}

	p.logger.InfoContext(ctx, "Subscription processing complete",
		"created", created,
		"total_checked", len(subs))
	return created, nil
}

func (p *SubscriptionProcessor) processOne(ctx context.Context, sub core.Subscription, today core.Date, now time.Time) (bool, error) {
	if !sub.ActiveOn(today) {
		return false, nil
	}
	checker, err := GetDuenessChecker(sub.Every)
	if err != nil {
		return false, err
	}

	var last core.Date
	if !sub.LastExecution.IsZero() {
		last = core.DateOf(sub.LastExecution.In(p.location))
	}
	if !checker.IsDue(last, today, sub.StartDate) {
		return false, nil
	}

	e, err := p.expenses.CreateExpense(ctx, core.Expense{
		UserID:      sub.UserID,
		Date:        today,
		Description: sub.Description,
		Amount:      sub.Amount,
		Category:    sub.Category,
		Card:        sub.Card,
		Notes:       fmt.Sprintf("subscription #%d", sub.ID),
	})
	if err != nil {
		return false, fmt.Errorf("create expense: %w", err)
	}

	// The expense exists at this point; a failed mark only risks a
	// duplicate on the next run, so it is logged and counted as done.
	if err := p.store.MarkSubscriptionExecuted(ctx, sub.ID, now.UTC()); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record subscription execution",
			log.FieldError, err,
			"subscription_id", sub.ID)
	}

	p.logger.InfoContext(ctx, "Created expense from subscription",
		"subscription_id", sub.ID,
		log.FieldRecordID, e.ID,
		log.FieldUserID, sub.UserID,
		log.FieldAmountCents, sub.Amount.Cents,
		"frequency", sub.Every)
	return true, nil
}

// Run processes due subscriptions immediately and then every interval
// until ctx ends.
func (p *SubscriptionProcessor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.runOnce(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			p.runOnce(ctx, now)
		}
	}
}

func (p *SubscriptionProcessor) runOnce(ctx context.Context, now time.Time) {
	if _, err := p.ProcessDue(ctx, now); err != nil && ctx.Err() == nil {
		p.logger.ErrorContext(ctx, "Subscription processing failed", log.FieldError, err)
	}
}
