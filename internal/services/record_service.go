// Package services orchestrates record writes across storage, the event
// bus and the overview cache, and runs the background processors that
// materialize subscriptions and export records.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// ErrInvalidInput wraps every domain validation failure returned by
// RecordService so callers can tell bad input from storage failures.
var ErrInvalidInput = errors.New("invalid input")

// RecordStore is the per-user persistence RecordService writes through.
type RecordStore interface {
	CreateExpense(ctx context.Context, e core.Expense) (int64, error)
	GetExpense(ctx context.Context, userID string, id int64) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, userID string, id int64) error
	ListExpenses(ctx context.Context, userID string, p core.Period) ([]core.Expense, error)

	CreateCardBill(ctx context.Context, b core.CardBill) (int64, error)
	GetCardBill(ctx context.Context, userID string, id int64) (core.CardBill, error)
	UpdateCardBill(ctx context.Context, b core.CardBill) error
	DeleteCardBill(ctx context.Context, userID string, id int64) error
	ListCardBills(ctx context.Context, userID string, p core.Period) ([]core.CardBill, error)

	CreateIncome(ctx context.Context, in core.Income) (int64, error)
	GetIncome(ctx context.Context, userID string, id int64) (core.Income, error)
	UpdateIncome(ctx context.Context, in core.Income) error
	DeleteIncome(ctx context.Context, userID string, id int64) error
	ListIncomes(ctx context.Context, userID string, p core.Period) ([]core.Income, error)

	CreateSubscription(ctx context.Context, s core.Subscription) (int64, error)
	GetSubscription(ctx context.Context, userID string, id int64) (core.Subscription, error)
	UpdateSubscription(ctx context.Context, s core.Subscription) error
	DeleteSubscription(ctx context.Context, userID string, id int64) error
	ListSubscriptions(ctx context.Context, userID string) ([]core.Subscription, error)

	ReadMonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error)
}

// EventPublisher announces record writes. *amqp.Client satisfies it.
type EventPublisher interface {
	PublishRecordEvent(ctx context.Context, evt *amqp.RecordEvent) error
}

// RecordService saves records locally first and then publishes an event.
// The local save is authoritative: a failed publish is logged only, and
// the export worker's periodic sweep picks the record up later.
type RecordService struct {
	store     RecordStore
	publisher EventPublisher
	overviews cache.Cache[core.MonthOverview]
	logger    *log.Logger
	audit     *log.StructuredLogger
}

type RecordServiceOption func(*RecordService)

// WithOverviewCache caches MonthOverview results per user and month.
func WithOverviewCache(c cache.Cache[core.MonthOverview]) RecordServiceOption {
	return func(s *RecordService) { s.overviews = c }
}

func WithRecordLogger(l *log.Logger) RecordServiceOption {
	return func(s *RecordService) {
		if l != nil {
			s.logger = l.WithComponent(log.ComponentRecords)
		}
	}
}

// NewRecordService builds a service over store. publisher may be nil, in
// which case no events are published.
func NewRecordService(store RecordStore, publisher EventPublisher, opts ...RecordServiceOption) *RecordService {
	s := &RecordService{
		store:     store,
		publisher: publisher,
		logger:    log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.audit = log.NewStructuredLogger(s.logger)
	return s
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

func normalizeExpense(e *core.Expense) {
	e.Description = strings.TrimSpace(e.Description)
	if e.Category == "" {
		e.Category = core.CategoryOther
	}
}

// CreateExpense validates and stores e, returning it with its new ID.
func (s *RecordService) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	normalizeExpense(&e)
	if err := e.Validate(); err != nil {
		return core.Expense{}, invalid(err)
	}
	id, err := s.store.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, s.failed(ctx, log.OpCreate, core.KindExpense, 0, e.UserID, "save expense", err)
	}
	e.ID = id
	s.written(ctx, amqp.EventCreated, core.KindExpense, id, e.UserID)
	return e, nil
}

func (s *RecordService) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	normalizeExpense(&e)
	if e.ID <= 0 {
		return core.Expense{}, invalid(errors.New("missing id"))
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, invalid(err)
	}
	if err := s.store.UpdateExpense(ctx, e); err != nil {
		return core.Expense{}, s.failed(ctx, log.OpUpdate, core.KindExpense, e.ID, e.UserID, "update expense", err)
	}
	s.written(ctx, amqp.EventUpdated, core.KindExpense, e.ID, e.UserID)
	return e, nil
}

func (s *RecordService) DeleteExpense(ctx context.Context, userID string, id int64) error {
	if err := s.store.DeleteExpense(ctx, userID, id); err != nil {
		return s.failed(ctx, log.OpDelete, core.KindExpense, id, userID, "delete expense", err)
	}
	s.written(ctx, amqp.EventDeleted, core.KindExpense, id, userID)
	return nil
}

func (s *RecordService) GetExpense(ctx context.Context, userID string, id int64) (core.Expense, error) {
	return s.store.GetExpense(ctx, userID, id)
}

func (s *RecordService) ListExpenses(ctx context.Context, userID string, p core.Period) ([]core.Expense, error) {
	if err := p.Validate(); err != nil {
		return nil, invalid(err)
	}
	return s.store.ListExpenses(ctx, userID, p)
}

func normalizeCardBill(b *core.CardBill) {
	b.Description = strings.TrimSpace(b.Description)
	for i := range b.Divisions {
		b.Divisions[i].Person = strings.TrimSpace(b.Divisions[i].Person)
	}
}

// CreateCardBill stores b. Divisions may leave part of the total
// unallocated but may not exceed it.
func (s *RecordService) CreateCardBill(ctx context.Context, b core.CardBill) (core.CardBill, error) {
	normalizeCardBill(&b)
	if err := b.Validate(); err != nil {
		return core.CardBill{}, invalid(err)
	}
	id, err := s.store.CreateCardBill(ctx, b)
	if err != nil {
		return core.CardBill{}, s.failed(ctx, log.OpCreate, core.KindCardBill, 0, b.UserID, "save card bill", err)
	}
	b.ID = id
	s.written(ctx, amqp.EventCreated, core.KindCardBill, id, b.UserID)
	return b, nil
}

func (s *RecordService) UpdateCardBill(ctx context.Context, b core.CardBill) (core.CardBill, error) {
	normalizeCardBill(&b)
	if b.ID <= 0 {
		return core.CardBill{}, invalid(errors.New("missing id"))
	}
	if err := b.Validate(); err != nil {
		return core.CardBill{}, invalid(err)
	}
	if err := s.store.UpdateCardBill(ctx, b); err != nil {
		return core.CardBill{}, s.failed(ctx, log.OpUpdate, core.KindCardBill, b.ID, b.UserID, "update card bill", err)
	}
	s.written(ctx, amqp.EventUpdated, core.KindCardBill, b.ID, b.UserID)
	return b, nil
}

func (s *RecordService) DeleteCardBill(ctx context.Context, userID string, id int64) error {
	if err := s.store.DeleteCardBill(ctx, userID, id); err != nil {
		return s.failed(ctx, log.OpDelete, core.KindCardBill, id, userID, "delete card bill", err)
	}
	s.written(ctx, amqp.EventDeleted, core.KindCardBill, id, userID)
	return nil
}

func (s *RecordService) GetCardBill(ctx context.Context, userID string, id int64) (core.CardBill, error) {
	return s.store.GetCardBill(ctx, userID, id)
}

func (s *RecordService) ListCardBills(ctx context.Context, userID string, p core.Period) ([]core.CardBill, error) {
	if err := p.Validate(); err != nil {
		return nil, invalid(err)
	}
	return s.store.ListCardBills(ctx, userID, p)
}

func normalizeIncome(in *core.Income) {
	in.Description = strings.TrimSpace(in.Description)
	in.Source = strings.TrimSpace(in.Source)
}

func (s *RecordService) CreateIncome(ctx context.Context, in core.Income) (core.Income, error) {
	normalizeIncome(&in)
	if err := in.Validate(); err != nil {
		return core.Income{}, invalid(err)
	}
	id, err := s.store.CreateIncome(ctx, in)
	if err != nil {
		return core.Income{}, s.failed(ctx, log.OpCreate, core.KindIncome, 0, in.UserID, "save income", err)
	}
	in.ID = id
	s.written(ctx, amqp.EventCreated, core.KindIncome, id, in.UserID)
	return in, nil
}

// UpdateIncome replaces a stored income; the export worker writes it again.
func (s *RecordService) UpdateIncome(ctx context.Context, in core.Income) (core.Income, error) {
	normalizeIncome(&in)
	if in.ID <= 0 {
		return core.Income{}, invalid(errors.New("missing id"))
	}
	if err := in.Validate(); err != nil {
		return core.Income{}, invalid(err)
	}
	if err := s.store.UpdateIncome(ctx, in); err != nil {
		return core.Income{}, s.failed(ctx, log.OpUpdate, core.KindIncome, in.ID, in.UserID, "update income", err)
	}
	s.written(ctx, amqp.EventUpdated, core.KindIncome, in.ID, in.UserID)
	return in, nil
}

func (s *RecordService) DeleteIncome(ctx context.Context, userID string, id int64) error {
	if err := s.store.DeleteIncome(ctx, userID, id); err != nil {
		return s.failed(ctx, log.OpDelete, core.KindIncome, id, userID, "delete income", err)
	}
	s.written(ctx, amqp.EventDeleted, core.KindIncome, id, userID)
	return nil
}

func (s *RecordService) GetIncome(ctx context.Context, userID string, id int64) (core.Income, error) {
	return s.store.GetIncome(ctx, userID, id)
}

func (s *RecordService) ListIncomes(ctx context.Context, userID string, p core.Period) ([]core.Income, error) {
	if err := p.Validate(); err != nil {
		return nil, invalid(err)
	}
	return s.store.ListIncomes(ctx, userID, p)
}

func normalizeSubscription(sub *core.Subscription) {
	sub.Description = strings.TrimSpace(sub.Description)
	if sub.Category == "" {
		sub.Category = core.CategoryOther
	}
}

func (s *RecordService) CreateSubscription(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	normalizeSubscription(&sub)
	sub.LastExecution = sub.LastExecution.UTC()
	if err := sub.Validate(); err != nil {
		return core.Subscription{}, invalid(err)
	}
	id, err := s.store.CreateSubscription(ctx, sub)
	if err != nil {
		return core.Subscription{}, s.failed(ctx, log.OpCreate, core.KindSubscription, 0, sub.UserID, "save subscription", err)
	}
	sub.ID = id
	s.written(ctx, amqp.EventCreated, core.KindSubscription, id, sub.UserID)
	return sub, nil
}

// UpdateSubscription replaces the schedule and template of a stored
// subscription. LastExecution is owned by the subscription worker, so the
// returned value carries the stored one rather than the caller's.
func (s *RecordService) UpdateSubscription(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	normalizeSubscription(&sub)
	if sub.ID <= 0 {
		return core.Subscription{}, invalid(errors.New("missing id"))
	}
	if err := sub.Validate(); err != nil {
		return core.Subscription{}, invalid(err)
	}
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return core.Subscription{}, s.failed(ctx, log.OpUpdate, core.KindSubscription, sub.ID, sub.UserID, "update subscription", err)
	}
	s.written(ctx, amqp.EventUpdated, core.KindSubscription, sub.ID, sub.UserID)

	stored, err := s.store.GetSubscription(ctx, sub.UserID, sub.ID)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("reload subscription: %w", err)
	}
	return stored, nil
}

func (s *RecordService) DeleteSubscription(ctx context.Context, userID string, id int64) error {
	if err := s.store.DeleteSubscription(ctx, userID, id); err != nil {
		return s.failed(ctx, log.OpDelete, core.KindSubscription, id, userID, "delete subscription", err)
	}
	s.written(ctx, amqp.EventDeleted, core.KindSubscription, id, userID)
	return nil
}

func (s *RecordService) GetSubscription(ctx context.Context, userID string, id int64) (core.Subscription, error) {
	return s.store.GetSubscription(ctx, userID, id)
}

func (s *RecordService) ListSubscriptions(ctx context.Context, userID string) ([]core.Subscription, error) {
	return s.store.ListSubscriptions(ctx, userID)
}

// MonthOverview returns the user's totals for one month, served from the
// overview cache when one is configured.
func (s *RecordService) MonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error) {
	p := core.Period{Year: year, Month: month}
	if err := p.Validate(); err != nil || year == 0 || month == 0 {
		return core.MonthOverview{}, invalid(core.ErrInvalidDate)
	}

	key := overviewKey(userID, year, month)
	if s.overviews != nil {
		if ov, ok := s.overviews.Get(key); ok {
			return ov, nil
		}
	}

	ov, err := s.store.ReadMonthOverview(ctx, userID, year, month)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("read month overview: %w", err)
	}
	if s.overviews != nil {
		s.overviews.Set(key, ov)
	}
	return ov, nil
}

func overviewKey(userID string, year, month int) string {
	return fmt.Sprintf("%s%04d-%02d", overviewPrefix(userID), year, month)
}

func overviewPrefix(userID string) string {
	return userID + "\x00"
}

// failed logs a store failure during a write and wraps it with msg.
// Missing records are the caller's mistake and are not logged.
func (s *RecordService) failed(ctx context.Context, op string, kind core.RecordKind, id int64, userID, msg string, err error) error {
	if !errors.Is(err, storage.ErrNotFound) {
		s.audit.LogError(ctx, "Record write failed", err, log.ComponentStorage, op,
			log.NewFields().WithRecord(string(kind), id).WithUser(userID))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// written runs the bookkeeping shared by every successful write.
func (s *RecordService) written(ctx context.Context, t amqp.EventType, kind core.RecordKind, id int64, userID string) {
	if s.overviews != nil {
		s.overviews.DeletePrefix(overviewPrefix(userID))
	}
	s.audit.LogRecordWritten(ctx, operationFor(t), string(kind), id, userID)
	s.publish(ctx, amqp.NewRecordEvent(t, kind, id, userID))
}

func (s *RecordService) publish(ctx context.Context, evt *amqp.RecordEvent) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No event publisher configured, skipping record event",
			log.FieldRecordKind, evt.Kind,
			log.FieldRecordID, evt.ID)
		return
	}
	if err := s.publisher.PublishRecordEvent(ctx, evt); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish record event",
			log.FieldError, err,
			log.FieldOperation, log.OpPublish,
			log.FieldRecordKind, evt.Kind,
			log.FieldRecordID, evt.ID)
	}
}

func operationFor(t amqp.EventType) string {
	switch t {
	case amqp.EventCreated:
		return log.OpCreate
	case amqp.EventUpdated:
		return log.OpUpdate
	default:
		return log.OpDelete
	}
}

// Close releases the store and publisher when they hold resources.
func (s *RecordService) Close() error {
	var errs []error
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}
