package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.RecordEvent
	err    error
}

func (p *recordingPublisher) PublishRecordEvent(_ context.Context, evt *amqp.RecordEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) last() *amqp.RecordEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func lunch(user string) core.Expense {
	return core.Expense{
		UserID:      user,
		Date:        core.NewDate(2025, 3, 5),
		Description: "  Lunch  ",
		Amount:      core.Money{Cents: 1250},
	}
}

func TestRecordService_CreateExpense(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRecordService(newTestRepo(t), pub)
	ctx := context.Background()

	e, err := svc.CreateExpense(ctx, lunch("alice"))
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if e.ID == 0 || e.Description != "Lunch" || e.Category != core.CategoryOther {
		t.Errorf("CreateExpense() = %+v", e)
	}

	evt := pub.last()
	if evt == nil || evt.Type != amqp.EventCreated || evt.Kind != core.KindExpense || evt.ID != e.ID || evt.UserID != "alice" {
		t.Errorf("published %+v", evt)
	}

	got, err := svc.GetExpense(ctx, "alice", e.ID)
	if err != nil || got != e {
		t.Errorf("GetExpense() = %+v, %v", got, err)
	}
}

func TestRecordService_ValidationErrors(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRecordService(newTestRepo(t), pub)
	ctx := context.Background()

	noAmount := lunch("alice")
	noAmount.Amount = core.Money{}
	noUser := lunch("")
	badCategory := lunch("alice")
	badCategory.Category = "Gizmos"

	tests := []struct {
		name string
		e    core.Expense
		want error
	}{
		{"zero amount", noAmount, core.ErrInvalidAmount},
		{"missing user", noUser, core.ErrEmptyUserID},
		{"unknown category", badCategory, core.ErrUnknownCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateExpense(ctx, tt.e)
			if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, tt.want) {
				t.Errorf("CreateExpense() error = %v, want %v wrapped in ErrInvalidInput", err, tt.want)
			}
		})
	}

	over := core.CardBill{
		UserID: "alice", Card: core.CardVisa, DueDate: core.NewDate(2025, 4, 10), Total: core.Money{Cents: 100},
		Divisions: []core.PersonDivision{{Person: "Ana", Amount: core.Money{Cents: 101}}},
	}
	if _, err := svc.CreateCardBill(ctx, over); !errors.Is(err, core.ErrDivisionsExceedTotal) {
		t.Errorf("CreateCardBill() error = %v, want ErrDivisionsExceedTotal", err)
	}

	if _, err := svc.UpdateExpense(ctx, lunch("alice")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("UpdateExpense() without id error = %v", err)
	}
	if _, err := svc.ListExpenses(ctx, "alice", core.Period{Month: 3}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ListExpenses() with month but no year error = %v", err)
	}

	if n := len(pub.events); n != 0 {
		t.Errorf("rejected writes published %d events", n)
	}
}

func TestRecordService_PublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: amqp.ErrCircuitOpen}
	svc := NewRecordService(newTestRepo(t), pub)

	e, err := svc.CreateExpense(context.Background(), lunch("alice"))
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if _, err := svc.GetExpense(context.Background(), "alice", e.ID); err != nil {
		t.Errorf("expense should be saved despite publish failure: %v", err)
	}
}

func TestRecordService_NilPublisher(t *testing.T) {
	svc := NewRecordService(newTestRepo(t), nil)
	if _, err := svc.CreateExpense(context.Background(), lunch("alice")); err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
}

func TestRecordService_UpdateAndDeleteScopedByUser(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRecordService(newTestRepo(t), pub)
	ctx := context.Background()

	e, err := svc.CreateExpense(ctx, lunch("alice"))
	if err != nil {
		t.Fatal(err)
	}

	stolen := e
	stolen.UserID = "bob"
	if _, err := svc.UpdateExpense(ctx, stolen); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateExpense() by other user error = %v", err)
	}
	if err := svc.DeleteExpense(ctx, "bob", e.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteExpense() by other user error = %v", err)
	}

	e.Amount = core.Money{Cents: 999}
	if _, err := svc.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("UpdateExpense() error = %v", err)
	}
	if evt := pub.last(); evt.Type != amqp.EventUpdated {
		t.Errorf("last event = %+v, want updated", evt)
	}
	if err := svc.DeleteExpense(ctx, "alice", e.ID); err != nil {
		t.Fatalf("DeleteExpense() error = %v", err)
	}
	if evt := pub.last(); evt.Type != amqp.EventDeleted || evt.ID != e.ID {
		t.Errorf("last event = %+v, want deleted", evt)
	}
	if len(pub.events) != 3 {
		t.Errorf("published %d events, want 3", len(pub.events))
	}
}

func TestRecordService_CardBillsIncomesSubscriptions(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewRecordService(newTestRepo(t), pub)
	ctx := context.Background()

	bill, err := svc.CreateCardBill(ctx, core.CardBill{
		UserID: "alice", Card: core.CardMastercard, DueDate: core.NewDate(2025, 4, 10), Total: core.Money{Cents: 50000},
		Divisions: []core.PersonDivision{{Person: " Ana ", Amount: core.Money{Cents: 30000}}},
	})
	if err != nil {
		t.Fatalf("CreateCardBill() error = %v", err)
	}
	if bill.Divisions[0].Person != "Ana" || bill.Unallocated().Cents != 20000 {
		t.Errorf("CreateCardBill() = %+v", bill)
	}
	bill.Total = core.Money{Cents: 30000}
	if _, err := svc.UpdateCardBill(ctx, bill); err != nil {
		t.Fatalf("UpdateCardBill() error = %v", err)
	}
	bills, err := svc.ListCardBills(ctx, "alice", core.Period{Year: 2025, Month: 4})
	if err != nil || len(bills) != 1 || bills[0].Total.Cents != 30000 {
		t.Errorf("ListCardBills() = %+v, %v", bills, err)
	}

	in, err := svc.CreateIncome(ctx, core.Income{UserID: "alice", Date: core.NewDate(2025, 4, 1), Description: "Salary", Amount: core.Money{Cents: 100000}})
	if err != nil {
		t.Fatalf("CreateIncome() error = %v", err)
	}
	incomes, err := svc.ListIncomes(ctx, "alice", core.Period{Year: 2025})
	if err != nil || len(incomes) != 1 {
		t.Errorf("ListIncomes() = %+v, %v", incomes, err)
	}
	if err := svc.DeleteIncome(ctx, "alice", in.ID); err != nil {
		t.Errorf("DeleteIncome() error = %v", err)
	}

	sub, err := svc.CreateSubscription(ctx, core.Subscription{
		UserID: "alice", StartDate: core.NewDate(2025, 1, 1), Every: core.Monthly,
		Description: "Streaming", Amount: core.Money{Cents: 3990},
	})
	if err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	if sub.Category != core.CategoryOther {
		t.Errorf("subscription category = %q, want Other", sub.Category)
	}
	if _, err := svc.CreateSubscription(ctx, core.Subscription{UserID: "alice", StartDate: core.NewDate(2025, 1, 1), Every: "hourly", Description: "x", Amount: core.Money{Cents: 1}}); !errors.Is(err, core.ErrInvalidRepetition) {
		t.Errorf("CreateSubscription() with bad repetition error = %v", err)
	}
	subs, err := svc.ListSubscriptions(ctx, "alice")
	if err != nil || len(subs) != 1 {
		t.Errorf("ListSubscriptions() = %+v, %v", subs, err)
	}
	if err := svc.DeleteSubscription(ctx, "alice", sub.ID); err != nil {
		t.Errorf("DeleteSubscription() error = %v", err)
	}

	kinds := map[core.RecordKind]int{}
	for _, evt := range pub.events {
		kinds[evt.Kind]++
	}
	if kinds[core.KindCardBill] != 2 || kinds[core.KindIncome] != 2 || kinds[core.KindSubscription] != 2 {
		t.Errorf("events per kind = %v", kinds)
	}
}

func TestRecordService_UpdateIncomeAndSubscription(t *testing.T) {
	pub := &recordingPublisher{}
	repo := newTestRepo(t)
	svc := NewRecordService(repo, pub)
	ctx := context.Background()

	in, err := svc.CreateIncome(ctx, core.Income{UserID: "alice", Date: core.NewDate(2025, 4, 1), Description: "Salary", Amount: core.Money{Cents: 100000}})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkExported(ctx, core.KindIncome, in.ID); err != nil {
		t.Fatal(err)
	}

	in.Description, in.Amount = "  Salary April ", core.Money{Cents: 120000}
	updated, err := svc.UpdateIncome(ctx, in)
	if err != nil {
		t.Fatalf("UpdateIncome() error = %v", err)
	}
	if updated.Description != "Salary April" {
		t.Errorf("UpdateIncome() description = %q", updated.Description)
	}
	if evt := pub.last(); evt.Type != amqp.EventUpdated || evt.Kind != core.KindIncome || evt.ID != in.ID {
		t.Errorf("last event = %+v, want income updated", evt)
	}
	pending, err := repo.PendingExports(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].ID != in.ID {
		t.Errorf("edited income should be queued for export, pending = %+v, %v", pending, err)
	}

	zero := updated
	zero.Amount = core.Money{}
	if _, err := svc.UpdateIncome(ctx, zero); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("UpdateIncome() with zero amount error = %v", err)
	}
	stolen := updated
	stolen.UserID = "bob"
	if _, err := svc.UpdateIncome(ctx, stolen); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateIncome() by other user error = %v", err)
	}

	sub, err := svc.CreateSubscription(ctx, core.Subscription{
		UserID: "alice", StartDate: core.NewDate(2025, 1, 1), Every: core.Monthly,
		Description: "Streaming", Amount: core.Money{Cents: 3990},
	})
	if err != nil {
		t.Fatal(err)
	}
	ran := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := repo.MarkSubscriptionExecuted(ctx, sub.ID, ran); err != nil {
		t.Fatal(err)
	}

	sub.Amount = core.Money{Cents: 4490}
	sub.LastExecution = time.Time{}
	edited, err := svc.UpdateSubscription(ctx, sub)
	if err != nil {
		t.Fatalf("UpdateSubscription() error = %v", err)
	}
	if edited.Amount.Cents != 4490 || !edited.LastExecution.Equal(ran) {
		t.Errorf("UpdateSubscription() = %+v, want new amount and kept last execution", edited)
	}
	if evt := pub.last(); evt.Type != amqp.EventUpdated || evt.Kind != core.KindSubscription {
		t.Errorf("last event = %+v, want subscription updated", evt)
	}

	sub.Every = "hourly"
	if _, err := svc.UpdateSubscription(ctx, sub); !errors.Is(err, core.ErrInvalidRepetition) {
		t.Errorf("UpdateSubscription() with bad repetition error = %v", err)
	}
	sub.ID = 0
	if _, err := svc.UpdateSubscription(ctx, sub); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("UpdateSubscription() without id error = %v", err)
	}
}

// brokenStore fails every income write.
type brokenStore struct {
	*storage.SQLiteRepository
}

var errDiskFull = errors.New("disk full")

func (brokenStore) CreateIncome(context.Context, core.Income) (int64, error) { return 0, errDiskFull }

func TestRecordService_StoreFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelDebug, Output: &buf})
	pub := &recordingPublisher{}
	svc := NewRecordService(brokenStore{newTestRepo(t)}, pub, WithRecordLogger(logger))

	_, err := svc.CreateIncome(context.Background(), core.Income{UserID: "alice", Date: core.NewDate(2025, 4, 1), Description: "Salary", Amount: core.Money{Cents: 100}})
	if !errors.Is(err, errDiskFull) || errors.Is(err, ErrInvalidInput) {
		t.Fatalf("CreateIncome() error = %v, want storage failure", err)
	}
	out := buf.String()
	for _, want := range []string{"Record write failed", "level=ERROR", "error=\"disk full\"", "operation=create", "record_kind=income"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
	if len(pub.events) != 0 {
		t.Errorf("failed write published %d events", len(pub.events))
	}

	buf.Reset()
	if err := svc.DeleteIncome(context.Background(), "alice", 42); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("DeleteIncome() error = %v", err)
	}
	if strings.Contains(buf.String(), "Record write failed") {
		t.Errorf("missing records should not be logged as failures: %s", buf.String())
	}
}

// countingStore counts overview reads hitting storage.
type countingStore struct {
	*storage.SQLiteRepository
	mu    sync.Mutex
	reads int
}

func (s *countingStore) ReadMonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.SQLiteRepository.ReadMonthOverview(ctx, userID, year, month)
}

func TestRecordService_MonthOverviewCache(t *testing.T) {
	store := &countingStore{SQLiteRepository: newTestRepo(t)}
	overviews := cache.NewLRUCache[core.MonthOverview](10, time.Hour)
	svc := NewRecordService(store, nil, WithOverviewCache(overviews))
	ctx := context.Background()

	if _, err := svc.CreateExpense(ctx, lunch("alice")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateExpense(ctx, lunch("bob")); err != nil {
		t.Fatal(err)
	}

	ov, err := svc.MonthOverview(ctx, "alice", 2025, 3)
	if err != nil || ov.ExpenseTotal.Cents != 1250 {
		t.Fatalf("MonthOverview() = %+v, %v", ov, err)
	}
	if _, err := svc.MonthOverview(ctx, "alice", 2025, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.MonthOverview(ctx, "bob", 2025, 3); err != nil {
		t.Fatal(err)
	}
	if store.reads != 2 {
		t.Errorf("storage reads = %d, want 2 (second alice read cached)", store.reads)
	}

	// A write by alice drops her entries only.
	if _, err := svc.CreateExpense(ctx, lunch("alice")); err != nil {
		t.Fatal(err)
	}
	if overviews.Size() != 1 {
		t.Errorf("cache size after alice write = %d, want 1", overviews.Size())
	}
	ov, err = svc.MonthOverview(ctx, "alice", 2025, 3)
	if err != nil || ov.ExpenseTotal.Cents != 2500 {
		t.Errorf("MonthOverview() after write = %+v, %v", ov, err)
	}
	if store.reads != 3 {
		t.Errorf("storage reads = %d, want 3", store.reads)
	}

	for _, bad := range [][2]int{{2025, 0}, {2025, 13}, {0, 3}} {
		if _, err := svc.MonthOverview(ctx, "alice", bad[0], bad[1]); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("MonthOverview(%d, %d) error = %v", bad[0], bad[1], err)
		}
	}
}

type closer struct{ closed bool }

func (c *closer) PublishRecordEvent(context.Context, *amqp.RecordEvent) error { return nil }
func (c *closer) Close() error                                             { c.closed = true; return nil }

func TestRecordService_Close(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatal(err)
	}
	pub := &closer{}
	svc := NewRecordService(repo, pub)
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !pub.closed {
		t.Error("publisher should be closed")
	}
	if err := repo.Ping(context.Background()); err == nil {
		t.Error("repository should be closed")
	}
}
