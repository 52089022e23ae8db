package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist or belongs to a
// different user.
var ErrNotFound = errors.New("record not found")

// Export status values stored alongside exportable records.
const (
	ExportPending  = "pending"
	ExportExported = "exported"
	ExportError    = "error"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func logger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentStorage)
}

// --- expenses ---

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (user_id, date, description, amount_cents, category, card, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Date.String(), e.Description, e.Amount.Cents, string(e.Category), string(e.Card), e.Notes)
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}

	logger(ctx).DebugContext(ctx, "Expense saved",
		log.FieldRecordID, id,
		log.FieldUserID, e.UserID,
		log.FieldAmountCents, e.Amount.Cents)
	return id, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, userID string, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, description, amount_cents, category, card, notes
		FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanExpense(row)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return e, nil
}

// UpdateExpense replaces the expense and queues it for export again.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET date = ?, description = ?, amount_cents = ?, category = ?, card = ?, notes = ?,
		    updated_at = CURRENT_TIMESTAMP, export_status = 'pending'
		WHERE id = ? AND user_id = ?`,
		e.Date.String(), e.Description, e.Amount.Cents, string(e.Category), string(e.Card), e.Notes, e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, err)
	}
	return expectOne(res, "update expense", e.ID)
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	return expectOne(res, "delete expense", id)
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID string, p core.Period) ([]core.Expense, error) {
	query := `SELECT id, user_id, date, description, amount_cents, category, card, notes
		FROM expenses WHERE user_id = ?`
	query, args := withPeriod(query, "date", p, userID)
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY date DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("list expenses: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- card bills ---

func (r *SQLiteRepository) CreateCardBill(ctx context.Context, b core.CardBill) (int64, error) {
	var id int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO card_bills (user_id, card, description, due_date, closing_date, total_cents)
			VALUES (?, ?, ?, ?, ?, ?)`,
			b.UserID, string(b.Card), b.Description, b.DueDate.String(), b.ClosingDate.String(), b.Total.Cents)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return insertDivisions(ctx, tx, id, b.Divisions)
	})
	if err != nil {
		return 0, fmt.Errorf("create card bill: %w", err)
	}

	logger(ctx).DebugContext(ctx, "Card bill saved",
		log.FieldRecordID, id,
		log.FieldUserID, b.UserID,
		log.FieldAmountCents, b.Total.Cents,
		"divisions", len(b.Divisions))
	return id, nil
}

func (r *SQLiteRepository) GetCardBill(ctx context.Context, userID string, id int64) (core.CardBill, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, card, description, due_date, closing_date, total_cents
		FROM card_bills WHERE id = ? AND user_id = ?`, id, userID)
	b, err := scanCardBill(row)
	if err != nil {
		return core.CardBill{}, fmt.Errorf("get card bill %d: %w", id, err)
	}
	if b.Divisions, err = r.divisions(ctx, id); err != nil {
		return core.CardBill{}, fmt.Errorf("get card bill %d: %w", id, err)
	}
	return b, nil
}

// UpdateCardBill replaces the bill and all of its divisions.
func (r *SQLiteRepository) UpdateCardBill(ctx context.Context, b core.CardBill) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE card_bills
			SET card = ?, description = ?, due_date = ?, closing_date = ?, total_cents = ?,
			    updated_at = CURRENT_TIMESTAMP, export_status = 'pending'
			WHERE id = ? AND user_id = ?`,
			string(b.Card), b.Description, b.DueDate.String(), b.ClosingDate.String(), b.Total.Cents, b.ID, b.UserID)
		if err != nil {
			return err
		}
		if err := expectOne(res, "update card bill", b.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM card_bill_divisions WHERE card_bill_id = ?`, b.ID); err != nil {
			return err
		}
		return insertDivisions(ctx, tx, b.ID, b.Divisions)
	})
	if err != nil {
		return fmt.Errorf("update card bill %d: %w", b.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCardBill(ctx context.Context, userID string, id int64) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM card_bills WHERE id = ? AND user_id = ?`, id, userID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM card_bill_divisions WHERE card_bill_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM card_bills WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete card bill %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) ListCardBills(ctx context.Context, userID string, p core.Period) ([]core.CardBill, error) {
	query := `SELECT id, user_id, card, description, due_date, closing_date, total_cents
		FROM card_bills WHERE user_id = ?`
	query, args := withPeriod(query, "due_date", p, userID)
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY due_date DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list card bills: %w", err)
	}

	var out []core.CardBill
	for rows.Next() {
		b, err := scanCardBill(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("list card bills: %w", err)
		}
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list card bills: %w", err)
	}

	// Divisions are loaded after the cursor is closed; the pool holds a
	// single connection.
	for i := range out {
		if out[i].Divisions, err = r.divisions(ctx, out[i].ID); err != nil {
			return nil, fmt.Errorf("list card bills: %w", err)
		}
	}
	return out, nil
}

func (r *SQLiteRepository) divisions(ctx context.Context, billID int64) ([]core.PersonDivision, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT person, amount_cents FROM card_bill_divisions
		WHERE card_bill_id = ? ORDER BY position`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.PersonDivision
	for rows.Next() {
		var d core.PersonDivision
		if err := rows.Scan(&d.Person, &d.Amount.Cents); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func insertDivisions(ctx context.Context, tx *sql.Tx, billID int64, divs []core.PersonDivision) error {
	for i, d := range divs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO card_bill_divisions (card_bill_id, position, person, amount_cents)
			VALUES (?, ?, ?, ?)`, billID, i, d.Person, d.Amount.Cents); err != nil {
			return fmt.Errorf("insert division %d: %w", i, err)
		}
	}
	return nil
}

// --- incomes ---

func (r *SQLiteRepository) CreateIncome(ctx context.Context, in core.Income) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO incomes (user_id, date, description, amount_cents, source)
		VALUES (?, ?, ?, ?, ?)`,
		in.UserID, in.Date.String(), in.Description, in.Amount.Cents, in.Source)
	if err != nil {
		return 0, fmt.Errorf("create income: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create income: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetIncome(ctx context.Context, userID string, id int64) (core.Income, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, description, amount_cents, source
		FROM incomes WHERE id = ? AND user_id = ?`, id, userID)
	in, err := scanIncome(row)
	if err != nil {
		return core.Income{}, fmt.Errorf("get income %d: %w", id, err)
	}
	return in, nil
}

// UpdateIncome replaces the income and queues it for export again.
func (r *SQLiteRepository) UpdateIncome(ctx context.Context, in core.Income) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE incomes
		SET date = ?, description = ?, amount_cents = ?, source = ?, export_status = 'pending'
		WHERE id = ? AND user_id = ?`,
		in.Date.String(), in.Description, in.Amount.Cents, in.Source, in.ID, in.UserID)
	if err != nil {
		return fmt.Errorf("update income %d: %w", in.ID, err)
	}
	return expectOne(res, "update income", in.ID)
}

func (r *SQLiteRepository) DeleteIncome(ctx context.Context, userID string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM incomes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete income %d: %w", id, err)
	}
	return expectOne(res, "delete income", id)
}

func (r *SQLiteRepository) ListIncomes(ctx context.Context, userID string, p core.Period) ([]core.Income, error) {
	query := `SELECT id, user_id, date, description, amount_cents, source FROM incomes WHERE user_id = ?`
	query, args := withPeriod(query, "date", p, userID)
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY date DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list incomes: %w", err)
	}
	defer rows.Close()

	var out []core.Income
	for rows.Next() {
		in, err := scanIncome(rows)
		if err != nil {
			return nil, fmt.Errorf("list incomes: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// --- subscriptions ---

func (r *SQLiteRepository) CreateSubscription(ctx context.Context, s core.Subscription) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, start_date, end_date, repetition, description, amount_cents, category, card)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.UserID, s.StartDate.String(), s.EndDate.String(), string(s.Every), s.Description,
		s.Amount.Cents, string(s.Category), string(s.Card))
	if err != nil {
		return 0, fmt.Errorf("create subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create subscription: %w", err)
	}
	return id, nil
}

const subscriptionColumns = `id, user_id, start_date, end_date, repetition, description, amount_cents, category, card, last_execution`

func (r *SQLiteRepository) GetSubscription(ctx context.Context, userID string, id int64) (core.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	s, err := scanSubscription(row)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("get subscription %d: %w", id, err)
	}
	return s, nil
}

// UpdateSubscription replaces the schedule and expense template. The
// last execution is kept so an edit does not fire the subscription twice.
func (r *SQLiteRepository) UpdateSubscription(ctx context.Context, s core.Subscription) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET start_date = ?, end_date = ?, repetition = ?, description = ?, amount_cents = ?, category = ?, card = ?
		WHERE id = ? AND user_id = ?`,
		s.StartDate.String(), s.EndDate.String(), string(s.Every), s.Description,
		s.Amount.Cents, string(s.Category), string(s.Card), s.ID, s.UserID)
	if err != nil {
		return fmt.Errorf("update subscription %d: %w", s.ID, err)
	}
	return expectOne(res, "update subscription", s.ID)
}

func (r *SQLiteRepository) DeleteSubscription(ctx context.Context, userID string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete subscription %d: %w", id, err)
	}
	return expectOne(res, "delete subscription", id)
}

func (r *SQLiteRepository) ListSubscriptions(ctx context.Context, userID string) ([]core.Subscription, error) {
	return r.querySubscriptions(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE user_id = ? ORDER BY start_date, id`, userID)
}

// ListActiveSubscriptions returns subscriptions of all users whose date
// range covers day.
func (r *SQLiteRepository) ListActiveSubscriptions(ctx context.Context, day core.Date) ([]core.Subscription, error) {
	d := day.String()
	return r.querySubscriptions(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE start_date <= ? AND (end_date = '' OR end_date >= ?)
		ORDER BY id`, d, d)
}

func (r *SQLiteRepository) MarkSubscriptionExecuted(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE subscriptions SET last_execution = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark subscription %d executed: %w", id, err)
	}
	return expectOne(res, "mark subscription executed", id)
}

func (r *SQLiteRepository) querySubscriptions(ctx context.Context, query string, args ...any) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []core.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- overview ---

// ReadMonthOverview aggregates one user's totals for a calendar month.
func (r *SQLiteRepository) ReadMonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error) {
	overview := core.MonthOverview{UserID: userID, Year: year, Month: month}
	p := core.Period{Year: year, Month: month}
	if err := p.Validate(); err != nil || month == 0 {
		return overview, fmt.Errorf("read month overview: %w", core.ErrInvalidDate)
	}
	from, to, _ := p.Bounds()
	lo, hi := from.String(), to.String()

	row := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(amount_cents), 0) FROM expenses   WHERE user_id = ? AND date >= ? AND date < ?),
			(SELECT COALESCE(SUM(amount_cents), 0) FROM incomes    WHERE user_id = ? AND date >= ? AND date < ?),
			(SELECT COALESCE(SUM(total_cents), 0)  FROM card_bills WHERE user_id = ? AND due_date >= ? AND due_date < ?)`,
		userID, lo, hi, userID, lo, hi, userID, lo, hi)
	if err := row.Scan(&overview.ExpenseTotal.Cents, &overview.IncomeTotal.Cents, &overview.CardBillsDue.Cents); err != nil {
		return overview, fmt.Errorf("read month totals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category, SUM(amount_cents) AS total
		FROM expenses
		WHERE user_id = ? AND date >= ? AND date < ?
		GROUP BY category
		ORDER BY total DESC, category`, userID, lo, hi)
	if err != nil {
		return overview, fmt.Errorf("read category sums: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return overview, fmt.Errorf("read category sums: %w", err)
		}
		overview.ByCategory = append(overview.ByCategory, ca)
	}
	return overview, rows.Err()
}

// --- export tracking ---

// ExportRef identifies a record waiting to be exported.
type ExportRef struct {
	Kind   core.RecordKind
	ID     int64
	UserID string
}

var exportTables = map[core.RecordKind]string{
	core.KindExpense:  "expenses",
	core.KindCardBill: "card_bills",
	core.KindIncome:   "incomes",
}

// PendingExports returns up to limit records not yet exported, oldest
// first. Records that failed before are retried after pending ones.
func (r *SQLiteRepository) PendingExports(ctx context.Context, limit int) ([]ExportRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, id, user_id FROM (
			SELECT 'expense'   AS kind, id, user_id, created_at, export_status FROM expenses   WHERE export_status != 'exported'
			UNION ALL
			SELECT 'card_bill' AS kind, id, user_id, created_at, export_status FROM card_bills WHERE export_status != 'exported'
			UNION ALL
			SELECT 'income'    AS kind, id, user_id, created_at, export_status FROM incomes    WHERE export_status != 'exported'
		)
		ORDER BY export_status = 'error', created_at, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending exports: %w", err)
	}
	defer rows.Close()

	var out []ExportRef
	for rows.Next() {
		var (
			ref  ExportRef
			kind string
		)
		if err := rows.Scan(&kind, &ref.ID, &ref.UserID); err != nil {
			return nil, fmt.Errorf("get pending exports: %w", err)
		}
		ref.Kind = core.RecordKind(kind)
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MarkExported(ctx context.Context, kind core.RecordKind, id int64) error {
	if err := r.setExportStatus(ctx, kind, id, ExportExported); err != nil {
		return err
	}
	logger(ctx).DebugContext(ctx, "Record marked as exported", log.FieldRecordKind, kind, log.FieldRecordID, id)
	return nil
}

func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, kind core.RecordKind, id int64) error {
	if err := r.setExportStatus(ctx, kind, id, ExportError); err != nil {
		return err
	}
	logger(ctx).WarnContext(ctx, "Record marked with export error", log.FieldRecordKind, kind, log.FieldRecordID, id)
	return nil
}

func (r *SQLiteRepository) setExportStatus(ctx context.Context, kind core.RecordKind, id int64, status string) error {
	table, ok := exportTables[kind]
	if !ok {
		return fmt.Errorf("set export status: unsupported kind %q", kind)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE `+table+` SET export_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set export status: %w", err)
	}
	return expectOne(res, "set export status", id)
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner) (core.Expense, error) {
	var (
		e                    core.Expense
		date, category, card string
	)
	if err := s.Scan(&e.ID, &e.UserID, &date, &e.Description, &e.Amount.Cents, &category, &card, &e.Notes); err != nil {
		return e, notFound(err)
	}
	e.Category, e.Card = core.Category(category), core.Card(card)
	return e, parseDates(&e.Date, date)
}

func scanCardBill(s scanner) (core.CardBill, error) {
	var (
		b                  core.CardBill
		card, due, closing string
	)
	if err := s.Scan(&b.ID, &b.UserID, &card, &b.Description, &due, &closing, &b.Total.Cents); err != nil {
		return b, notFound(err)
	}
	b.Card = core.Card(card)
	if err := parseDates(&b.DueDate, due); err != nil {
		return b, err
	}
	return b, parseDates(&b.ClosingDate, closing)
}

func scanIncome(s scanner) (core.Income, error) {
	var (
		in   core.Income
		date string
	)
	if err := s.Scan(&in.ID, &in.UserID, &date, &in.Description, &in.Amount.Cents, &in.Source); err != nil {
		return in, notFound(err)
	}
	return in, parseDates(&in.Date, date)
}

func scanSubscription(s scanner) (core.Subscription, error) {
	var (
		sub                               core.Subscription
		start, end, every, category, card string
		last                              sql.NullTime
	)
	if err := s.Scan(&sub.ID, &sub.UserID, &start, &end, &every, &sub.Description,
		&sub.Amount.Cents, &category, &card, &last); err != nil {
		return sub, notFound(err)
	}
	sub.Every = core.RepetitionTypes(every)
	sub.Category, sub.Card = core.Category(category), core.Card(card)
	if last.Valid {
		sub.LastExecution = last.Time
	}
	if err := parseDates(&sub.StartDate, start); err != nil {
		return sub, err
	}
	return sub, parseDates(&sub.EndDate, end)
}

// parseDates decodes a stored ISO date; an empty column leaves dst zero.
func parseDates(dst *core.Date, s string) error {
	if s == "" {
		return nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return fmt.Errorf("stored date %q: %w", s, err)
	}
	*dst = d
	return nil
}

func withPeriod(query, column string, p core.Period, userID string) (string, []any) {
	args := []any{userID}
	from, to, ok := p.Bounds()
	if !ok {
		return query, args
	}
	return query + ` AND ` + column + ` >= ? AND ` + column + ` < ?`, append(args, from.String(), to.String())
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func expectOne(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
