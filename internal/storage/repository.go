package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"offsetledger/internal/core"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

var (
	ErrNotFound     = errors.New("transaction not found")
	ErrAlreadySplit = errors.New("transaction already split")
	ErrIsFragment   = errors.New("transaction is a split fragment")
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
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

const transactionColumns = `id, date, description, amount_cents, category, label, closing_balance_cents, has_split, split_from_id`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t        core.Transaction
		dateStr  string
		label    sql.NullString
		balance  sql.NullInt64
		fromID   sql.NullInt64
		hasSplit int64
	)
	err := row.Scan(&t.ID, &dateStr, &t.Description, &t.Amount.Cents, &t.Category, &label, &balance, &hasSplit, &fromID)
	if err != nil {
		return t, err
	}

	t.Date, err = time.Parse(dateLayout, dateStr)
	if err != nil {
		return t, fmt.Errorf("parse transaction date %q: %w", dateStr, err)
	}
	if label.Valid {
		t.Label = &label.String
	}
	if balance.Valid {
		t.ClosingBalance = &core.Money{Cents: balance.Int64}
	}
	if fromID.Valid {
		t.SplitFromID = &fromID.Int64
	}
	t.HasSplit = hasSplit != 0
	return t, nil
}

func nullLabel(label *string) sql.NullString {
	if label == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *label, Valid: true}
}

func nullBalance(balance *core.Money) sql.NullInt64 {
	if balance == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: balance.Cents, Valid: true}
}

// ListTransactions returns every ledger row, newest dates first so the
// default view needs no extra sort.
func (r *SQLiteRepository) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM offset_transactions ORDER BY date DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM offset_transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return t, nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO offset_transactions (date, description, amount_cents, category, label, closing_balance_cents, has_split, split_from_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Date.Format(dateLayout), t.Description, t.Amount.Cents, t.Category,
		nullLabel(t.Label), nullBalance(t.ClosingBalance), boolToInt(t.HasSplit), t.SplitFromID)
	if err != nil {
		return t, fmt.Errorf("create transaction: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return t, fmt.Errorf("create transaction id: %w", err)
	}
	return t, nil
}

// UpdateTransactionFields updates the user-editable fields. Feed fields
// (closing balance) and split bookkeeping are not touched here.
func (r *SQLiteRepository) UpdateTransactionFields(ctx context.Context, id int64, date time.Time, description string, amount core.Money, category string) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE offset_transactions
		 SET date = ?, description = ?, amount_cents = ?, category = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		date.Format(dateLayout), description, amount.Cents, category, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", id, err)
	}
	if n == 0 {
		return core.Transaction{}, ErrNotFound
	}
	return r.GetTransaction(ctx, id)
}

// CommitSplit rewrites the original row's amount to the remainder,
// marks it split, and inserts the fragments, all in one transaction.
// Fragments and already-split rows cannot be split again.
func (r *SQLiteRepository) CommitSplit(ctx context.Context, originalID int64, remaining core.Money, fragments []core.Transaction) ([]core.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin split: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT has_split, split_from_id FROM offset_transactions WHERE id = ?`, originalID)
	var (
		hasSplit int64
		fromID   sql.NullInt64
	)
	if err := row.Scan(&hasSplit, &fromID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load split target %d: %w", originalID, err)
	}
	if hasSplit != 0 {
		return nil, ErrAlreadySplit
	}
	if fromID.Valid {
		return nil, ErrIsFragment
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE offset_transactions SET amount_cents = ?, has_split = 1, updated_at = datetime('now') WHERE id = ?`,
		remaining.Cents, originalID); err != nil {
		return nil, fmt.Errorf("update split original %d: %w", originalID, err)
	}

	created := make([]core.Transaction, 0, len(fragments))
	for _, f := range fragments {
		f.SplitFromID = &originalID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO offset_transactions (date, description, amount_cents, category, split_from_id)
			 VALUES (?, ?, ?, ?, ?)`,
			f.Date.Format(dateLayout), f.Description, f.Amount.Cents, f.Category, originalID)
		if err != nil {
			return nil, fmt.Errorf("insert split fragment: %w", err)
		}
		f.ID, err = res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert split fragment id: %w", err)
		}
		created = append(created, f)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit split: %w", err)
	}
	return created, nil
}

// ListCategories returns the distinct non-blank category names in
// first-seen order by id.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category FROM offset_transactions
		 WHERE TRIM(category) != ''
		 GROUP BY category ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, display_name, is_active FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []core.User
	for rows.Next() {
		var (
			u      core.User
			active int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &active); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.IsActive = active != 0
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// GetAllocations returns the split allocations for one transaction,
// joined to user display names.
func (r *SQLiteRepository) GetAllocations(ctx context.Context, transactionID int64) ([]core.SplitAllocation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.user_id, u.display_name, a.amount_cents, a.split_type, a.percentage
		 FROM split_allocations a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.transaction_id = ?
		 ORDER BY a.id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get allocations for %d: %w", transactionID, err)
	}
	defer rows.Close()
	return scanAllocations(rows)
}

// ListAllAllocations returns every allocation grouped by transaction id.
// The label resolver wants the full map in one round trip.
func (r *SQLiteRepository) ListAllAllocations(ctx context.Context) (map[int64][]core.SplitAllocation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.transaction_id, a.user_id, u.display_name, a.amount_cents, a.split_type, a.percentage
		 FROM split_allocations a
		 JOIN users u ON u.id = a.user_id
		 ORDER BY a.transaction_id, a.id`)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]core.SplitAllocation)
	for rows.Next() {
		var (
			txID int64
			a    core.SplitAllocation
			pct  sql.NullFloat64
		)
		if err := rows.Scan(&txID, &a.UserID, &a.DisplayName, &a.Amount.Cents, &a.SplitType, &pct); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		if pct.Valid {
			a.Percentage = &pct.Float64
		}
		out[txID] = append(out[txID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return out, nil
}

// ReplaceAllocations swaps the full allocation set for a transaction.
func (r *SQLiteRepository) ReplaceAllocations(ctx context.Context, transactionID int64, allocations []core.SplitAllocation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin allocation replace: %w", err)
	}
	defer tx.Rollback()

	var exists int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM offset_transactions WHERE id = ?`, transactionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check transaction %d: %w", transactionID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM split_allocations WHERE transaction_id = ?`, transactionID); err != nil {
		return fmt.Errorf("clear allocations for %d: %w", transactionID, err)
	}

	for _, a := range allocations {
		var pct sql.NullFloat64
		if a.Percentage != nil {
			pct = sql.NullFloat64{Float64: *a.Percentage, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO split_allocations (transaction_id, user_id, amount_cents, split_type, percentage)
			 VALUES (?, ?, ?, ?, ?)`,
			transactionID, a.UserID, a.Amount.Cents, string(a.SplitType), pct); err != nil {
			return fmt.Errorf("insert allocation for %d: %w", transactionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit allocation replace: %w", err)
	}
	return nil
}

// DeleteAllocations removes a transaction's split configuration.
func (r *SQLiteRepository) DeleteAllocations(ctx context.Context, transactionID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM split_allocations WHERE transaction_id = ?`, transactionID)
	if err != nil {
		return fmt.Errorf("delete allocations for %d: %w", transactionID, err)
	}
	return nil
}

// UpsertFromFeed inserts a feed row keyed on the bank's id, or updates
// the volatile fields of an existing one. Local edits to amount,
// category, label, and split state survive replays.
func (r *SQLiteRepository) UpsertFromFeed(ctx context.Context, feedID string, t core.Transaction) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE offset_transactions
		 SET date = ?, description = ?, closing_balance_cents = ?, updated_at = datetime('now')
		 WHERE feed_id = ?`,
		t.Date.Format(dateLayout), t.Description, nullBalance(t.ClosingBalance), feedID)
	if err != nil {
		return false, fmt.Errorf("update feed transaction %s: %w", feedID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update feed transaction %s: %w", feedID, err)
	}
	if n > 0 {
		return false, nil
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO offset_transactions (date, description, amount_cents, category, closing_balance_cents, feed_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.Date.Format(dateLayout), t.Description, t.Amount.Cents, t.Category, nullBalance(t.ClosingBalance), feedID)
	if err != nil {
		return false, fmt.Errorf("insert feed transaction %s: %w", feedID, err)
	}
	return true, nil
}

func scanAllocations(rows *sql.Rows) ([]core.SplitAllocation, error) {
	var out []core.SplitAllocation
	for rows.Next() {
		var (
			a   core.SplitAllocation
			pct sql.NullFloat64
		)
		if err := rows.Scan(&a.UserID, &a.DisplayName, &a.Amount.Cents, &a.SplitType, &pct); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		if pct.Valid {
			a.Percentage = &pct.Float64
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
