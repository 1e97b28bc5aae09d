package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lumora-ai/lumora-golang/internal/models"
)

//
// --- Credit Ledger Core ---
//

// Querier defines a common interface for QueryRow,
// which is implemented by both *sql.DB and *sql.Tx.
// This allows our balance helper to be used in or out of a transaction.
type Querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Ledger owns all writes to the 'credit_transactions' table.
// Consumers read balances through it; nothing else inserts rows.
type Ledger struct {
	DB *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{DB: db}
}

// mysqlDuplicateEntry is the MySQL error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// GetBalance calculates a user's current credit balance: the live sum of
// all non-expired signed entries. The balance_after column on individual
// rows is a display cache only and is never trusted here, so the result
// is correct even when rows were inserted out of order.
func (l *Ledger) GetBalance(q Querier, userID int64) (int64, error) {
	var balance sql.NullInt64 // NULL when the user has no transactions

	query := `
		SELECT SUM(credits) FROM credit_transactions
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > NOW())`

	err := q.QueryRow(query, userID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}

	if !balance.Valid {
		return 0, nil // SUM over zero rows is NULL, treat as 0
	}

	return balance.Int64, nil
}

// ApplyDelta records a signed credit change for a user and returns the
// new transaction's id.
//
// The primary path runs inside a transaction that locks the user's row,
// so concurrent deltas for the same user serialize instead of losing
// updates. When externalRef is non-empty it acts as an idempotency key:
// a second call with the same reference returns the existing row's id
// without crediting again.
//
// If a transaction cannot be started at all, we fall back to an
// unlocked client-computed insert. That path is racy under concurrent
// writers for the same user; it is logged and flagged for manual review
// rather than treated as safe.
func (l *Ledger) ApplyDelta(userID int64, txType string, credits int64, description, externalRef string, expiresAt *time.Time) (int64, error) {
	if !validDeltaType(txType) {
		return 0, fmt.Errorf("unknown credit transaction type %q", txType)
	}

	tx, err := l.DB.Begin()
	if err != nil {
		log.Printf("WARNING: ledger falling back to unlocked insert for user %d: %v", userID, err)
		return l.applyDeltaUnlocked(userID, txType, credits, description, externalRef, expiresAt)
	}
	defer tx.Rollback()

	// 1. --- Idempotency Check ---
	if externalRef != "" {
		var existingID int64
		err := tx.QueryRow(
			"SELECT id FROM credit_transactions WHERE user_id = ? AND external_reference = ?",
			userID, externalRef,
		).Scan(&existingID)
		if err == nil {
			// Duplicate purchase reference: not an error, just skip.
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("failed to check external reference: %w", err)
		}
	}

	// 2. --- Serialize Writers for This User ---
	// Locking the user row makes the balance-then-insert sequence atomic
	// against concurrent deltas for the same user.
	var lockedID int64
	if err := tx.QueryRow("SELECT id FROM users WHERE id = ? FOR UPDATE", userID).Scan(&lockedID); err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("user %d not found", userID)
		}
		return 0, fmt.Errorf("failed to lock user row: %w", err)
	}

	// 3. --- Compute Fresh Balance ---
	balance, err := l.GetBalance(tx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for update: %w", err)
	}

	// 4. --- Insert the Transaction ---
	id, err := insertTransaction(tx, userID, txType, credits, balance+credits, description, externalRef, expiresAt)
	if err != nil {
		// The unique (user_id, external_reference) index backs up the
		// idempotency check under concurrent deliveries.
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry && externalRef != "" {
			var existingID int64
			if scanErr := l.DB.QueryRow(
				"SELECT id FROM credit_transactions WHERE user_id = ? AND external_reference = ?",
				userID, externalRef,
			).Scan(&existingID); scanErr == nil {
				return existingID, nil
			}
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit credit transaction: %w", err)
	}

	return id, nil
}

// applyDeltaUnlocked is the degraded path: balance is computed on the
// client and the insert is not serialized against concurrent writers.
// Known consistency gap; every use is flagged for manual review so
// credits are never silently lost.
func (l *Ledger) applyDeltaUnlocked(userID int64, txType string, credits int64, description, externalRef string, expiresAt *time.Time) (int64, error) {
	if externalRef != "" {
		var existingID int64
		err := l.DB.QueryRow(
			"SELECT id FROM credit_transactions WHERE user_id = ? AND external_reference = ?",
			userID, externalRef,
		).Scan(&existingID)
		if err == nil {
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("failed to check external reference: %w", err)
		}
	}

	balance, err := l.GetBalance(l.DB, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance (unlocked): %w", err)
	}

	id, err := insertTransaction(l.DB, userID, txType, credits, balance+credits, description, externalRef, expiresAt)
	if err != nil {
		l.flagForManualReview(userID, txType, credits, externalRef, err)
		return 0, fmt.Errorf("ledger fallback insert failed, needs manual processing: %w", err)
	}

	log.Printf("WARNING: ledger applied unlocked delta for user %d (type=%s credits=%d ref=%s); balance may be stale under concurrency",
		userID, txType, credits, externalRef)
	return id, nil
}

// execer matches Exec on both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertTransaction(e execer, userID int64, txType string, credits, balanceAfter int64, description, externalRef string, expiresAt *time.Time) (int64, error) {
	var ref sql.NullString
	if externalRef != "" {
		ref = sql.NullString{String: externalRef, Valid: true}
	}

	query := `
		INSERT INTO credit_transactions
		(user_id, type, credits, balance_after, description, external_reference, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := e.Exec(query, userID, txType, credits, balanceAfter, description, ref, expiresAt, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	return result.LastInsertId()
}

// flagForManualReview records an admin notification when the fallback
// path fails outright. Best effort: a failure here only logs.
func (l *Ledger) flagForManualReview(userID int64, txType string, credits int64, externalRef string, cause error) {
	message := fmt.Sprintf(
		"NEEDS MANUAL PROCESSING: credit delta lost for user %d (type=%s credits=%d ref=%s): %v",
		userID, txType, credits, externalRef, cause)
	log.Printf("ERROR: %s", message)

	_, err := l.DB.Exec(
		"INSERT INTO notifications (user_id, kind, message, is_read, created_at) VALUES (NULL, ?, ?, false, ?)",
		models.NotificationKindManualProcessing, message, time.Now())
	if err != nil {
		log.Printf("ERROR: failed to record manual-processing notification: %v", err)
	}
}

// GetUsageThisPeriod sums the credits consumed by usage-type entries
// since the period boundary, returned as a positive number. Used for
// quota display and the soft pre-check on new generations.
func (l *Ledger) GetUsageThisPeriod(userID int64, periodStart time.Time) (int64, error) {
	var used sql.NullInt64

	query := `
		SELECT SUM(-credits) FROM credit_transactions
		WHERE user_id = ? AND type = ? AND created_at >= ?`

	err := l.DB.QueryRow(query, userID, models.CreditTypeUsage, periodStart).Scan(&used)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	if !used.Valid || used.Int64 < 0 {
		return 0, nil
	}
	return used.Int64, nil
}

// GetHistory returns a user's most recent transactions, newest first.
func (l *Ledger) GetHistory(userID int64, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, user_id, type, credits, balance_after, description, external_reference, expires_at, created_at
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := l.DB.Query(query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*models.CreditTransaction
	for rows.Next() {
		var txn models.CreditTransaction
		if err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&txn.Type,
			&txn.Credits,
			&txn.BalanceAfter,
			&txn.Description,
			&txn.ExternalReference,
			&txn.ExpiresAt,
			&txn.CreatedAt,
		); err != nil {
			return nil, err
		}
		history = append(history, &txn)
	}
	return history, rows.Err()
}

// MonthStartUTC returns the first instant of t's calendar month in UTC.
// This is the usage-period boundary for monthly quotas.
func MonthStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func validDeltaType(txType string) bool {
	switch txType {
	case models.CreditTypePurchase, models.CreditTypeUsage,
		models.CreditTypeExpiration, models.CreditTypeAdminGrant:
		return true
	}
	return false
}
