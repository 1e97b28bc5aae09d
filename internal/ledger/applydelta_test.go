package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/lumora-ai/lumora-golang/internal/models"
)

//
// --- Scripted SQL Driver ---
//

// scriptedDB is a minimal database/sql backend driven by two callbacks,
// so ledger writes can run against programmable query results without a
// MySQL server.
type scriptedDB struct {
	onExec  func(query string, args []driver.Value) (driver.Result, error)
	onQuery func(query string, args []driver.Value) (driver.Rows, error)
}

type scriptedDriver struct{}

var (
	scriptedMu  sync.Mutex
	scriptedDBs = map[string]*scriptedDB{}
	scriptedSeq int
)

func init() { sql.Register("ledger-scripted", scriptedDriver{}) }

func (scriptedDriver) Open(name string) (driver.Conn, error) {
	scriptedMu.Lock()
	defer scriptedMu.Unlock()
	s, ok := scriptedDBs[name]
	if !ok {
		return nil, fmt.Errorf("unknown scripted database %q", name)
	}
	return &scriptedConn{db: s}, nil
}

func openScripted(t *testing.T, s *scriptedDB) *sql.DB {
	t.Helper()
	scriptedMu.Lock()
	scriptedSeq++
	name := fmt.Sprintf("scripted-%d", scriptedSeq)
	scriptedDBs[name] = s
	scriptedMu.Unlock()

	db, err := sql.Open("ledger-scripted", name)
	if err != nil {
		t.Fatalf("failed to open scripted database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type scriptedConn struct{ db *scriptedDB }

func (c *scriptedConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not scripted")
}
func (c *scriptedConn) Close() error              { return nil }
func (c *scriptedConn) Begin() (driver.Tx, error) { return scriptedTx{}, nil }

func (c *scriptedConn) ExecContext(_ context.Context, query string, named []driver.NamedValue) (driver.Result, error) {
	if c.db.onExec == nil {
		return scriptedResult{}, nil
	}
	return c.db.onExec(query, namedValues(named))
}

func (c *scriptedConn) QueryContext(_ context.Context, query string, named []driver.NamedValue) (driver.Rows, error) {
	if c.db.onQuery == nil {
		return emptyRows(), nil
	}
	return c.db.onQuery(query, namedValues(named))
}

func namedValues(named []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(named))
	for i, nv := range named {
		out[i] = nv.Value
	}
	return out
}

type scriptedTx struct{}

func (scriptedTx) Commit() error   { return nil }
func (scriptedTx) Rollback() error { return nil }

type scriptedResult struct{ lastID, affected int64 }

func (r scriptedResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r scriptedResult) RowsAffected() (int64, error) { return r.affected, nil }

type scriptedRows struct {
	cols []string
	data [][]driver.Value
	pos  int
}

func (r *scriptedRows) Columns() []string { return r.cols }
func (r *scriptedRows) Close() error      { return nil }
func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func oneRow(cols []string, vals ...driver.Value) driver.Rows {
	return &scriptedRows{cols: cols, data: [][]driver.Value{vals}}
}

func emptyRows() driver.Rows { return &scriptedRows{} }

//
// --- ApplyDelta Tests ---
//

// A second delta carrying an already-recorded external reference must
// return the existing transaction id and write nothing.
func TestApplyDeltaReturnsExistingForDuplicateReference(t *testing.T) {
	inserts := 0

	s := &scriptedDB{}
	s.onQuery = func(query string, args []driver.Value) (driver.Rows, error) {
		if strings.Contains(query, "external_reference") {
			return oneRow([]string{"id"}, int64(42)), nil
		}
		t.Fatalf("unexpected query after idempotency hit: %s", query)
		return nil, nil
	}
	s.onExec = func(query string, args []driver.Value) (driver.Result, error) {
		if strings.Contains(query, "INSERT INTO credit_transactions") {
			inserts++
		}
		return scriptedResult{}, nil
	}

	l := New(openScripted(t, s))
	id, err := l.ApplyDelta(7, models.CreditTypePurchase, 800, "One-time purchase", "cs_dup_1", nil)
	if err != nil {
		t.Fatalf("ApplyDelta on duplicate reference errored: %v", err)
	}
	if id != 42 {
		t.Fatalf("ApplyDelta returned id %d, want the existing transaction 42", id)
	}
	if inserts != 0 {
		t.Fatalf("duplicate reference inserted %d rows, want 0", inserts)
	}
}

// A fresh delta locks the user row, sums the live balance, and snapshots
// balance + delta into the new row's balance_after.
func TestApplyDeltaWritesBalanceSnapshot(t *testing.T) {
	var insertArgs []driver.Value
	var balanceQuery string

	s := &scriptedDB{}
	s.onQuery = func(query string, args []driver.Value) (driver.Rows, error) {
		switch {
		case strings.Contains(query, "external_reference"):
			return emptyRows(), nil // no prior transaction
		case strings.Contains(query, "FOR UPDATE"):
			return oneRow([]string{"id"}, int64(7)), nil
		case strings.Contains(query, "SUM(credits)"):
			balanceQuery = query
			return oneRow([]string{"sum"}, int64(120)), nil
		}
		t.Fatalf("unexpected query: %s", query)
		return nil, nil
	}
	s.onExec = func(query string, args []driver.Value) (driver.Result, error) {
		if strings.Contains(query, "INSERT INTO credit_transactions") {
			insertArgs = args
			return scriptedResult{lastID: 99, affected: 1}, nil
		}
		return scriptedResult{}, nil
	}

	l := New(openScripted(t, s))
	id, err := l.ApplyDelta(7, models.CreditTypeUsage, -20, "Generation with flux-dev", "gen:abc", nil)
	if err != nil {
		t.Fatalf("ApplyDelta errored: %v", err)
	}
	if id != 99 {
		t.Fatalf("ApplyDelta returned id %d, want 99", id)
	}

	if len(insertArgs) < 4 {
		t.Fatalf("insert captured %d args, want at least 4", len(insertArgs))
	}
	if got := insertArgs[3]; got != int64(100) {
		t.Fatalf("balance_after = %v, want 100 (live sum 120 + delta -20)", got)
	}

	// The balance the snapshot is based on must exclude expired grants.
	if !strings.Contains(balanceQuery, "expires_at IS NULL OR expires_at > NOW()") {
		t.Fatalf("balance query does not filter expired entries: %s", balanceQuery)
	}
}

// SUM over zero rows comes back NULL; the balance is zero, not an error.
func TestGetBalanceTreatsNullSumAsZero(t *testing.T) {
	s := &scriptedDB{}
	s.onQuery = func(query string, args []driver.Value) (driver.Rows, error) {
		return oneRow([]string{"sum"}, nil), nil
	}

	db := openScripted(t, s)
	l := New(db)
	balance, err := l.GetBalance(db, 7)
	if err != nil {
		t.Fatalf("GetBalance errored: %v", err)
	}
	if balance != 0 {
		t.Fatalf("GetBalance = %d, want 0 for a user with no transactions", balance)
	}
}
