package billing

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
)

//
// --- Scripted SQL Driver ---
//

// scriptedDB is a minimal database/sql backend driven by two callbacks,
// so webhook flows can run against programmable query results without a
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

func init() { sql.Register("billing-scripted", scriptedDriver{}) }

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

	db, err := sql.Open("billing-scripted", name)
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
// --- Webhook Redelivery Tests ---
//

// A failed processing attempt must leave the event eligible for
// Stripe's retry: only a successful attempt stamps processed_at, and
// only a stamped event is skipped as a duplicate.
func TestHandleEventRetryAfterFailure(t *testing.T) {
	recorded := false
	processed := false
	subscriptionUpdates := 0

	s := &scriptedDB{}
	s.onExec = func(query string, args []driver.Value) (driver.Result, error) {
		switch {
		case strings.Contains(query, "INSERT IGNORE INTO webhook_events"):
			if recorded {
				return scriptedResult{affected: 0}, nil
			}
			recorded = true
			return scriptedResult{affected: 1}, nil
		case strings.Contains(query, "UPDATE subscriptions"):
			subscriptionUpdates++
			if subscriptionUpdates == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return scriptedResult{affected: 1}, nil
		case strings.Contains(query, "UPDATE webhook_events"):
			processed = true
			return scriptedResult{affected: 1}, nil
		}
		return scriptedResult{}, nil
	}
	s.onQuery = func(query string, args []driver.Value) (driver.Rows, error) {
		if strings.Contains(query, "SELECT processed_at") {
			if processed {
				return oneRow([]string{"processed_at"}, time.Now()), nil
			}
			return oneRow([]string{"processed_at"}, nil), nil
		}
		return emptyRows(), nil
	}

	r := &Reconciler{DB: openScripted(t, s)}
	event := stripe.Event{
		ID:   "evt_redelivery_1",
		Type: "invoice.payment_failed",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"in_1","subscription":{"id":"sub_1"}}`)},
	}

	if err := r.HandleEvent(event); err == nil {
		t.Fatalf("first delivery should surface the processing error")
	}
	if processed {
		t.Fatalf("failed attempt must not mark the event processed")
	}

	if err := r.HandleEvent(event); err != nil {
		t.Fatalf("retry of an unprocessed event failed: %v", err)
	}
	if subscriptionUpdates != 2 {
		t.Fatalf("subscriptions updated %d times across delivery and retry, want 2", subscriptionUpdates)
	}
	if !processed {
		t.Fatalf("successful retry must mark the event processed")
	}

	if err := r.HandleEvent(event); err != nil {
		t.Fatalf("redelivery of a processed event errored: %v", err)
	}
	if subscriptionUpdates != 2 {
		t.Fatalf("processed event ran again: %d subscription updates, want 2", subscriptionUpdates)
	}
}
