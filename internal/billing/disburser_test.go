package billing

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stripe/stripe-go/v79"
)

// testDB returns a pool that is never successfully dialed. Audit writes
// through it fail and are swallowed by design, which is exactly the
// best-effort behavior the disburser promises.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", "test:test@tcp(127.0.0.1:1)/lumora_test")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProcessingFeeCents(t *testing.T) {
	// $100.00 gross: 2.9% is $2.90, plus the 30 cent fixed fee.
	if got := ProcessingFeeCents(10000); got != 320 {
		t.Fatalf("ProcessingFeeCents(10000) = %d, want 320", got)
	}
	if got := ProcessingFeeCents(0); got != 30 {
		t.Fatalf("ProcessingFeeCents(0) = %d, want 30", got)
	}
}

func TestComputeShares(t *testing.T) {
	cfg := Config{PartnerAAccountID: "acct_A", PartnerBAccountID: "acct_B"}

	// Net of the $100 invoice: 10000 - 320 = 9680 cents.
	shares := ComputeShares(9680, cfg)
	if len(shares) != 3 {
		t.Fatalf("ComputeShares returned %d shares, want 3", len(shares))
	}

	if shares[0].Account != "acct_A" || shares[0].AmountCents != 4452 {
		t.Fatalf("partner A share = %s/%d, want acct_A/4452", shares[0].Account, shares[0].AmountCents)
	}
	if shares[1].Account != "acct_B" || shares[1].AmountCents != 4452 {
		t.Fatalf("partner B share = %s/%d, want acct_B/4452", shares[1].Account, shares[1].AmountCents)
	}
	if !shares[2].Retained || shares[2].AmountCents != 774 {
		t.Fatalf("platform share = retained=%v/%d, want retained/774", shares[2].Retained, shares[2].AmountCents)
	}

	// Floor division must never overshoot the net amount.
	var sum int64
	for _, s := range shares {
		sum += s.AmountCents
	}
	if sum > 9680 {
		t.Fatalf("share sum %d exceeds net 9680", sum)
	}
}

func TestDisburseInvoicePartialFailureIsolation(t *testing.T) {
	cfg := Config{
		PartnerAAccountID: "acct_A",
		PartnerBAccountID: "acct_B",
		SplitEnabled:      true,
	}

	var attempted []string
	d := &Disburser{
		DB:     testDB(t),
		Config: cfg,
		CreateTransfer: func(params *stripe.TransferParams) (*stripe.Transfer, error) {
			dest := *params.Destination
			attempted = append(attempted, dest)
			if dest == "acct_A" {
				return nil, errors.New("transfers not allowed for this account region")
			}
			return &stripe.Transfer{ID: "tr_ok"}, nil
		},
	}

	err := d.DisburseInvoice("in_123", "sub_123", 10000, "usd")
	if err != nil {
		t.Fatalf("DisburseInvoice error = %v, want nil (one transfer succeeded)", err)
	}

	// The failure for A must not have aborted B.
	if len(attempted) != 2 || attempted[0] != "acct_A" || attempted[1] != "acct_B" {
		t.Fatalf("attempted transfers = %v, want [acct_A acct_B]", attempted)
	}
}

func TestDisburseInvoiceAllTransfersFailed(t *testing.T) {
	cfg := Config{
		PartnerAAccountID: "acct_A",
		PartnerBAccountID: "acct_B",
		SplitEnabled:      true,
	}

	d := &Disburser{
		DB:     testDB(t),
		Config: cfg,
		CreateTransfer: func(params *stripe.TransferParams) (*stripe.Transfer, error) {
			return nil, errors.New("account cannot receive transfers")
		},
	}

	if err := d.DisburseInvoice("in_456", "sub_456", 10000, "usd"); err == nil {
		t.Fatalf("DisburseInvoice should report failure when no transfer succeeded")
	}
}

func TestDisburseInvoiceRespectsFeatureFlagAndDryRun(t *testing.T) {
	t.Run("disabled flag skips everything", func(t *testing.T) {
		d := &Disburser{
			DB:     testDB(t),
			Config: Config{SplitEnabled: false},
			CreateTransfer: func(params *stripe.TransferParams) (*stripe.Transfer, error) {
				t.Fatalf("transfer attempted while split payments disabled")
				return nil, nil
			},
		}
		if err := d.DisburseInvoice("in_789", "sub_789", 10000, "usd"); err != nil {
			t.Fatalf("DisburseInvoice error = %v, want nil", err)
		}
	})

	t.Run("dry run never calls stripe", func(t *testing.T) {
		d := &Disburser{
			DB: testDB(t),
			Config: Config{
				PartnerAAccountID: "acct_A",
				PartnerBAccountID: "acct_B",
				SplitEnabled:      true,
				SplitDryRun:       true,
			},
			CreateTransfer: func(params *stripe.TransferParams) (*stripe.Transfer, error) {
				t.Fatalf("transfer attempted in dry-run mode")
				return nil, nil
			},
		}
		if err := d.DisburseInvoice("in_789", "sub_789", 10000, "usd"); err != nil {
			t.Fatalf("DisburseInvoice error = %v, want nil", err)
		}
	})
}

func TestDisburseInvoiceSkipsUncoveredGross(t *testing.T) {
	d := &Disburser{
		DB:     testDB(t),
		Config: Config{SplitEnabled: true, PartnerAAccountID: "acct_A", PartnerBAccountID: "acct_B"},
		CreateTransfer: func(params *stripe.TransferParams) (*stripe.Transfer, error) {
			t.Fatalf("transfer attempted for an amount below the processing fee")
			return nil, nil
		},
	}
	// 25 cents gross is below the 2.9% + 30c fee.
	if err := d.DisburseInvoice("in_tiny", "", 25, "usd"); err != nil {
		t.Fatalf("DisburseInvoice error = %v, want nil", err)
	}
}
