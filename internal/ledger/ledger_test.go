package ledger

import (
	"testing"
	"time"

	"github.com/lumora-ai/lumora-golang/internal/models"
)

func TestMonthStartUTC(t *testing.T) {
	t.Run("mid-month", func(t *testing.T) {
		in := time.Date(2025, time.March, 17, 15, 42, 9, 0, time.UTC)
		got := MonthStartUTC(in)
		want := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Fatalf("MonthStartUTC = %v, want %v", got, want)
		}
	})

	t.Run("first instant of month is a fixed point", func(t *testing.T) {
		in := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
		if got := MonthStartUTC(in); !got.Equal(in) {
			t.Fatalf("MonthStartUTC = %v, want %v", got, in)
		}
	})

	t.Run("non-UTC input normalizes to UTC boundary", func(t *testing.T) {
		loc := time.FixedZone("UTC+8", 8*3600)
		// 03:00 on Feb 1 in UTC+8 is still Jan 31 in UTC.
		in := time.Date(2025, time.February, 1, 3, 0, 0, 0, loc)
		want := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
		if got := MonthStartUTC(in); !got.Equal(want) {
			t.Fatalf("MonthStartUTC = %v, want %v", got, want)
		}
	})
}

func TestValidDeltaType(t *testing.T) {
	valid := []string{
		models.CreditTypePurchase,
		models.CreditTypeUsage,
		models.CreditTypeExpiration,
		models.CreditTypeAdminGrant,
	}
	for _, txType := range valid {
		if !validDeltaType(txType) {
			t.Fatalf("validDeltaType(%q) = false, want true", txType)
		}
	}

	for _, txType := range []string{"", "refund", "PURCHASE", "topup"} {
		if validDeltaType(txType) {
			t.Fatalf("validDeltaType(%q) = true, want false", txType)
		}
	}
}
