package ledger

import (
	"fmt"
	"log"

	"github.com/lumora-ai/lumora-golang/internal/models"
)

//
// --- Expiration Sweeper ---
//

// SweepExpiredGrants records audit entries for credit grants whose
// expires_at has passed. Balances need no correction: expired rows are
// already excluded by the balance query the moment their timestamp
// passes. The zero-credit entries written here only make the expiry
// visible in the user's transaction history.
//
// Safe to run on any schedule. Each audit row's reference is derived
// from the expired transaction's id, so re-sweeping the same grant is
// a no-op via the usual idempotency check.
func (l *Ledger) SweepExpiredGrants() {
	rows, err := l.DB.Query(`
		SELECT t.id, t.user_id, t.credits
		FROM credit_transactions t
		WHERE t.credits > 0
		  AND t.expires_at IS NOT NULL
		  AND t.expires_at <= NOW()
		  AND NOT EXISTS (
			SELECT 1 FROM credit_transactions a
			WHERE a.user_id = t.user_id
			  AND a.external_reference = CONCAT('expire:', t.id)
		  )
		LIMIT 500`)
	if err != nil {
		log.Printf("ERROR: expiration sweep query failed: %v", err)
		return
	}
	defer rows.Close()

	type expiredGrant struct {
		txID    int64
		userID  int64
		credits int64
	}

	var expired []expiredGrant
	for rows.Next() {
		var g expiredGrant
		if err := rows.Scan(&g.txID, &g.userID, &g.credits); err != nil {
			log.Printf("ERROR: expiration sweep scan failed: %v", err)
			return
		}
		expired = append(expired, g)
	}
	if err := rows.Err(); err != nil {
		log.Printf("ERROR: expiration sweep rows failed: %v", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	swept := 0
	for _, g := range expired {
		description := fmt.Sprintf("%d credits expired", g.credits)
		ref := fmt.Sprintf("expire:%d", g.txID)
		if _, err := l.ApplyDelta(g.userID, models.CreditTypeExpiration, 0, description, ref, nil); err != nil {
			log.Printf("ERROR: failed to record expiry of transaction %d: %v", g.txID, err)
			continue
		}
		swept++
	}

	log.Printf("Expiration sweep: recorded %d of %d expired grants", swept, len(expired))
}
