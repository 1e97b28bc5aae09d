package models

import (
	"database/sql"
	"time"
)

// Notification kinds. Admin notifications (user_id NULL) carry the
// "needs manual processing" markers from billing: a ledger write that
// took the unlocked fallback path, or a failed partner transfer.
const (
	NotificationKindGeneral          = "general"
	NotificationKindManualProcessing = "manual_processing"
	NotificationKindTransferFailed   = "transfer_failed"
)

// Notification is the model for the 'notifications' table
type Notification struct {
	ID        int64          `json:"id" db:"id"`
	UserID    sql.NullInt64  `json:"userId,omitempty" db:"user_id"` // NULL = admin-facing
	Kind      string         `json:"kind" db:"kind"`
	Message   string         `json:"message" db:"message"`
	Link      sql.NullString `json:"link,omitempty" db:"link"`
	IsRead    bool           `json:"isRead" db:"is_read"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}
