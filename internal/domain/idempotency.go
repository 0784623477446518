// Package domain – Idempotency record.
package domain

import "time"

// Idempotency records the outcome of a previously processed item-creation
// request, keyed by (user_id, key). It lets a client safely retry
// POST /items: a replayed key returns the originally created item without
// re-running side effects (transaction, jobs, events).
type Idempotency struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	UserID    UserID    `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_user_key,priority:1"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_user_key,priority:2"`
	ItemID    ItemID    `gorm:"type:char(36);not null"`
	Status    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
