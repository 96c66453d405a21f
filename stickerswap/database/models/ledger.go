package models

import (
	"time"

	"github.com/uptrace/bun"
)

// OfferEntry is one sticker instance a party proposes to give away in a
// session. A duplicate (session, party, instance) add is an idempotent no-op,
// enforced by the unique index.
type OfferEntry struct {
	bun.BaseModel `bun:"table:offer_entries,alias:oe"`

	ID         int64     `bun:"id,pk,autoincrement" json:"-"`
	SessionID  string    `bun:"session_id,notnull" json:"session_id"`
	OwnerParty string    `bun:"owner_party,notnull" json:"owner_party"`
	InstanceID int64     `bun:"instance_id,notnull" json:"instance_id"`
	Quantity   int64     `bun:"quantity,notnull,default:1" json:"quantity"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// RequestEntry names a specific instance currently owned by the counterparty
// that the requesting party asks for. Mailbox sessions only.
type RequestEntry struct {
	bun.BaseModel `bun:"table:request_entries,alias:re"`

	ID              int64     `bun:"id,pk,autoincrement" json:"-"`
	SessionID       string    `bun:"session_id,notnull" json:"session_id"`
	RequestingParty string    `bun:"requesting_party,notnull" json:"requesting_party"`
	InstanceID      int64     `bun:"instance_id,notnull" json:"instance_id"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
