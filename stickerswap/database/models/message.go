package models

import (
	"time"

	"github.com/uptrace/bun"
)

type MessageType string

const (
	MessagePreset      MessageType = "preset"
	MessageSystem      MessageType = "system"
	MessageItemAdded   MessageType = "item-added"
	MessageItemRemoved MessageType = "item-removed"
)

// Message is ancillary session chatter. It is never read by the execution
// engine and a failure to append one never fails a trade operation.
type Message struct {
	bun.BaseModel `bun:"table:trade_messages,alias:tm"`

	ID          int64       `bun:"id,pk,autoincrement" json:"id"`
	SessionID   string      `bun:"session_id,notnull" json:"session_id"`
	SenderParty string      `bun:"sender_party,notnull" json:"sender_party"`
	Type        MessageType `bun:"type,notnull" json:"type"`
	Payload     string      `bun:"payload,type:text" json:"payload"`
	Read        bool        `bun:"read,notnull,default:false" json:"read"`
	CreatedAt   time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
