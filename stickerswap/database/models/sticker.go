package models

import (
	"time"

	"github.com/uptrace/bun"
)

// StickerInstance is one uniquely-owned copy of a sticker. The owner column
// is the authoritative ownership record and the only thing a successful
// execution ever mutates.
type StickerInstance struct {
	bun.BaseModel `bun:"table:sticker_instances,alias:si"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	StickerID  int64     `bun:"sticker_id,notnull" json:"sticker_id"`
	Name       string    `bun:"name,notnull" json:"name"`
	Rarity     int       `bun:"rarity,notnull,default:1" json:"rarity"`
	OwnerID    string    `bun:"owner_id,notnull" json:"owner_id"`
	Serial     int64     `bun:"serial,notnull,default:0" json:"serial"`
	ObtainedAt time.Time `bun:"obtained_at,notnull,default:current_timestamp" json:"obtained_at"`
	UpdatedAt  time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// PartyProfile is read-only display data resolved from the external identity
// store. It is cached, never persisted by this service.
type PartyProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
