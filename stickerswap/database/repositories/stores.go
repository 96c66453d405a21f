package repositories

import (
	"github.com/swapdesk/stickerswap/stickerswap/trade"
)

// Compile-time checks that the Postgres repositories satisfy the engine's
// store contracts.
var (
	_ trade.SessionStore   = (*SessionRepository)(nil)
	_ trade.LedgerStore    = (*LedgerRepository)(nil)
	_ trade.OwnershipStore = (*StickerRepository)(nil)
	_ trade.MessageStore   = (*MessageRepository)(nil)
)
