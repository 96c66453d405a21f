package trade

import (
	"context"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

// SessionStore persists trade sessions and their co-located confirmation
// flags. Implementations must make ClaimSeat and ExecuteSwap atomic: ClaimSeat
// is a first-claim-wins seat grab, ExecuteSwap is the single indivisible
// ownership swap. Everything else is session-local state.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.TradeSession) error
	Session(ctx context.Context, sessionID string) (*models.TradeSession, error)
	SessionsForParty(ctx context.Context, partyID string) ([]*models.TradeSession, error)

	// ClaimSeat atomically fills the empty partyB seat of a matching session
	// and transitions it to negotiating. A session whose seat is already
	// taken, or that is no longer matching, yields common.ErrConflict.
	ClaimSeat(ctx context.Context, sessionID, partyID string) (*models.TradeSession, error)

	// Transition conditionally moves the session from one of the given
	// statuses to the target status, bumping updated_at. When the current
	// status is not in from, it returns common.ErrConflict.
	Transition(ctx context.Context, sessionID string, from []string, to string) (*models.TradeSession, error)

	// SetConfirmation sets or clears one party's confirmation flag and
	// timestamp and returns the re-read session.
	SetConfirmation(ctx context.Context, sessionID, partyID string, confirmed bool, at time.Time) (*models.TradeSession, error)

	// ExecuteSwap performs the atomic execution: inside one transaction it
	// re-checks both confirmation flags, verifies every offered instance is
	// still owned by its offering party, reassigns every instance to the
	// counterparty and marks the session completed. On a failed ownership
	// precondition it clears both confirmations, demotes the status per
	// mode, leaves ownership untouched and returns *common.ItemUnavailableError.
	ExecuteSwap(ctx context.Context, sessionID string) (*models.TradeSession, error)

	// SweepStaleMatching cancels matching sessions created before cutoff and
	// returns their ids. SweepExpired moves past-expiry mailbox sessions to
	// expired and returns their ids.
	SweepStaleMatching(ctx context.Context, cutoff time.Time) ([]string, error)
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)
}

// LedgerStore holds per-session offers and requests. Every successful
// mutation must, in the same atomic step, reset both confirmation flags,
// demote a partyX_ready live status back to negotiating and bump the
// session's updated_at: the confirmation-invalidation rule lives here so that
// every mutation path is covered, not in the handshake.
type LedgerStore interface {
	// AddOffer inserts the entry unless the same (session, party, instance)
	// offer already exists; the bool reports whether a row was added.
	AddOffer(ctx context.Context, entry *models.OfferEntry) (bool, error)
	// RemoveOffer deletes the entry if present; removing a missing offer is
	// a no-op, not an error.
	RemoveOffer(ctx context.Context, sessionID, partyID string, instanceID int64) (bool, error)
	Offers(ctx context.Context, sessionID string) ([]*models.OfferEntry, error)

	AddRequest(ctx context.Context, entry *models.RequestEntry) (bool, error)
	RemoveRequest(ctx context.Context, sessionID, partyID string, instanceID int64) (bool, error)
	Requests(ctx context.Context, sessionID string) ([]*models.RequestEntry, error)
}

// OwnershipStore is the read surface of the authoritative item ownership
// record. Writes happen only inside SessionStore.ExecuteSwap.
type OwnershipStore interface {
	Instance(ctx context.Context, instanceID int64) (*models.StickerInstance, error)
	OwnerOf(ctx context.Context, instanceID int64) (string, error)
	InstancesOwnedBy(ctx context.Context, partyID string) ([]*models.StickerInstance, error)
}

// MessageStore is the append-only message channel. It is never consulted by
// execution and its failures never fail a trade operation.
type MessageStore interface {
	Append(ctx context.Context, msg *models.Message) error
	Messages(ctx context.Context, sessionID string) ([]*models.Message, error)
	MarkRead(ctx context.Context, sessionID, partyID string) error
}
