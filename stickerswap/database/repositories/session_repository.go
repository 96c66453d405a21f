package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/swapdesk/stickerswap/stickerswap/common"
	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

// SessionRepository is the Postgres implementation of trade.SessionStore.
// ClaimSeat relies on a conditional single-statement update; ExecuteSwap runs
// the whole ownership swap in one serializable transaction with row locks.
type SessionRepository struct {
	db *bun.DB
}

func NewSessionRepository(db *bun.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *models.TradeSession) error {
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt

	if _, err := r.db.NewInsert().Model(session).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create trade session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Session(ctx context.Context, sessionID string) (*models.TradeSession, error) {
	session := new(models.TradeSession)
	err := r.db.NewSelect().
		Model(session).
		Where("session_id = ?", sessionID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get trade session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) SessionsForParty(ctx context.Context, partyID string) ([]*models.TradeSession, error) {
	var sessions []*models.TradeSession
	err := r.db.NewSelect().
		Model(&sessions).
		Where("party_a = ? OR party_b = ?", partyID, partyID).
		Order("created_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get party sessions: %w", err)
	}
	return sessions, nil
}

// ClaimSeat fills the empty partyB seat of a matching session. The WHERE
// clause is the whole race: only one concurrent claimant can match it.
func (r *SessionRepository) ClaimSeat(ctx context.Context, sessionID, partyID string) (*models.TradeSession, error) {
	result, err := r.db.NewUpdate().
		Model((*models.TradeSession)(nil)).
		Set("party_b = ?", partyID).
		Set("status = ?", string(models.LiveNegotiating)).
		Set("updated_at = ?", time.Now()).
		Where("session_id = ?", sessionID).
		Where("status = ?", string(models.LiveMatching)).
		Where("(party_b IS NULL OR party_b = '')").
		Where("party_a != ?", partyID).
		Exec(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to claim seat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Either the session is gone or somebody else claimed it first.
		if _, err := r.Session(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, common.ErrConflict
	}
	return r.Session(ctx, sessionID)
}

func (r *SessionRepository) Transition(ctx context.Context, sessionID string, from []string, to string) (*models.TradeSession, error) {
	result, err := r.db.NewUpdate().
		Model((*models.TradeSession)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("session_id = ?", sessionID).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to transition session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.Session(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, common.ErrConflict
	}
	return r.Session(ctx, sessionID)
}

func (r *SessionRepository) SetConfirmation(ctx context.Context, sessionID, partyID string, confirmed bool, at time.Time) (*models.TradeSession, error) {
	session, err := r.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	flagCol, atCol := "party_a_confirmed", "party_a_confirmed_at"
	if partyID == session.PartyB {
		flagCol, atCol = "party_b_confirmed", "party_b_confirmed_at"
	} else if partyID != session.PartyA {
		return nil, common.ErrNotParticipant
	}

	q := r.db.NewUpdate().
		Model((*models.TradeSession)(nil)).
		Set(flagCol+" = ?", confirmed).
		Set("updated_at = ?", time.Now()).
		Where("session_id = ?", sessionID)
	if confirmed {
		q = q.Set(atCol+" = ?", at)
	} else {
		q = q.Set(atCol + " = NULL")
	}
	if _, err := q.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to set confirmation: %w", err)
	}
	return r.Session(ctx, sessionID)
}

// ExecuteSwap is the one operation that must be transactional against the
// ownership records. It locks the session and every offered instance, checks
// that both confirmations still stand and that every instance is still owned
// by its offering party, then reassigns all of them and completes the session
// as one unit. A concurrent reader sees either the fully pre-swap or the
// fully post-swap state, never a partial swap.
func (r *SessionRepository) ExecuteSwap(ctx context.Context, sessionID string) (*models.TradeSession, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	session := new(models.TradeSession)
	err = tx.NewSelect().
		Model(session).
		Where("session_id = ?", sessionID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}

	now := time.Now()
	if session.State().Terminal() {
		return nil, common.ErrInvalidTransition
	}
	if session.Expired(now) {
		if _, err := tx.NewUpdate().
			Model((*models.TradeSession)(nil)).
			Set("status = ?", models.ExpiredStatus(session.Mode)).
			Set("updated_at = ?", now).
			Where("session_id = ?", sessionID).
			Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to expire session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit expiry: %w", err)
		}
		return nil, common.ErrExpired
	}
	if session.Mode == models.ModeMailbox && models.MailboxStatus(session.Status) != models.MailboxActive {
		return nil, common.ErrInvalidTransition
	}
	if !session.BothConfirmed() {
		return nil, common.ErrConflict
	}

	var offers []*models.OfferEntry
	err = tx.NewSelect().
		Model(&offers).
		Where("session_id = ?", sessionID).
		Order("instance_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load offers: %w", err)
	}

	counts := map[string]int{}
	for _, offer := range offers {
		counts[offer.OwnerParty]++
	}
	if counts[session.PartyA] == 0 || counts[session.PartyB] == 0 {
		return nil, common.ErrConflict
	}

	// Verify current ownership of every offered instance under lock before
	// touching anything. Ordered by instance id so two concurrent swaps
	// never deadlock on each other's rows.
	for _, offer := range offers {
		var instance models.StickerInstance
		err = tx.NewSelect().
			Model(&instance).
			Where("id = ?", offer.InstanceID).
			For("UPDATE").
			Scan(ctx)
		if err != nil && !lockFailureIsPrecondition(err) {
			// Infrastructure failure, not a precondition failure: leave
			// both confirmations standing so a retry can still execute.
			return nil, fmt.Errorf("failed to lock sticker instance %d: %w", offer.InstanceID, err)
		}
		if err != nil || instance.OwnerID != offer.OwnerParty {
			tx.Rollback()
			r.resetAfterFailedSwap(ctx, session)
			return nil, &common.ItemUnavailableError{InstanceID: offer.InstanceID}
		}
	}

	for _, offer := range offers {
		if _, err := tx.NewUpdate().
			Model((*models.StickerInstance)(nil)).
			Set("owner_id = ?", session.Counterparty(offer.OwnerParty)).
			Set("updated_at = ?", now).
			Where("id = ?", offer.InstanceID).
			Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to transfer sticker instance %d: %w", offer.InstanceID, err)
		}
	}

	completed := string(models.LiveCompleted)
	if session.Mode == models.ModeMailbox {
		completed = string(models.MailboxCompleted)
	}
	if _, err := tx.NewUpdate().
		Model((*models.TradeSession)(nil)).
		Set("status = ?", completed).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("session_id = ?", sessionID).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit swap: %w", err)
	}

	slog.Info("Swap executed",
		slog.String("type", "db"),
		slog.String("session_id", sessionID),
		slog.Int("instances", len(offers)))

	return r.Session(ctx, sessionID)
}

// lockFailureIsPrecondition reports whether an error from locking an offered
// instance row means the row is gone, as opposed to a transient infrastructure
// failure that must not void the parties' consent.
func lockFailureIsPrecondition(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// resetAfterFailedSwap clears both confirmations and demotes a ready live
// status so the parties can drop the offending item and re-confirm.
func (r *SessionRepository) resetAfterFailedSwap(ctx context.Context, session *models.TradeSession) {
	q := r.db.NewUpdate().
		Model((*models.TradeSession)(nil)).
		Set("party_a_confirmed = ?", false).
		Set("party_b_confirmed = ?", false).
		Set("party_a_confirmed_at = NULL").
		Set("party_b_confirmed_at = NULL").
		Set("updated_at = ?", time.Now()).
		Where("session_id = ?", session.SessionID)
	if session.Mode == models.ModeLive {
		q = q.Set("status = ?", string(models.LiveNegotiating))
	}
	if _, err := q.Exec(ctx); err != nil {
		slog.Error("Failed to reset session after aborted swap",
			slog.String("session_id", session.SessionID),
			slog.String("error", err.Error()))
	}
}

func (r *SessionRepository) SweepStaleMatching(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	_, err := r.db.NewUpdate().
		Model((*models.TradeSession)(nil)).
		Set("status = ?", string(models.LiveCancelled)).
		Set("updated_at = ?", time.Now()).
		Where("status = ?", string(models.LiveMatching)).
		Where("created_at <= ?", cutoff).
		Returning("session_id").
		Exec(ctx, &ids)

	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale matching sessions: %w", err)
	}
	return ids, nil
}

func (r *SessionRepository) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	_, err := r.db.NewUpdate().
		Model((*models.TradeSession)(nil)).
		Set("status = ?", string(models.MailboxExpired)).
		Set("updated_at = ?", now).
		Where("mode = ?", string(models.ModeMailbox)).
		Where("status IN (?)", bun.In([]string{string(models.MailboxPending), string(models.MailboxActive)})).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Returning("session_id").
		Exec(ctx, &ids)

	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	return ids, nil
}
