package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/swapdesk/stickerswap/stickerswap/common"
	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

// LedgerRepository is the Postgres implementation of trade.LedgerStore.
// Every mutation runs in a transaction that locks the session row, applies
// the ledger change and resets both confirmation flags in the same commit,
// so a confirm can never be honored against ledger content it has not seen.
type LedgerRepository struct {
	db *bun.DB
}

func NewLedgerRepository(db *bun.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) AddOffer(ctx context.Context, entry *models.OfferEntry) (bool, error) {
	entry.CreatedAt = time.Now()
	return r.mutate(ctx, entry.SessionID, func(tx bun.Tx) (int64, error) {
		result, err := tx.NewInsert().
			Model(entry).
			On("CONFLICT (session_id, owner_party, instance_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to add offer: %w", err)
		}
		return result.RowsAffected()
	})
}

func (r *LedgerRepository) RemoveOffer(ctx context.Context, sessionID, partyID string, instanceID int64) (bool, error) {
	return r.mutate(ctx, sessionID, func(tx bun.Tx) (int64, error) {
		result, err := tx.NewDelete().
			Model((*models.OfferEntry)(nil)).
			Where("session_id = ? AND owner_party = ? AND instance_id = ?", sessionID, partyID, instanceID).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to remove offer: %w", err)
		}
		return result.RowsAffected()
	})
}

func (r *LedgerRepository) Offers(ctx context.Context, sessionID string) ([]*models.OfferEntry, error) {
	var offers []*models.OfferEntry
	err := r.db.NewSelect().
		Model(&offers).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	return offers, nil
}

func (r *LedgerRepository) AddRequest(ctx context.Context, entry *models.RequestEntry) (bool, error) {
	entry.CreatedAt = time.Now()
	return r.mutate(ctx, entry.SessionID, func(tx bun.Tx) (int64, error) {
		result, err := tx.NewInsert().
			Model(entry).
			On("CONFLICT (session_id, requesting_party, instance_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to add request: %w", err)
		}
		return result.RowsAffected()
	})
}

func (r *LedgerRepository) RemoveRequest(ctx context.Context, sessionID, partyID string, instanceID int64) (bool, error) {
	return r.mutate(ctx, sessionID, func(tx bun.Tx) (int64, error) {
		result, err := tx.NewDelete().
			Model((*models.RequestEntry)(nil)).
			Where("session_id = ? AND requesting_party = ? AND instance_id = ?", sessionID, partyID, instanceID).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to remove request: %w", err)
		}
		return result.RowsAffected()
	})
}

func (r *LedgerRepository) Requests(ctx context.Context, sessionID string) ([]*models.RequestEntry, error) {
	var requests []*models.RequestEntry
	err := r.db.NewSelect().
		Model(&requests).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// mutate runs one ledger change against a locked session row and applies the
// confirmation-invalidation rule when a row was actually added or removed.
func (r *LedgerRepository) mutate(ctx context.Context, sessionID string, change func(tx bun.Tx) (int64, error)) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
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
			return false, common.ErrNotFound
		}
		return false, fmt.Errorf("failed to lock session: %w", err)
	}
	if session.State().Terminal() {
		return false, common.ErrInvalidTransition
	}

	affected, err := change(tx)
	if err != nil {
		return false, err
	}

	if affected > 0 {
		q := tx.NewUpdate().
			Model((*models.TradeSession)(nil)).
			Set("party_a_confirmed = ?", false).
			Set("party_b_confirmed = ?", false).
			Set("party_a_confirmed_at = NULL").
			Set("party_b_confirmed_at = NULL").
			Set("updated_at = ?", time.Now()).
			Where("session_id = ?", sessionID)
		if session.Mode == models.ModeLive {
			status := models.LiveStatus(session.Status)
			if status == models.LivePartyAReady || status == models.LivePartyBReady {
				q = q.Set("status = ?", string(models.LiveNegotiating))
			}
		}
		if _, err := q.Exec(ctx); err != nil {
			return false, fmt.Errorf("failed to invalidate confirmations: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit ledger change: %w", err)
	}
	return affected > 0, nil
}
