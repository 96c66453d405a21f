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

// StickerRepository is the Postgres implementation of trade.OwnershipStore.
// Ownership writes happen only inside SessionRepository.ExecuteSwap; the
// Create helper exists for seeding and the legacy importer.
type StickerRepository struct {
	db *bun.DB
}

func NewStickerRepository(db *bun.DB) *StickerRepository {
	return &StickerRepository{db: db}
}

func (r *StickerRepository) Create(ctx context.Context, instance *models.StickerInstance) error {
	if instance.ObtainedAt.IsZero() {
		instance.ObtainedAt = time.Now()
	}
	instance.UpdatedAt = time.Now()

	if _, err := r.db.NewInsert().Model(instance).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sticker instance: %w", err)
	}
	return nil
}

func (r *StickerRepository) Instance(ctx context.Context, instanceID int64) (*models.StickerInstance, error) {
	instance := new(models.StickerInstance)
	err := r.db.NewSelect().
		Model(instance).
		Where("id = ?", instanceID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sticker instance: %w", err)
	}
	return instance, nil
}

func (r *StickerRepository) OwnerOf(ctx context.Context, instanceID int64) (string, error) {
	instance, err := r.Instance(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return instance.OwnerID, nil
}

func (r *StickerRepository) InstancesOwnedBy(ctx context.Context, partyID string) ([]*models.StickerInstance, error) {
	var instances []*models.StickerInstance
	err := r.db.NewSelect().
		Model(&instances).
		Where("owner_id = ?", partyID).
		Order("obtained_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to list owned instances: %w", err)
	}
	return instances, nil
}
