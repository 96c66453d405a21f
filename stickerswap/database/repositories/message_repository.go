package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

// MessageRepository is the Postgres implementation of trade.MessageStore.
type MessageRepository struct {
	db *bun.DB
}

func NewMessageRepository(db *bun.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Append(ctx context.Context, msg *models.Message) error {
	msg.CreatedAt = time.Now()

	if _, err := r.db.NewInsert().Model(msg).Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *MessageRepository) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.NewSelect().
		Model(&messages).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// MarkRead flips the advisory read flag on everything the counterparty sent.
func (r *MessageRepository) MarkRead(ctx context.Context, sessionID, partyID string) error {
	_, err := r.db.NewUpdate().
		Model((*models.Message)(nil)).
		Set("read = ?", true).
		Where("session_id = ? AND sender_party != ? AND read = false", sessionID, partyID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}
