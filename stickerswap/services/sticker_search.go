package services

import (
	"context"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
	"github.com/swapdesk/stickerswap/stickerswap/trade"
)

// StickerSearchItems implements fuzzy.Source over a party's collection.
type StickerSearchItems []StickerSearchItem

type StickerSearchItem struct {
	Instance *models.StickerInstance
	Name     string
}

func (items StickerSearchItems) Len() int {
	return len(items)
}

func (items StickerSearchItems) String(i int) string {
	return items[i].Name
}

// StickerSearchService finds sticker instances in a party's collection by
// approximate name, so the offer-picking UI tolerates typos.
type StickerSearchService struct {
	stickers trade.OwnershipStore
}

func NewStickerSearchService(stickers trade.OwnershipStore) *StickerSearchService {
	return &StickerSearchService{stickers: stickers}
}

// Search returns the party's instances ranked by fuzzy match quality. An
// empty query returns the whole collection in store order.
func (s *StickerSearchService) Search(ctx context.Context, partyID, query string) ([]*models.StickerInstance, error) {
	owned, err := s.stickers.InstancesOwnedBy(ctx, partyID)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return owned, nil
	}

	items := make(StickerSearchItems, len(owned))
	for i, instance := range owned {
		items[i] = StickerSearchItem{
			Instance: instance,
			Name:     normalizeStickerName(instance.Name),
		}
	}

	matches := fuzzy.FindFrom(normalizeStickerName(query), items)
	results := make([]*models.StickerInstance, len(matches))
	for i, match := range matches {
		results[i] = items[match.Index].Instance
	}
	return results, nil
}

func normalizeStickerName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", " "))
}
