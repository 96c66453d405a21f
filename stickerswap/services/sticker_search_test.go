package services

import (
	"context"
	"testing"

	"github.com/swapdesk/stickerswap/stickerswap/database/memstore"
	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

func searchFixture(t *testing.T) *StickerSearchService {
	t.Helper()
	store := memstore.New()
	for _, name := range []string{"Neon Tiger", "Moon Frog", "Lava Snail", "Neon Snake"} {
		store.SeedInstance(&models.StickerInstance{StickerID: 1, Name: name, OwnerID: "alice"})
	}
	store.SeedInstance(&models.StickerInstance{StickerID: 2, Name: "Neon Tiger", OwnerID: "bob"})
	return NewStickerSearchService(store)
}

func TestStickerSearch(t *testing.T) {
	ctx := context.Background()
	svc := searchFixture(t)

	tests := []struct {
		name      string
		query     string
		wantFirst string
		wantCount int
	}{
		{name: "exact", query: "Moon Frog", wantFirst: "Moon Frog", wantCount: 1},
		{name: "typo", query: "neon tigr", wantFirst: "Neon Tiger", wantCount: 1},
		{name: "prefix", query: "neon", wantCount: 2},
		{name: "empty returns all", query: "", wantCount: 4},
		{name: "no match", query: "zzzz", wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := svc.Search(ctx, "alice", tt.query)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(results) != tt.wantCount {
				t.Fatalf("len(results) = %d, want %d", len(results), tt.wantCount)
			}
			if tt.wantFirst != "" && results[0].Name != tt.wantFirst {
				t.Errorf("first result = %q, want %q", results[0].Name, tt.wantFirst)
			}
			for _, r := range results {
				if r.OwnerID != "alice" {
					t.Errorf("result %q owned by %q, want alice only", r.Name, r.OwnerID)
				}
			}
		})
	}
}
