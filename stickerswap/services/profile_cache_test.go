package services

import (
	"context"
	"testing"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

type countingIdentityStore struct {
	calls int
}

func (s *countingIdentityStore) Profile(_ context.Context, partyID string) (*models.PartyProfile, error) {
	s.calls++
	return &models.PartyProfile{ID: partyID, DisplayName: "Party " + partyID}, nil
}

func TestProfileCacheReadsThroughOnce(t *testing.T) {
	ctx := context.Background()
	source := &countingIdentityStore{}
	cache := NewProfileCache(source, time.Minute)

	for i := 0; i < 3; i++ {
		profile, err := cache.Profile(ctx, "alice")
		if err != nil {
			t.Fatalf("Profile() error = %v", err)
		}
		if profile.DisplayName != "Party alice" {
			t.Errorf("display name = %q", profile.DisplayName)
		}
	}
	if source.calls != 1 {
		t.Errorf("source calls = %d, want 1", source.calls)
	}
}

func TestProfileCacheExpires(t *testing.T) {
	ctx := context.Background()
	source := &countingIdentityStore{}
	cache := NewProfileCache(source, time.Nanosecond)

	if _, err := cache.Profile(ctx, "alice"); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := cache.Profile(ctx, "alice"); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if source.calls != 2 {
		t.Errorf("source calls = %d, want 2 after expiry", source.calls)
	}
}

func TestProfileCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	source := &countingIdentityStore{}
	cache := NewProfileCache(source, time.Minute)

	if _, err := cache.Profile(ctx, "alice"); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	cache.Invalidate("alice")
	if _, err := cache.Profile(ctx, "alice"); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if source.calls != 2 {
		t.Errorf("source calls = %d, want 2 after invalidate", source.calls)
	}
}
