package services

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

const profileCacheSize = 10000

// IdentityStore resolves display data for a party from the external identity
// system. The trade core never needs it; it exists for the HTTP surface.
type IdentityStore interface {
	Profile(ctx context.Context, partyID string) (*models.PartyProfile, error)
}

type cachedProfile struct {
	profile   *models.PartyProfile
	timestamp time.Time
}

// ProfileCache is an explicit read-through cache in front of the identity
// store. Entries expire after the configured TTL and can be invalidated by
// party id when an upstream change is known.
type ProfileCache struct {
	source IdentityStore
	cache  *lru.Cache
	expiry time.Duration
}

func NewProfileCache(source IdentityStore, expiry time.Duration) *ProfileCache {
	cache, _ := lru.New(profileCacheSize)
	return &ProfileCache{
		source: source,
		cache:  cache,
		expiry: expiry,
	}
}

// Profile returns the cached profile when fresh, otherwise reads through to
// the identity store and caches the result.
func (c *ProfileCache) Profile(ctx context.Context, partyID string) (*models.PartyProfile, error) {
	if entry, ok := c.cache.Get(partyID); ok {
		cached := entry.(cachedProfile)
		if time.Since(cached.timestamp) < c.expiry {
			return cached.profile, nil
		}
		c.cache.Remove(partyID)
	}

	profile, err := c.source.Profile(ctx, partyID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(partyID, cachedProfile{profile: profile, timestamp: time.Now()})
	return profile, nil
}

// Invalidate drops the cached entry for one party.
func (c *ProfileCache) Invalidate(partyID string) {
	c.cache.Remove(partyID)
}

// Purge drops every cached entry.
func (c *ProfileCache) Purge() {
	c.cache.Purge()
}

// StaticIdentityStore serves profiles from a fixed map. Used in dev mode and
// tests where no external identity system exists; unknown parties resolve to
// a bare profile rather than an error.
type StaticIdentityStore struct {
	Profiles map[string]*models.PartyProfile
}

func (s *StaticIdentityStore) Profile(_ context.Context, partyID string) (*models.PartyProfile, error) {
	if profile, ok := s.Profiles[partyID]; ok {
		return profile, nil
	}
	return &models.PartyProfile{ID: partyID, DisplayName: partyID}, nil
}
