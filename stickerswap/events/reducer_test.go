package events

import (
	"testing"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

func baseView(updatedAt time.Time) *SessionView {
	return &SessionView{
		Session: &models.TradeSession{
			SessionID: "s1",
			Mode:      models.ModeLive,
			PartyA:    "alice",
			PartyB:    "bob",
			Status:    string(models.LiveNegotiating),
			UpdatedAt: updatedAt,
		},
		Offers: []*models.OfferEntry{
			{SessionID: "s1", OwnerParty: "alice", InstanceID: 1},
		},
	}
}

func TestReducerRequiresSnapshotFirst(t *testing.T) {
	r := NewReducer()

	applied := r.ApplyPush(ChangeEvent{
		SessionID: "s1",
		Kind:      KindOfferAdded,
		UpdatedAt: time.Now(),
		Offer:     &models.OfferEntry{SessionID: "s1", OwnerParty: "bob", InstanceID: 2},
	})
	if applied {
		t.Error("push applied before any snapshot")
	}
	if r.View() != nil {
		t.Error("view non-nil before any snapshot")
	}
}

func TestReducerFoldsPushes(t *testing.T) {
	now := time.Now()
	r := NewReducer()
	r.ApplyServer(baseView(now))

	tests := []struct {
		name       string
		ev         ChangeEvent
		wantOffers int
	}{
		{
			name: "offer added",
			ev: ChangeEvent{
				SessionID: "s1",
				Kind:      KindOfferAdded,
				UpdatedAt: now.Add(time.Second),
				Offer:     &models.OfferEntry{SessionID: "s1", OwnerParty: "bob", InstanceID: 2},
			},
			wantOffers: 2,
		},
		{
			name: "duplicate offer ignored",
			ev: ChangeEvent{
				SessionID: "s1",
				Kind:      KindOfferAdded,
				UpdatedAt: now.Add(2 * time.Second),
				Offer:     &models.OfferEntry{SessionID: "s1", OwnerParty: "bob", InstanceID: 2},
			},
			wantOffers: 2,
		},
		{
			name: "offer removed",
			ev: ChangeEvent{
				SessionID: "s1",
				Kind:      KindOfferRemoved,
				UpdatedAt: now.Add(3 * time.Second),
				Offer:     &models.OfferEntry{SessionID: "s1", OwnerParty: "alice", InstanceID: 1},
			},
			wantOffers: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !r.ApplyPush(tt.ev) {
				t.Fatal("ApplyPush() = false, want true")
			}
			if got := len(r.View().Offers); got != tt.wantOffers {
				t.Errorf("len(offers) = %d, want %d", got, tt.wantOffers)
			}
		})
	}
}

func TestReducerDropsStalePush(t *testing.T) {
	now := time.Now()
	r := NewReducer()
	r.ApplyServer(baseView(now))

	applied := r.ApplyPush(ChangeEvent{
		SessionID: "s1",
		Kind:      KindOfferAdded,
		UpdatedAt: now.Add(-time.Minute),
		Offer:     &models.OfferEntry{SessionID: "s1", OwnerParty: "bob", InstanceID: 9},
	})
	if applied {
		t.Error("stale push was applied")
	}
	if got := len(r.View().Offers); got != 1 {
		t.Errorf("len(offers) = %d, want 1", got)
	}
}

func TestReducerServerSnapshotWins(t *testing.T) {
	now := time.Now()
	r := NewReducer()
	r.ApplyServer(baseView(now))

	// Local state drifted ahead via pushes.
	r.ApplyPush(ChangeEvent{
		SessionID: "s1",
		Kind:      KindOfferAdded,
		UpdatedAt: now.Add(time.Minute),
		Offer:     &models.OfferEntry{SessionID: "s1", OwnerParty: "bob", InstanceID: 2},
	})

	// An authoritative snapshot with an older timestamp still replaces it.
	snapshot := baseView(now.Add(30 * time.Second))
	snapshot.Offers = nil
	r.ApplyServer(snapshot)

	view := r.View()
	if len(view.Offers) != 0 {
		t.Errorf("len(offers) = %d, want 0 after authoritative snapshot", len(view.Offers))
	}
	if !view.Session.UpdatedAt.Equal(snapshot.Session.UpdatedAt) {
		t.Error("session timestamp not taken from snapshot")
	}
}

func TestReducerSessionReplacedFromEvent(t *testing.T) {
	now := time.Now()
	r := NewReducer()
	r.ApplyServer(baseView(now))

	confirmed := baseView(now.Add(time.Second)).Session
	confirmed.Status = string(models.LivePartyAReady)
	confirmed.PartyAConfirmed = true

	if !r.ApplyPush(ChangeEvent{
		SessionID: "s1",
		Kind:      KindConfirmed,
		Actor:     "alice",
		UpdatedAt: confirmed.UpdatedAt,
		Session:   confirmed,
	}) {
		t.Fatal("ApplyPush() = false, want true")
	}

	view := r.View()
	if view.Session.Status != string(models.LivePartyAReady) {
		t.Errorf("status = %q, want %q", view.Session.Status, models.LivePartyAReady)
	}
	if !view.Session.PartyAConfirmed {
		t.Error("confirmation flag not carried over from event session")
	}
}
