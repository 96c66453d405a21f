package trade_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/common"
	"github.com/swapdesk/stickerswap/stickerswap/database/memstore"
	"github.com/swapdesk/stickerswap/stickerswap/database/models"
	"github.com/swapdesk/stickerswap/stickerswap/events"
	"github.com/swapdesk/stickerswap/stickerswap/trade"
)

func newTestEngine(t *testing.T, cfg trade.Config) (*trade.Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	engine := trade.NewEngine(store, store, store, store, events.NewMemoryHub(), nil, cfg)
	return engine, store
}

func seedInstance(t *testing.T, store *memstore.Store, name, owner string) int64 {
	t.Helper()
	instance := store.SeedInstance(&models.StickerInstance{
		StickerID: 1,
		Name:      name,
		Rarity:    3,
		OwnerID:   owner,
	})
	return instance.ID
}

func liveSession(t *testing.T, engine *trade.Engine, partyA, partyB string) *models.TradeSession {
	t.Helper()
	ctx := context.Background()
	session, err := engine.EnterQueue(ctx, partyA)
	if err != nil {
		t.Fatalf("EnterQueue() error = %v", err)
	}
	joined, err := engine.Join(ctx, session.SessionID, partyB)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	return joined
}

func TestLiveTradeHappyPath(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	bobItem := seedInstance(t, store, "Moon Frog", "bob")

	session := liveSession(t, engine, "alice", "bob")
	if session.Status != string(models.LiveNegotiating) {
		t.Fatalf("status after join = %q, want %q", session.Status, models.LiveNegotiating)
	}

	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); err != nil {
		t.Fatalf("AddOffer(alice) error = %v", err)
	}
	if err := engine.AddOffer(ctx, session.SessionID, "bob", bobItem, 1); err != nil {
		t.Fatalf("AddOffer(bob) error = %v", err)
	}

	first, err := engine.Confirm(ctx, session.SessionID, "alice")
	if err != nil {
		t.Fatalf("Confirm(alice) error = %v", err)
	}
	if first.Status != string(models.LivePartyAReady) {
		t.Errorf("status after first confirm = %q, want %q", first.Status, models.LivePartyAReady)
	}

	final, err := engine.Confirm(ctx, session.SessionID, "bob")
	if err != nil {
		t.Fatalf("Confirm(bob) error = %v", err)
	}
	if final.Status != string(models.LiveCompleted) {
		t.Errorf("status after both confirm = %q, want %q", final.Status, models.LiveCompleted)
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt not set on completed session")
	}

	// Ownership must have swapped both ways.
	if owner, _ := store.OwnerOf(ctx, aliceItem); owner != "bob" {
		t.Errorf("owner of alice's item = %q, want %q", owner, "bob")
	}
	if owner, _ := store.OwnerOf(ctx, bobItem); owner != "alice" {
		t.Errorf("owner of bob's item = %q, want %q", owner, "alice")
	}
}

func TestLedgerChangeInvalidatesConfirmations(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	bobItem := seedInstance(t, store, "Moon Frog", "bob")
	bobExtra := seedInstance(t, store, "Lava Snail", "bob")

	session := liveSession(t, engine, "alice", "bob")
	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); err != nil {
		t.Fatalf("AddOffer(alice) error = %v", err)
	}
	if err := engine.AddOffer(ctx, session.SessionID, "bob", bobItem, 1); err != nil {
		t.Fatalf("AddOffer(bob) error = %v", err)
	}

	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); err != nil {
		t.Fatalf("Confirm(alice) error = %v", err)
	}

	// Bob changes the deal after Alice consented: her consent must be voided.
	if err := engine.AddOffer(ctx, session.SessionID, "bob", bobExtra, 1); err != nil {
		t.Fatalf("AddOffer(bob extra) error = %v", err)
	}

	current, err := store.Session(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if current.PartyAConfirmed || current.PartyBConfirmed {
		t.Error("confirmation flags survived a ledger change")
	}
	if current.Status != string(models.LiveNegotiating) {
		t.Errorf("status after ledger change = %q, want %q", current.Status, models.LiveNegotiating)
	}

	// Re-confirming against the new ledger completes the trade.
	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); err != nil {
		t.Fatalf("re-Confirm(alice) error = %v", err)
	}
	final, err := engine.Confirm(ctx, session.SessionID, "bob")
	if err != nil {
		t.Fatalf("Confirm(bob) error = %v", err)
	}
	if final.Status != string(models.LiveCompleted) {
		t.Errorf("status = %q, want %q", final.Status, models.LiveCompleted)
	}
	if owner, _ := store.OwnerOf(ctx, bobExtra); owner != "alice" {
		t.Errorf("owner of bob's extra item = %q, want %q", owner, "alice")
	}
}

func TestConcurrentJoinSingleWinner(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, trade.DefaultConfig())

	session, err := engine.EnterQueue(ctx, "alice")
	if err != nil {
		t.Fatalf("EnterQueue() error = %v", err)
	}

	claimants := []string{"bob", "carol", "dave"}
	errs := make([]error, len(claimants))
	var wg sync.WaitGroup
	for i, claimant := range claimants {
		wg.Add(1)
		go func(i int, claimant string) {
			defer wg.Done()
			_, errs[i] = engine.Join(ctx, session.SessionID, claimant)
		}(i, claimant)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, common.ErrConflict):
		default:
			t.Errorf("Join(%s) error = %v, want nil or Conflict", claimants[i], err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	current, err := engine.SessionsForParty(ctx, "alice")
	if err != nil {
		t.Fatalf("SessionsForParty() error = %v", err)
	}
	if current[0].Status != string(models.LiveNegotiating) {
		t.Errorf("status = %q, want %q", current[0].Status, models.LiveNegotiating)
	}
}

func TestSwapAbortsWithoutPartialTransfer(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	bobItem := seedInstance(t, store, "Moon Frog", "bob")

	session := liveSession(t, engine, "alice", "bob")
	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); err != nil {
		t.Fatalf("AddOffer(alice) error = %v", err)
	}
	if err := engine.AddOffer(ctx, session.SessionID, "bob", bobItem, 1); err != nil {
		t.Fatalf("AddOffer(bob) error = %v", err)
	}
	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); err != nil {
		t.Fatalf("Confirm(alice) error = %v", err)
	}

	// The second instance fails its transfer precondition mid-execution.
	store.TransferFault = func(instanceID int64) error {
		if instanceID == bobItem {
			return errors.New("instance gone")
		}
		return nil
	}

	_, err := engine.Confirm(ctx, session.SessionID, "bob")
	var unavailable *common.ItemUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Confirm(bob) error = %v, want ItemUnavailableError", err)
	}
	if unavailable.InstanceID != bobItem {
		t.Errorf("unavailable instance = %d, want %d", unavailable.InstanceID, bobItem)
	}

	// All or nothing: neither instance may have moved.
	if owner, _ := store.OwnerOf(ctx, aliceItem); owner != "alice" {
		t.Errorf("owner of alice's item = %q, want unchanged %q", owner, "alice")
	}
	if owner, _ := store.OwnerOf(ctx, bobItem); owner != "bob" {
		t.Errorf("owner of bob's item = %q, want unchanged %q", owner, "bob")
	}

	current, err := store.Session(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if current.PartyAConfirmed || current.PartyBConfirmed {
		t.Error("confirmation flags survived an aborted swap")
	}
	if current.Status != string(models.LiveNegotiating) {
		t.Errorf("status after aborted swap = %q, want %q", current.Status, models.LiveNegotiating)
	}

	// The session is still usable after dropping the dead offer.
	store.TransferFault = nil
	if err := engine.RemoveOffer(ctx, session.SessionID, "bob", bobItem); err != nil {
		t.Fatalf("RemoveOffer() error = %v", err)
	}
	replacement := seedInstance(t, store, "Lava Snail", "bob")
	if err := engine.AddOffer(ctx, session.SessionID, "bob", replacement, 1); err != nil {
		t.Fatalf("AddOffer(replacement) error = %v", err)
	}
	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); err != nil {
		t.Fatalf("Confirm(alice) error = %v", err)
	}
	final, err := engine.Confirm(ctx, session.SessionID, "bob")
	if err != nil {
		t.Fatalf("Confirm(bob) error = %v", err)
	}
	if final.Status != string(models.LiveCompleted) {
		t.Errorf("status = %q, want %q", final.Status, models.LiveCompleted)
	}
}

func TestOnesidedOffersDoNotExecute(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	session := liveSession(t, engine, "alice", "bob")

	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); err != nil {
		t.Fatalf("AddOffer(alice) error = %v", err)
	}
	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); err != nil {
		t.Fatalf("Confirm(alice) error = %v", err)
	}
	final, err := engine.Confirm(ctx, session.SessionID, "bob")
	if err != nil {
		t.Fatalf("Confirm(bob) error = %v", err)
	}
	if final.Status == string(models.LiveCompleted) {
		t.Error("trade executed with offers on only one side")
	}
	if owner, _ := store.OwnerOf(ctx, aliceItem); owner != "alice" {
		t.Errorf("owner = %q, want unchanged %q", owner, "alice")
	}
}

func TestMailboxInviteLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	bobItem := seedInstance(t, store, "Moon Frog", "bob")

	session, err := engine.DirectInvite(ctx, "alice", "bob", models.ModeMailbox)
	if err != nil {
		t.Fatalf("DirectInvite() error = %v", err)
	}
	if session.Status != string(models.MailboxPending) {
		t.Fatalf("status = %q, want %q", session.Status, models.MailboxPending)
	}
	if session.ExpiresAt == nil {
		t.Fatal("mailbox session created without expiry")
	}

	// The inviter composes the offer while the invite is still pending.
	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); err != nil {
		t.Fatalf("AddOffer while pending error = %v", err)
	}
	// But nobody can confirm until the invite is accepted.
	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("Confirm while pending error = %v, want InvalidTransition", err)
	}

	if _, err := engine.AcceptInvite(ctx, session.SessionID, "bob"); err != nil {
		t.Fatalf("AcceptInvite() error = %v", err)
	}

	if err := engine.AddOffer(ctx, session.SessionID, "bob", bobItem, 1); err != nil {
		t.Fatalf("AddOffer(bob) error = %v", err)
	}
	if err := engine.AddRequest(ctx, session.SessionID, "alice", bobItem); err != nil {
		t.Fatalf("AddRequest(alice) error = %v", err)
	}

	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); err != nil {
		t.Fatalf("Confirm(alice) error = %v", err)
	}
	final, err := engine.Confirm(ctx, session.SessionID, "bob")
	if err != nil {
		t.Fatalf("Confirm(bob) error = %v", err)
	}
	if final.Status != string(models.MailboxCompleted) {
		t.Errorf("status = %q, want %q", final.Status, models.MailboxCompleted)
	}
	if owner, _ := store.OwnerOf(ctx, bobItem); owner != "alice" {
		t.Errorf("owner of bob's item = %q, want %q", owner, "alice")
	}
}

func TestMailboxInviteDecline(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, trade.DefaultConfig())

	session, err := engine.DirectInvite(ctx, "alice", "bob", models.ModeMailbox)
	if err != nil {
		t.Fatalf("DirectInvite() error = %v", err)
	}

	// Only the invited party may decline.
	if err := engine.DeclineInvite(ctx, session.SessionID, "alice"); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("DeclineInvite(inviter) error = %v, want InvalidTransition", err)
	}
	if err := engine.DeclineInvite(ctx, session.SessionID, "bob"); err != nil {
		t.Fatalf("DeclineInvite(bob) error = %v", err)
	}

	if _, err := engine.AcceptInvite(ctx, session.SessionID, "bob"); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("AcceptInvite after decline error = %v, want InvalidTransition", err)
	}
}

func TestExpiredSessionRejectsAndSweeps(t *testing.T) {
	ctx := context.Background()
	cfg := trade.DefaultConfig()
	cfg.MailboxTTL = -time.Hour // already past expiry at creation
	engine, store := newTestEngine(t, cfg)

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")

	session, err := engine.DirectInvite(ctx, "alice", "bob", models.ModeMailbox)
	if err != nil {
		t.Fatalf("DirectInvite() error = %v", err)
	}

	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); !errors.Is(err, common.ErrExpired) {
		t.Fatalf("AddOffer on expired session error = %v, want Expired", err)
	}

	current, err := store.Session(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if current.Status != string(models.MailboxExpired) {
		t.Errorf("status = %q, want %q", current.Status, models.MailboxExpired)
	}

	// Terminal now: every further mutation is rejected.
	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); !errors.Is(err, common.ErrInvalidTransition) {
		t.Errorf("AddOffer on swept session error = %v, want InvalidTransition", err)
	}
	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); !errors.Is(err, common.ErrInvalidTransition) {
		t.Errorf("Confirm on expired session error = %v, want InvalidTransition", err)
	}
}

func TestSweepOnceCancelsStaleMatching(t *testing.T) {
	ctx := context.Background()
	cfg := trade.DefaultConfig()
	cfg.MatchingTTL = -time.Hour // every matching session is immediately stale
	engine, store := newTestEngine(t, cfg)

	session, err := engine.EnterQueue(ctx, "alice")
	if err != nil {
		t.Fatalf("EnterQueue() error = %v", err)
	}

	engine.SweepOnce(ctx)

	current, err := store.Session(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if current.Status != string(models.LiveCancelled) {
		t.Errorf("status after sweep = %q, want %q", current.Status, models.LiveCancelled)
	}
}

func TestUnconfirmIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	bobItem := seedInstance(t, store, "Moon Frog", "bob")

	session := liveSession(t, engine, "alice", "bob")
	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); err != nil {
		t.Fatalf("AddOffer(alice) error = %v", err)
	}
	if err := engine.AddOffer(ctx, session.SessionID, "bob", bobItem, 1); err != nil {
		t.Fatalf("AddOffer(bob) error = %v", err)
	}
	if _, err := engine.Confirm(ctx, session.SessionID, "alice"); err != nil {
		t.Fatalf("Confirm(alice) error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := engine.Unconfirm(ctx, session.SessionID, "alice"); err != nil {
			t.Fatalf("Unconfirm() #%d error = %v", i+1, err)
		}
	}

	current, err := store.Session(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if current.PartyAConfirmed {
		t.Error("confirmation flag still set after unconfirm")
	}
	if current.Status != string(models.LiveNegotiating) {
		t.Errorf("status = %q, want %q", current.Status, models.LiveNegotiating)
	}
}

func TestTerminalSessionRejectsMutations(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	session := liveSession(t, engine, "alice", "bob")

	if err := engine.CancelSession(ctx, session.SessionID, "bob"); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}

	tests := []struct {
		name string
		op   func() error
	}{
		{"AddOffer", func() error { return engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1) }},
		{"Confirm", func() error { _, err := engine.Confirm(ctx, session.SessionID, "alice"); return err }},
		{"SendMessage", func() error { _, err := engine.SendMessage(ctx, session.SessionID, "alice", "hi"); return err }},
		{"Cancel again", func() error { return engine.CancelSession(ctx, session.SessionID, "alice") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, common.ErrInvalidTransition) {
				t.Errorf("error = %v, want InvalidTransition", err)
			}
		})
	}

	// Terminal sessions stay readable.
	if _, err := engine.SessionDetails(ctx, session.SessionID, "alice"); err != nil {
		t.Errorf("SessionDetails() on terminal session error = %v", err)
	}
}

func TestNonParticipantIsRejected(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	session := liveSession(t, engine, "alice", "bob")

	if err := engine.AddOffer(ctx, session.SessionID, "mallory", aliceItem, 1); !errors.Is(err, common.ErrNotParticipant) {
		t.Errorf("AddOffer error = %v, want NotParticipant", err)
	}
	if _, err := engine.SessionDetails(ctx, session.SessionID, "mallory"); !errors.Is(err, common.ErrNotParticipant) {
		t.Errorf("SessionDetails error = %v, want NotParticipant", err)
	}
	if err := engine.CancelSession(ctx, session.SessionID, "mallory"); !errors.Is(err, common.ErrNotParticipant) {
		t.Errorf("CancelSession error = %v, want NotParticipant", err)
	}
}

func TestOfferingUnownedInstanceFails(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	bobItem := seedInstance(t, store, "Moon Frog", "bob")
	session := liveSession(t, engine, "alice", "bob")

	err := engine.AddOffer(ctx, session.SessionID, "alice", bobItem, 1)
	var unavailable *common.ItemUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("AddOffer error = %v, want ItemUnavailableError", err)
	}
}

func TestMessagesRideAlongside(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	session := liveSession(t, engine, "alice", "bob")

	if _, err := engine.SendMessage(ctx, session.SessionID, "alice", "deal?"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); err != nil {
		t.Fatalf("AddOffer() error = %v", err)
	}

	view, err := engine.SessionDetails(ctx, session.SessionID, "bob")
	if err != nil {
		t.Fatalf("SessionDetails() error = %v", err)
	}
	// The preset message plus the automatic item-added line.
	if len(view.Messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(view.Messages))
	}
	if view.Messages[0].Type != models.MessagePreset {
		t.Errorf("first message type = %q, want %q", view.Messages[0].Type, models.MessagePreset)
	}
	if view.Messages[1].Type != models.MessageItemAdded {
		t.Errorf("second message type = %q, want %q", view.Messages[1].Type, models.MessageItemAdded)
	}

	if err := engine.MarkMessagesRead(ctx, session.SessionID, "bob"); err != nil {
		t.Fatalf("MarkMessagesRead() error = %v", err)
	}
	view, err = engine.SessionDetails(ctx, session.SessionID, "bob")
	if err != nil {
		t.Fatalf("SessionDetails() error = %v", err)
	}
	for _, msg := range view.Messages {
		if !msg.Read {
			t.Errorf("message %d still unread after MarkMessagesRead", msg.ID)
		}
	}
}

func TestDuplicateOfferIsNoop(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, trade.DefaultConfig())

	aliceItem := seedInstance(t, store, "Neon Tiger", "alice")
	session := liveSession(t, engine, "alice", "bob")

	for i := 0; i < 3; i++ {
		if err := engine.AddOffer(ctx, session.SessionID, "alice", aliceItem, 1); err != nil {
			t.Fatalf("AddOffer() #%d error = %v", i+1, err)
		}
	}
	view, err := engine.SessionDetails(ctx, session.SessionID, "alice")
	if err != nil {
		t.Fatalf("SessionDetails() error = %v", err)
	}
	if len(view.Offers) != 1 {
		t.Errorf("len(offers) = %d, want 1", len(view.Offers))
	}

	// Removing something that is not there is equally harmless.
	if err := engine.RemoveOffer(ctx, session.SessionID, "alice", 999); err != nil {
		t.Errorf("RemoveOffer(missing) error = %v, want nil", err)
	}
}
