package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/common"
	"github.com/swapdesk/stickerswap/stickerswap/database/models"
	"github.com/swapdesk/stickerswap/stickerswap/events"
	"github.com/swapdesk/stickerswap/stickerswap/notifications"
)

// Config carries the negotiation policy knobs.
type Config struct {
	// MatchingTTL is how long a matching session may sit in the queue before
	// the sweeper cancels it.
	MatchingTTL time.Duration
	// MailboxTTL is the expiry horizon stamped on new mailbox sessions.
	MailboxTTL time.Duration
	// MinMailboxOffers is the minimum number of offers each side must have
	// before a double-confirmed mailbox session executes.
	MinMailboxOffers int
}

func DefaultConfig() Config {
	return Config{
		MatchingTTL:      5 * time.Minute,
		MailboxTTL:       7 * 24 * time.Hour,
		MinMailboxOffers: 1,
	}
}

// Engine is the trade negotiation core: session life-cycle, offer/request
// ledger, confirmation handshake and the trigger for atomic execution. All
// cross-party coordination goes through the stores; the hub only echoes
// committed mutations to the other client.
type Engine struct {
	sessions SessionStore
	ledger   LedgerStore
	stickers OwnershipStore
	messages MessageStore
	hub      events.Hub
	notifier notifications.Notifier
	cfg      Config
	codes    codePool
}

func NewEngine(
	sessions SessionStore,
	ledger LedgerStore,
	stickers OwnershipStore,
	messages MessageStore,
	hub events.Hub,
	notifier notifications.Notifier,
	cfg Config,
) *Engine {
	if sessions == nil || ledger == nil || stickers == nil || messages == nil {
		panic("trade engine requires all stores")
	}
	if hub == nil {
		hub = events.NewMemoryHub()
	}
	if notifier == nil {
		notifier = notifications.NoopNotifier{}
	}
	if cfg.MinMailboxOffers < 1 {
		cfg.MinMailboxOffers = 1
	}
	return &Engine{
		sessions: sessions,
		ledger:   ledger,
		stickers: stickers,
		messages: messages,
		hub:      hub,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Hub exposes the change-event hub for subscribers.
func (e *Engine) Hub() events.Hub { return e.hub }

// openSession loads the session and gates the caller: participants only,
// terminal sessions reject everything, a past-expiry session is swept to
// expired on the spot.
func (e *Engine) openSession(ctx context.Context, sessionID, partyID string) (*models.TradeSession, error) {
	session, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(partyID) {
		return nil, common.ErrNotParticipant
	}
	if session.State().Terminal() {
		return nil, common.ErrInvalidTransition
	}
	if session.Expired(time.Now()) {
		if swept, err := e.sessions.Transition(ctx, sessionID, nonTerminalStatuses(session.Mode), models.ExpiredStatus(session.Mode)); err == nil {
			e.hub.Publish(ctx, sessionID, events.ChangeEvent{
				SessionID: sessionID,
				Kind:      events.KindExpired,
				UpdatedAt: swept.UpdatedAt,
				Session:   swept,
			})
		}
		return nil, common.ErrExpired
	}
	return session, nil
}

// AddOffer puts one of the caller's sticker instances on the table. A
// duplicate offer of the same instance is an idempotent no-op. Any added row
// resets both confirmations (enforced inside the ledger store).
func (e *Engine) AddOffer(ctx context.Context, sessionID, partyID string, instanceID, quantity int64) error {
	session, err := e.openSession(ctx, sessionID, partyID)
	if err != nil {
		return err
	}
	if !session.State().Open() {
		return common.ErrInvalidTransition
	}
	if quantity <= 0 {
		quantity = 1
	}

	instance, err := e.stickers.Instance(ctx, instanceID)
	if err != nil {
		return err
	}
	// Best-effort check only: ownership can still change out-of-band before
	// execution, which re-verifies under lock.
	if instance.OwnerID != partyID {
		return &common.ItemUnavailableError{InstanceID: instanceID}
	}

	added, err := e.ledger.AddOffer(ctx, &models.OfferEntry{
		SessionID:  session.SessionID,
		OwnerParty: partyID,
		InstanceID: instanceID,
		Quantity:   quantity,
	})
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	e.recordLedgerMessage(ctx, sessionID, partyID, models.MessageItemAdded, instance.Name)
	e.publishLedgerChange(ctx, sessionID, partyID, events.KindOfferAdded, &models.OfferEntry{
		SessionID:  session.SessionID,
		OwnerParty: partyID,
		InstanceID: instanceID,
		Quantity:   quantity,
	}, nil)
	return nil
}

// RemoveOffer takes an instance off the table. Removing an offer that is not
// there is a no-op so that a user action and a sync-driven replay can race
// harmlessly.
func (e *Engine) RemoveOffer(ctx context.Context, sessionID, partyID string, instanceID int64) error {
	session, err := e.openSession(ctx, sessionID, partyID)
	if err != nil {
		return err
	}
	if !session.State().Open() {
		return common.ErrInvalidTransition
	}

	removed, err := e.ledger.RemoveOffer(ctx, sessionID, partyID, instanceID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	if instance, err := e.stickers.Instance(ctx, instanceID); err == nil {
		e.recordLedgerMessage(ctx, sessionID, partyID, models.MessageItemRemoved, instance.Name)
	}
	e.publishLedgerChange(ctx, sessionID, partyID, events.KindOfferRemoved, &models.OfferEntry{
		SessionID:  sessionID,
		OwnerParty: partyID,
		InstanceID: instanceID,
	}, nil)
	return nil
}

// AddRequest asks the counterparty for a specific instance they own.
// Mailbox sessions only.
func (e *Engine) AddRequest(ctx context.Context, sessionID, partyID string, instanceID int64) error {
	session, err := e.openSession(ctx, sessionID, partyID)
	if err != nil {
		return err
	}
	if session.Mode != models.ModeMailbox {
		return common.ErrInvalidTransition
	}
	if !session.State().Open() {
		return common.ErrInvalidTransition
	}

	instance, err := e.stickers.Instance(ctx, instanceID)
	if err != nil {
		return err
	}
	if instance.OwnerID != session.Counterparty(partyID) {
		return &common.ItemUnavailableError{InstanceID: instanceID}
	}

	added, err := e.ledger.AddRequest(ctx, &models.RequestEntry{
		SessionID:       session.SessionID,
		RequestingParty: partyID,
		InstanceID:      instanceID,
	})
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	e.publishLedgerChange(ctx, sessionID, partyID, events.KindRequestAdded, nil, &models.RequestEntry{
		SessionID:       session.SessionID,
		RequestingParty: partyID,
		InstanceID:      instanceID,
	})
	return nil
}

// RemoveRequest withdraws a request; missing entries are a no-op.
func (e *Engine) RemoveRequest(ctx context.Context, sessionID, partyID string, instanceID int64) error {
	session, err := e.openSession(ctx, sessionID, partyID)
	if err != nil {
		return err
	}
	if session.Mode != models.ModeMailbox {
		return common.ErrInvalidTransition
	}
	if !session.State().Open() {
		return common.ErrInvalidTransition
	}

	removed, err := e.ledger.RemoveRequest(ctx, sessionID, partyID, instanceID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	e.publishLedgerChange(ctx, sessionID, partyID, events.KindRequestRemoved, nil, &models.RequestEntry{
		SessionID:       sessionID,
		RequestingParty: partyID,
		InstanceID:      instanceID,
	})
	return nil
}

// Confirm sets the caller's confirmation flag. When both flags are true and
// the offer policy is satisfied it triggers the atomic swap. This is the only
// path that can reach execution, and a ledger change between the two
// confirmations clears both flags, so stale consent is never honored.
func (e *Engine) Confirm(ctx context.Context, sessionID, partyID string) (*models.TradeSession, error) {
	session, err := e.openSession(ctx, sessionID, partyID)
	if err != nil {
		return nil, err
	}
	if session.Mode == models.ModeMailbox {
		if models.MailboxStatus(session.Status) != models.MailboxActive {
			return nil, common.ErrInvalidTransition
		}
	} else if !models.LiveStatus(session.Status).Open() {
		return nil, common.ErrInvalidTransition
	}

	session, err = e.sessions.SetConfirmation(ctx, sessionID, partyID, true, time.Now())
	if err != nil {
		return nil, err
	}

	// Mirror live readiness in the status column. The counterpart may have
	// gone ready concurrently, in which case the status already moved and
	// the Conflict is harmless.
	if session.Mode == models.ModeLive && models.LiveStatus(session.Status) == models.LiveNegotiating {
		ready := models.LivePartyAReady
		if partyID == session.PartyB {
			ready = models.LivePartyBReady
		}
		if updated, err := e.sessions.Transition(ctx, sessionID,
			[]string{string(models.LiveNegotiating)}, string(ready)); err == nil {
			session = updated
		} else if !errors.Is(err, common.ErrConflict) {
			return nil, err
		} else if session, err = e.sessions.Session(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindConfirmed,
		Actor:     partyID,
		UpdatedAt: session.UpdatedAt,
		Session:   session,
	})

	if !session.BothConfirmed() {
		return session, nil
	}
	satisfied, err := e.offerPolicySatisfied(ctx, session)
	if err != nil {
		return nil, err
	}
	if !satisfied {
		return session, nil
	}

	executed, err := e.sessions.ExecuteSwap(ctx, sessionID)
	if err != nil {
		var unavailable *common.ItemUnavailableError
		if errors.As(err, &unavailable) {
			slog.Warn("Trade execution aborted, item unavailable",
				slog.String("session_id", sessionID),
				slog.Int64("instance_id", unavailable.InstanceID))
			if current, rerr := e.sessions.Session(ctx, sessionID); rerr == nil {
				e.hub.Publish(ctx, sessionID, events.ChangeEvent{
					SessionID: sessionID,
					Kind:      events.KindConfirmationReset,
					UpdatedAt: current.UpdatedAt,
					Session:   current,
				})
			}
		}
		return nil, err
	}

	slog.Info("Trade executed",
		slog.String("session_id", executed.SessionID),
		slog.String("code", executed.Code),
		slog.String("party_a", executed.PartyA),
		slog.String("party_b", executed.PartyB))

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindCompleted,
		Actor:     partyID,
		UpdatedAt: executed.UpdatedAt,
		Session:   executed,
	})
	e.notifier.TradeCompleted(executed)
	return executed, nil
}

// Unconfirm clears only the caller's own flag. Calling it twice, or when the
// flag is already clear, is a no-op.
func (e *Engine) Unconfirm(ctx context.Context, sessionID, partyID string) error {
	session, err := e.openSession(ctx, sessionID, partyID)
	if err != nil {
		return err
	}

	session, err = e.sessions.SetConfirmation(ctx, sessionID, partyID, false, time.Time{})
	if err != nil {
		return err
	}

	if session.Mode == models.ModeLive {
		ownReady := models.LivePartyAReady
		if partyID == session.PartyB {
			ownReady = models.LivePartyBReady
		}
		if updated, err := e.sessions.Transition(ctx, sessionID,
			[]string{string(ownReady)}, string(models.LiveNegotiating)); err == nil {
			session = updated
		} else if !errors.Is(err, common.ErrConflict) {
			return err
		}
	}

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindUnconfirmed,
		Actor:     partyID,
		UpdatedAt: session.UpdatedAt,
		Session:   session,
	})
	return nil
}

// CancelSession is unconditional: any participant may cancel any non-terminal
// session at any time.
func (e *Engine) CancelSession(ctx context.Context, sessionID, partyID string) error {
	session, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsParticipant(partyID) {
		return common.ErrNotParticipant
	}
	if session.State().Terminal() {
		return common.ErrInvalidTransition
	}

	cancelled := string(models.LiveCancelled)
	if session.Mode == models.ModeMailbox {
		cancelled = string(models.MailboxCancelled)
	}
	updated, err := e.sessions.Transition(ctx, sessionID, nonTerminalStatuses(session.Mode), cancelled)
	if err != nil {
		return err
	}

	slog.Info("Session cancelled",
		slog.String("session_id", sessionID),
		slog.String("by", partyID))

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindCancelled,
		Actor:     partyID,
		UpdatedAt: updated.UpdatedAt,
		Session:   updated,
	})
	return nil
}

// SessionDetails returns the authoritative snapshot used by the poll
// reconciler. Terminal sessions stay readable for display and history.
func (e *Engine) SessionDetails(ctx context.Context, sessionID, partyID string) (*events.SessionView, error) {
	session, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(partyID) {
		return nil, common.ErrNotParticipant
	}

	offers, err := e.ledger.Offers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	view := &events.SessionView{Session: session, Offers: offers}
	if session.Mode == models.ModeMailbox {
		if view.Requests, err = e.ledger.Requests(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	if view.Messages, err = e.messages.Messages(ctx, sessionID); err != nil {
		return nil, err
	}
	return view, nil
}

// SessionsForParty lists every session the party is seated in, newest first.
func (e *Engine) SessionsForParty(ctx context.Context, partyID string) ([]*models.TradeSession, error) {
	return e.sessions.SessionsForParty(ctx, partyID)
}

// SendMessage appends a preset chat message. Messages ride alongside the
// negotiation and are never read by execution.
func (e *Engine) SendMessage(ctx context.Context, sessionID, partyID, payload string) (*models.Message, error) {
	session, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(partyID) {
		return nil, common.ErrNotParticipant
	}
	if session.State().Terminal() {
		return nil, common.ErrInvalidTransition
	}

	msg := &models.Message{
		SessionID:   sessionID,
		SenderParty: partyID,
		Type:        models.MessagePreset,
		Payload:     payload,
	}
	if err := e.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindMessage,
		Actor:     partyID,
		UpdatedAt: msg.CreatedAt,
		Message:   msg,
	})
	return msg, nil
}

// MarkMessagesRead flips the advisory read flag on the counterparty's
// messages. No event is published for it.
func (e *Engine) MarkMessagesRead(ctx context.Context, sessionID, partyID string) error {
	session, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsParticipant(partyID) {
		return common.ErrNotParticipant
	}
	return e.messages.MarkRead(ctx, sessionID, partyID)
}

func (e *Engine) offerPolicySatisfied(ctx context.Context, session *models.TradeSession) (bool, error) {
	offers, err := e.ledger.Offers(ctx, session.SessionID)
	if err != nil {
		return false, err
	}

	counts := map[string]int{}
	for _, offer := range offers {
		counts[offer.OwnerParty]++
	}

	min := 1
	if session.Mode == models.ModeMailbox {
		min = e.cfg.MinMailboxOffers
	}
	return counts[session.PartyA] >= min && counts[session.PartyB] >= min, nil
}

// recordLedgerMessage appends the informational item-added/item-removed line.
// Message failures never fail the ledger operation.
func (e *Engine) recordLedgerMessage(ctx context.Context, sessionID, partyID string, msgType models.MessageType, stickerName string) {
	if err := e.messages.Append(ctx, &models.Message{
		SessionID:   sessionID,
		SenderParty: partyID,
		Type:        msgType,
		Payload:     stickerName,
	}); err != nil {
		slog.Warn("Failed to record ledger message",
			slog.String("session_id", sessionID),
			slog.String("type", string(msgType)),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) publishLedgerChange(ctx context.Context, sessionID, partyID string, kind events.Kind, offer *models.OfferEntry, request *models.RequestEntry) {
	ev := events.ChangeEvent{
		SessionID: sessionID,
		Kind:      kind,
		Actor:     partyID,
		Offer:     offer,
		Request:   request,
	}
	// Attach the post-mutation session so subscribers see the cleared
	// confirmation flags without a second event.
	if session, err := e.sessions.Session(ctx, sessionID); err == nil {
		ev.Session = session
		ev.UpdatedAt = session.UpdatedAt
	} else {
		ev.UpdatedAt = time.Now()
	}
	e.hub.Publish(ctx, sessionID, ev)
}

func nonTerminalStatuses(mode models.SessionMode) []string {
	if mode == models.ModeMailbox {
		return []string{string(models.MailboxPending), string(models.MailboxActive)}
	}
	return []string{
		string(models.LiveMatching),
		string(models.LiveNegotiating),
		string(models.LivePartyAReady),
		string(models.LivePartyBReady),
	}
}
