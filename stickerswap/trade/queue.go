package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/common"
	"github.com/swapdesk/stickerswap/stickerswap/database/models"
	"github.com/swapdesk/stickerswap/stickerswap/events"
)

// EnterQueue creates an anonymous matching session with only partyA seated
// and announces it on the matchmaking topic.
func (e *Engine) EnterQueue(ctx context.Context, partyID string) (*models.TradeSession, error) {
	code, err := e.codes.next()
	if err != nil {
		return nil, err
	}

	session := &models.TradeSession{
		SessionID: newSessionID(),
		Code:      code,
		Mode:      models.ModeLive,
		PartyA:    partyID,
		Status:    string(models.LiveMatching),
	}
	if err := e.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create matching session: %w", err)
	}

	slog.Info("Party entered matching queue",
		slog.String("session_id", session.SessionID),
		slog.String("code", session.Code),
		slog.String("party_a", partyID))

	ev := events.ChangeEvent{
		SessionID: session.SessionID,
		Kind:      events.KindSessionCreated,
		Actor:     partyID,
		UpdatedAt: session.UpdatedAt,
		Session:   session,
	}
	e.hub.Publish(ctx, events.TopicMatchmaking, ev)
	e.hub.Publish(ctx, session.SessionID, ev)
	return session, nil
}

// CancelQueue withdraws a still-unmatched session from the queue.
func (e *Engine) CancelQueue(ctx context.Context, sessionID, partyID string) error {
	session, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.PartyA != partyID {
		return common.ErrNotParticipant
	}
	if models.LiveStatus(session.Status) != models.LiveMatching {
		return common.ErrInvalidTransition
	}

	updated, err := e.sessions.Transition(ctx, sessionID,
		[]string{string(models.LiveMatching)}, string(models.LiveCancelled))
	if err != nil {
		return err
	}

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindCancelled,
		Actor:     partyID,
		UpdatedAt: updated.UpdatedAt,
		Session:   updated,
	})
	return nil
}

// Join atomically claims the open seat of a matching session. The first
// successful claim wins; later claimants get Conflict, never a silent
// overwrite.
func (e *Engine) Join(ctx context.Context, sessionID, partyID string) (*models.TradeSession, error) {
	session, err := e.sessions.ClaimSeat(ctx, sessionID, partyID)
	if err != nil {
		return nil, err
	}

	slog.Info("Party joined session",
		slog.String("session_id", session.SessionID),
		slog.String("party_a", session.PartyA),
		slog.String("party_b", session.PartyB))

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindPartyJoined,
		Actor:     partyID,
		UpdatedAt: session.UpdatedAt,
		Session:   session,
	})
	return session, nil
}

// DirectInvite skips the queue: a live invite lands directly in negotiating
// with both seats filled, a mailbox invite starts pending with an expiry and
// waits for the counterpart to accept or decline.
func (e *Engine) DirectInvite(ctx context.Context, partyA, partyB string, mode models.SessionMode) (*models.TradeSession, error) {
	if partyA == partyB || partyA == "" || partyB == "" {
		return nil, common.ErrConflict
	}

	code, err := e.codes.next()
	if err != nil {
		return nil, err
	}

	session := &models.TradeSession{
		SessionID: newSessionID(),
		Code:      code,
		Mode:      mode,
		PartyA:    partyA,
		PartyB:    partyB,
	}
	if mode == models.ModeMailbox {
		session.Status = string(models.MailboxPending)
		expires := time.Now().Add(e.cfg.MailboxTTL)
		session.ExpiresAt = &expires
	} else {
		session.Mode = models.ModeLive
		session.Status = string(models.LiveNegotiating)
	}

	if err := e.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create invite session: %w", err)
	}

	slog.Info("Direct invite created",
		slog.String("session_id", session.SessionID),
		slog.String("mode", string(session.Mode)),
		slog.String("party_a", partyA),
		slog.String("party_b", partyB))

	e.hub.Publish(ctx, session.SessionID, events.ChangeEvent{
		SessionID: session.SessionID,
		Kind:      events.KindSessionCreated,
		Actor:     partyA,
		UpdatedAt: session.UpdatedAt,
		Session:   session,
	})
	e.notifier.InviteSent(session)
	return session, nil
}

// AcceptInvite moves a pending mailbox session to active. Only the invited
// party may accept.
func (e *Engine) AcceptInvite(ctx context.Context, sessionID, partyID string) (*models.TradeSession, error) {
	session, err := e.openSession(ctx, sessionID, partyID)
	if err != nil {
		return nil, err
	}
	if session.Mode != models.ModeMailbox || session.PartyB != partyID {
		return nil, common.ErrInvalidTransition
	}

	updated, err := e.sessions.Transition(ctx, sessionID,
		[]string{string(models.MailboxPending)}, string(models.MailboxActive))
	if err != nil {
		return nil, err
	}

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindInviteAccepted,
		Actor:     partyID,
		UpdatedAt: updated.UpdatedAt,
		Session:   updated,
	})
	e.notifier.InviteAccepted(updated)
	return updated, nil
}

// DeclineInvite terminally declines a pending mailbox session.
func (e *Engine) DeclineInvite(ctx context.Context, sessionID, partyID string) error {
	session, err := e.openSession(ctx, sessionID, partyID)
	if err != nil {
		return err
	}
	if session.Mode != models.ModeMailbox || session.PartyB != partyID {
		return common.ErrInvalidTransition
	}

	updated, err := e.sessions.Transition(ctx, sessionID,
		[]string{string(models.MailboxPending)}, string(models.MailboxDeclined))
	if err != nil {
		return err
	}

	e.hub.Publish(ctx, sessionID, events.ChangeEvent{
		SessionID: sessionID,
		Kind:      events.KindInviteDeclined,
		Actor:     partyID,
		UpdatedAt: updated.UpdatedAt,
		Session:   updated,
	})
	return nil
}
