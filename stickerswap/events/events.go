package events

import (
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

// TopicMatchmaking is the discovery topic where freshly queued live sessions
// are announced. Session change events are published on the session id.
const TopicMatchmaking = "matchmaking"

type Kind string

const (
	KindSessionCreated    Kind = "session-created"
	KindPartyJoined       Kind = "party-joined"
	KindInviteAccepted    Kind = "invite-accepted"
	KindInviteDeclined    Kind = "invite-declined"
	KindOfferAdded        Kind = "offer-added"
	KindOfferRemoved      Kind = "offer-removed"
	KindRequestAdded      Kind = "request-added"
	KindRequestRemoved    Kind = "request-removed"
	KindConfirmed         Kind = "confirmed"
	KindUnconfirmed       Kind = "unconfirmed"
	KindConfirmationReset Kind = "confirmation-reset"
	KindCompleted         Kind = "completed"
	KindCancelled         Kind = "cancelled"
	KindExpired           Kind = "expired"
	KindMessage           Kind = "message"
)

// ChangeEvent is one session mutation pushed to subscribed clients. Delivery
// is best-effort and at-least-once; the only ordering guarantee is the
// per-session monotonic UpdatedAt, which is why every event carries it.
type ChangeEvent struct {
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	Session *models.TradeSession `json:"session,omitempty"`
	Offer   *models.OfferEntry   `json:"offer,omitempty"`
	Request *models.RequestEntry `json:"request,omitempty"`
	Message *models.Message      `json:"message,omitempty"`
}

// SessionView is the authoritative snapshot of a session returned by the
// poll path and maintained locally by the client reducer.
type SessionView struct {
	Session  *models.TradeSession   `json:"session"`
	Offers   []*models.OfferEntry   `json:"offers"`
	Requests []*models.RequestEntry `json:"requests,omitempty"`
	Messages []*models.Message      `json:"messages,omitempty"`
}

// Clone deep-copies the view so a reducer can mutate its copy freely.
func (v *SessionView) Clone() *SessionView {
	if v == nil {
		return nil
	}
	out := &SessionView{}
	if v.Session != nil {
		session := *v.Session
		out.Session = &session
	}
	out.Offers = append([]*models.OfferEntry(nil), v.Offers...)
	out.Requests = append([]*models.RequestEntry(nil), v.Requests...)
	out.Messages = append([]*models.Message(nil), v.Messages...)
	return out
}
