package models

import (
	"time"

	"github.com/uptrace/bun"
)

// SessionMode distinguishes the two negotiation flavors sharing one core:
// live sessions (both parties online, matched or invited, each signals ready)
// and mailbox sessions (long-lived, either side edits the ledger at any time).
type SessionMode string

const (
	ModeLive    SessionMode = "live"
	ModeMailbox SessionMode = "mailbox"
)

// SessionState is the behavior both status enumerations share. The two
// enumerations are deliberately distinct types: a live status is never
// comparable to a mailbox status.
type SessionState interface {
	Terminal() bool
	Open() bool
	String() string
}

// LiveStatus is the status enumeration for live (synchronous) sessions.
type LiveStatus string

const (
	LiveMatching    LiveStatus = "matching"
	LiveNegotiating LiveStatus = "negotiating"
	LivePartyAReady LiveStatus = "partyA_ready"
	LivePartyBReady LiveStatus = "partyB_ready"
	LiveCompleted   LiveStatus = "completed"
	LiveCancelled   LiveStatus = "cancelled"
)

func (s LiveStatus) Terminal() bool {
	return s == LiveCompleted || s == LiveCancelled
}

// Open reports whether ledger and confirmation mutations are accepted.
// A matching session has no second party yet, so it is not open either.
func (s LiveStatus) Open() bool {
	return s == LiveNegotiating || s == LivePartyAReady || s == LivePartyBReady
}

func (s LiveStatus) String() string { return string(s) }

// MailboxStatus is the status enumeration for mailbox (asynchronous) sessions.
type MailboxStatus string

const (
	MailboxPending   MailboxStatus = "pending"
	MailboxActive    MailboxStatus = "active"
	MailboxCompleted MailboxStatus = "completed"
	MailboxCancelled MailboxStatus = "cancelled"
	MailboxDeclined  MailboxStatus = "declined"
	MailboxExpired   MailboxStatus = "expired"
)

func (s MailboxStatus) Terminal() bool {
	return s == MailboxCompleted || s == MailboxCancelled || s == MailboxDeclined || s == MailboxExpired
}

// Open: a pending mailbox accepts ledger edits (the inviter composes the
// offer before the counterpart accepts), confirmation requires active.
func (s MailboxStatus) Open() bool { return s == MailboxActive || s == MailboxPending }

func (s MailboxStatus) String() string { return string(s) }

// ExpiredStatus is the terminal status a past-expiry session is swept to.
// The live enumeration has no expired member, so live sessions fall back to
// cancelled; the two status types never cross.
func ExpiredStatus(mode SessionMode) string {
	if mode == ModeLive {
		return string(LiveCancelled)
	}
	return string(MailboxExpired)
}

// TradeSession is the persisted negotiation context between exactly two
// parties. Confirmation flags are co-located with the session record.
type TradeSession struct {
	bun.BaseModel `bun:"table:trade_sessions,alias:ts"`

	ID        int64       `bun:"id,pk,autoincrement" json:"-"`
	SessionID string      `bun:"session_id,notnull,unique" json:"session_id"`
	Code      string      `bun:"code,notnull" json:"code"`
	Mode      SessionMode `bun:"mode,notnull" json:"mode"`
	PartyA    string      `bun:"party_a,notnull" json:"party_a"`
	PartyB    string      `bun:"party_b,nullzero" json:"party_b,omitempty"`
	Status    string      `bun:"status,notnull" json:"status"`

	PartyAConfirmed   bool       `bun:"party_a_confirmed,notnull,default:false" json:"party_a_confirmed"`
	PartyBConfirmed   bool       `bun:"party_b_confirmed,notnull,default:false" json:"party_b_confirmed"`
	PartyAConfirmedAt *time.Time `bun:"party_a_confirmed_at,nullzero" json:"party_a_confirmed_at,omitempty"`
	PartyBConfirmedAt *time.Time `bun:"party_b_confirmed_at,nullzero" json:"party_b_confirmed_at,omitempty"`

	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	CompletedAt *time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
}

// State returns the mode-appropriate tagged status.
func (t *TradeSession) State() SessionState {
	if t.Mode == ModeMailbox {
		return MailboxStatus(t.Status)
	}
	return LiveStatus(t.Status)
}

// IsParticipant reports whether partyID is one of the two seats.
func (t *TradeSession) IsParticipant(partyID string) bool {
	return partyID != "" && (t.PartyA == partyID || t.PartyB == partyID)
}

// Counterparty returns the other seat, or "" when partyID is not seated or
// the second seat is still empty.
func (t *TradeSession) Counterparty(partyID string) string {
	switch partyID {
	case t.PartyA:
		return t.PartyB
	case t.PartyB:
		return t.PartyA
	}
	return ""
}

// Confirmed reports the confirmation flag of the given party.
func (t *TradeSession) Confirmed(partyID string) bool {
	switch partyID {
	case t.PartyA:
		return t.PartyAConfirmed
	case t.PartyB:
		return t.PartyBConfirmed
	}
	return false
}

// BothConfirmed is the execution gate: both flags true at the same instant.
func (t *TradeSession) BothConfirmed() bool {
	return t.PartyAConfirmed && t.PartyBConfirmed
}

// Expired reports whether the session carries an expiry that has passed.
func (t *TradeSession) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
