// Package memstore provides an in-memory implementation of the trade store
// interfaces backed by a single mutex. It powers the engine tests and small
// single-process deployments; the Postgres repositories are the production
// implementation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/common"
	"github.com/swapdesk/stickerswap/stickerswap/database/models"
	"github.com/swapdesk/stickerswap/stickerswap/trade"
)

var (
	_ trade.SessionStore   = (*Store)(nil)
	_ trade.LedgerStore    = (*Store)(nil)
	_ trade.OwnershipStore = (*Store)(nil)
	_ trade.MessageStore   = (*Store)(nil)
)

// Store implements trade.SessionStore, trade.LedgerStore, trade.OwnershipStore
// and trade.MessageStore over plain maps. All methods copy on the way in and
// out, so callers can never alias internal state.
type Store struct {
	mu sync.Mutex

	sessions  map[string]*models.TradeSession
	offers    map[string][]*models.OfferEntry
	requests  map[string][]*models.RequestEntry
	messages  map[string][]*models.Message
	instances map[int64]*models.StickerInstance

	nextEntryID    int64
	nextMessageID  int64
	nextInstanceID int64

	// TransferFault, when set, is consulted before each individual ownership
	// transfer inside ExecuteSwap. Returning an error aborts the whole swap
	// with no partial transfers applied. Tests use it to prove the
	// all-or-nothing property.
	TransferFault func(instanceID int64) error
}

func New() *Store {
	return &Store{
		sessions:  make(map[string]*models.TradeSession),
		offers:    make(map[string][]*models.OfferEntry),
		requests:  make(map[string][]*models.RequestEntry),
		messages:  make(map[string][]*models.Message),
		instances: make(map[int64]*models.StickerInstance),
	}
}

// SeedInstance registers a sticker instance, assigning an id when none is set.
func (s *Store) SeedInstance(instance *models.StickerInstance) *models.StickerInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if instance.ID == 0 {
		s.nextInstanceID++
		instance.ID = s.nextInstanceID
	} else if instance.ID > s.nextInstanceID {
		s.nextInstanceID = instance.ID
	}
	if instance.ObtainedAt.IsZero() {
		instance.ObtainedAt = time.Now()
	}
	instance.UpdatedAt = time.Now()
	s.instances[instance.ID] = cloneInstance(instance)
	return instance
}

func (s *Store) CreateSession(ctx context.Context, session *models.TradeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.SessionID]; ok {
		return common.ErrConflict
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	s.sessions[session.SessionID] = cloneSession(session)
	return nil
}

func (s *Store) Session(ctx context.Context, sessionID string) (*models.TradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session(sessionID)
}

func (s *Store) session(sessionID string) (*models.TradeSession, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) SessionsForParty(ctx context.Context, partyID string) ([]*models.TradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.TradeSession
	for _, session := range s.sessions {
		if session.PartyA == partyID || session.PartyB == partyID {
			out = append(out, cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ClaimSeat(ctx context.Context, sessionID, partyID string) (*models.TradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, common.ErrNotFound
	}
	if session.Status != string(models.LiveMatching) || session.PartyB != "" || session.PartyA == partyID {
		return nil, common.ErrConflict
	}
	session.PartyB = partyID
	session.Status = string(models.LiveNegotiating)
	session.UpdatedAt = time.Now()
	return cloneSession(session), nil
}

func (s *Store) Transition(ctx context.Context, sessionID string, from []string, to string) (*models.TradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, common.ErrNotFound
	}
	matched := false
	for _, status := range from {
		if session.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return nil, common.ErrConflict
	}
	session.Status = to
	session.UpdatedAt = time.Now()
	return cloneSession(session), nil
}

func (s *Store) SetConfirmation(ctx context.Context, sessionID, partyID string, confirmed bool, at time.Time) (*models.TradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, common.ErrNotFound
	}
	switch partyID {
	case session.PartyA:
		session.PartyAConfirmed = confirmed
		session.PartyAConfirmedAt = confirmedAt(confirmed, at)
	case session.PartyB:
		session.PartyBConfirmed = confirmed
		session.PartyBConfirmedAt = confirmedAt(confirmed, at)
	default:
		return nil, common.ErrNotParticipant
	}
	session.UpdatedAt = time.Now()
	return cloneSession(session), nil
}

func confirmedAt(confirmed bool, at time.Time) *time.Time {
	if !confirmed {
		return nil
	}
	return &at
}

// ExecuteSwap mirrors the transactional swap of the Postgres repository: it
// validates everything first, stages every transfer, and only then applies
// them, so a failure at any point leaves ownership completely untouched.
func (s *Store) ExecuteSwap(ctx context.Context, sessionID string) (*models.TradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, common.ErrNotFound
	}

	now := time.Now()
	if session.State().Terminal() {
		return nil, common.ErrInvalidTransition
	}
	if session.Expired(now) {
		session.Status = models.ExpiredStatus(session.Mode)
		session.UpdatedAt = now
		return nil, common.ErrExpired
	}
	if session.Mode == models.ModeMailbox && models.MailboxStatus(session.Status) != models.MailboxActive {
		return nil, common.ErrInvalidTransition
	}
	if !session.BothConfirmed() {
		return nil, common.ErrConflict
	}

	offers := append([]*models.OfferEntry(nil), s.offers[sessionID]...)
	sort.Slice(offers, func(i, j int) bool { return offers[i].InstanceID < offers[j].InstanceID })

	counts := map[string]int{}
	for _, offer := range offers {
		counts[offer.OwnerParty]++
	}
	if counts[session.PartyA] == 0 || counts[session.PartyB] == 0 {
		return nil, common.ErrConflict
	}

	// Stage first, apply after every check passed.
	type transfer struct {
		instance *models.StickerInstance
		newOwner string
	}
	staged := make([]transfer, 0, len(offers))
	for _, offer := range offers {
		instance, ok := s.instances[offer.InstanceID]
		if !ok || instance.OwnerID != offer.OwnerParty {
			s.resetAfterFailedSwap(session)
			return nil, &common.ItemUnavailableError{InstanceID: offer.InstanceID}
		}
		if s.TransferFault != nil {
			if err := s.TransferFault(offer.InstanceID); err != nil {
				s.resetAfterFailedSwap(session)
				return nil, &common.ItemUnavailableError{InstanceID: offer.InstanceID}
			}
		}
		staged = append(staged, transfer{instance: instance, newOwner: session.Counterparty(offer.OwnerParty)})
	}

	for _, t := range staged {
		t.instance.OwnerID = t.newOwner
		t.instance.UpdatedAt = now
	}

	if session.Mode == models.ModeMailbox {
		session.Status = string(models.MailboxCompleted)
	} else {
		session.Status = string(models.LiveCompleted)
	}
	session.CompletedAt = &now
	session.UpdatedAt = now
	return cloneSession(session), nil
}

func (s *Store) resetAfterFailedSwap(session *models.TradeSession) {
	session.PartyAConfirmed = false
	session.PartyBConfirmed = false
	session.PartyAConfirmedAt = nil
	session.PartyBConfirmedAt = nil
	if session.Mode == models.ModeLive {
		session.Status = string(models.LiveNegotiating)
	}
	session.UpdatedAt = time.Now()
}

func (s *Store) SweepStaleMatching(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, session := range s.sessions {
		if session.Status == string(models.LiveMatching) && !session.CreatedAt.After(cutoff) {
			session.Status = string(models.LiveCancelled)
			session.UpdatedAt = time.Now()
			ids = append(ids, session.SessionID)
		}
	}
	return ids, nil
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, session := range s.sessions {
		if session.Mode != models.ModeMailbox || session.State().Terminal() {
			continue
		}
		if session.Expired(now) {
			session.Status = string(models.MailboxExpired)
			session.UpdatedAt = now
			ids = append(ids, session.SessionID)
		}
	}
	return ids, nil
}

func (s *Store) AddOffer(ctx context.Context, entry *models.OfferEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[entry.SessionID]
	if !ok {
		return false, common.ErrNotFound
	}
	if session.State().Terminal() {
		return false, common.ErrInvalidTransition
	}
	for _, existing := range s.offers[entry.SessionID] {
		if existing.OwnerParty == entry.OwnerParty && existing.InstanceID == entry.InstanceID {
			return false, nil
		}
	}

	s.nextEntryID++
	entry.ID = s.nextEntryID
	entry.CreatedAt = time.Now()
	s.offers[entry.SessionID] = append(s.offers[entry.SessionID], cloneOffer(entry))
	s.invalidateConfirmations(session)
	return true, nil
}

func (s *Store) RemoveOffer(ctx context.Context, sessionID, partyID string, instanceID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return false, common.ErrNotFound
	}
	if session.State().Terminal() {
		return false, common.ErrInvalidTransition
	}
	entries := s.offers[sessionID]
	for i, existing := range entries {
		if existing.OwnerParty == partyID && existing.InstanceID == instanceID {
			s.offers[sessionID] = append(entries[:i], entries[i+1:]...)
			s.invalidateConfirmations(session)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Offers(ctx context.Context, sessionID string) ([]*models.OfferEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.OfferEntry, 0, len(s.offers[sessionID]))
	for _, entry := range s.offers[sessionID] {
		out = append(out, cloneOffer(entry))
	}
	return out, nil
}

func (s *Store) AddRequest(ctx context.Context, entry *models.RequestEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[entry.SessionID]
	if !ok {
		return false, common.ErrNotFound
	}
	if session.State().Terminal() {
		return false, common.ErrInvalidTransition
	}
	for _, existing := range s.requests[entry.SessionID] {
		if existing.RequestingParty == entry.RequestingParty && existing.InstanceID == entry.InstanceID {
			return false, nil
		}
	}

	s.nextEntryID++
	entry.ID = s.nextEntryID
	entry.CreatedAt = time.Now()
	s.requests[entry.SessionID] = append(s.requests[entry.SessionID], cloneRequest(entry))
	s.invalidateConfirmations(session)
	return true, nil
}

func (s *Store) RemoveRequest(ctx context.Context, sessionID, partyID string, instanceID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return false, common.ErrNotFound
	}
	if session.State().Terminal() {
		return false, common.ErrInvalidTransition
	}
	entries := s.requests[sessionID]
	for i, existing := range entries {
		if existing.RequestingParty == partyID && existing.InstanceID == instanceID {
			s.requests[sessionID] = append(entries[:i], entries[i+1:]...)
			s.invalidateConfirmations(session)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Requests(ctx context.Context, sessionID string) ([]*models.RequestEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.RequestEntry, 0, len(s.requests[sessionID]))
	for _, entry := range s.requests[sessionID] {
		out = append(out, cloneRequest(entry))
	}
	return out, nil
}

// invalidateConfirmations applies the rule that any ledger change voids both
// parties' standing consent.
func (s *Store) invalidateConfirmations(session *models.TradeSession) {
	session.PartyAConfirmed = false
	session.PartyBConfirmed = false
	session.PartyAConfirmedAt = nil
	session.PartyBConfirmedAt = nil
	if session.Mode == models.ModeLive {
		status := models.LiveStatus(session.Status)
		if status == models.LivePartyAReady || status == models.LivePartyBReady {
			session.Status = string(models.LiveNegotiating)
		}
	}
	session.UpdatedAt = time.Now()
}

func (s *Store) Instance(ctx context.Context, instanceID int64) (*models.StickerInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneInstance(instance), nil
}

func (s *Store) OwnerOf(ctx context.Context, instanceID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return "", common.ErrNotFound
	}
	return instance.OwnerID, nil
}

func (s *Store) InstancesOwnedBy(ctx context.Context, partyID string) ([]*models.StickerInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.StickerInstance
	for _, instance := range s.instances {
		if instance.OwnerID == partyID {
			out = append(out, cloneInstance(instance))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ObtainedAt.After(out[j].ObtainedAt)
	})
	return out, nil
}

func (s *Store) Append(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMessageID++
	msg.ID = s.nextMessageID
	msg.CreatedAt = time.Now()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], cloneMessage(msg))
	return nil
}

func (s *Store) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Message, 0, len(s.messages[sessionID]))
	for _, msg := range s.messages[sessionID] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, sessionID, partyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages[sessionID] {
		if msg.SenderParty != partyID {
			msg.Read = true
		}
	}
	return nil
}

func cloneSession(session *models.TradeSession) *models.TradeSession {
	out := *session
	out.PartyAConfirmedAt = cloneTime(session.PartyAConfirmedAt)
	out.PartyBConfirmedAt = cloneTime(session.PartyBConfirmedAt)
	out.CompletedAt = cloneTime(session.CompletedAt)
	out.ExpiresAt = cloneTime(session.ExpiresAt)
	return &out
}

func cloneOffer(entry *models.OfferEntry) *models.OfferEntry {
	out := *entry
	return &out
}

func cloneRequest(entry *models.RequestEntry) *models.RequestEntry {
	out := *entry
	return &out
}

func cloneMessage(msg *models.Message) *models.Message {
	out := *msg
	return &out
}

func cloneInstance(instance *models.StickerInstance) *models.StickerInstance {
	out := *instance
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
