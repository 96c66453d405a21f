package events

import (
	"sync"

	"github.com/swapdesk/stickerswap/stickerswap/database/models"
)

// Reducer folds the two inbound state sources of a client — pushed change
// events and authoritative poll snapshots — into one local session view.
// Both paths feed the same state, so they can never disagree: a snapshot
// replaces everything, and a pushed event is applied only when it is not
// older than what the view already reflects.
type Reducer struct {
	mu   sync.Mutex
	view *SessionView
}

func NewReducer() *Reducer {
	return &Reducer{}
}

// View returns a copy of the current local state, nil before the first
// snapshot arrived.
func (r *Reducer) View() *SessionView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone()
}

// ApplyServer installs an authoritative snapshot. The server state always
// wins, even when the local view looks newer: local state is only ever an
// echo of committed mutations, never a source of truth.
func (r *Reducer) ApplyServer(view *SessionView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = view.Clone()
}

// ApplyPush folds one pushed change event into the view. It reports false
// when the event could not be applied — no snapshot yet, or the event is
// older than the state already held — which tells the caller to re-poll.
func (r *Reducer) ApplyPush(ev ChangeEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.view == nil || r.view.Session == nil {
		return false
	}
	if ev.SessionID != r.view.Session.SessionID {
		return false
	}
	if ev.UpdatedAt.Before(r.view.Session.UpdatedAt) {
		return false
	}

	if ev.Session != nil {
		session := *ev.Session
		r.view.Session = &session
	}

	switch ev.Kind {
	case KindOfferAdded:
		if ev.Offer != nil {
			r.addOffer(ev.Offer)
		}
	case KindOfferRemoved:
		if ev.Offer != nil {
			r.removeOffer(ev.Offer.OwnerParty, ev.Offer.InstanceID)
		}
	case KindRequestAdded:
		if ev.Request != nil {
			r.addRequest(ev.Request)
		}
	case KindRequestRemoved:
		if ev.Request != nil {
			r.removeRequest(ev.Request.RequestingParty, ev.Request.InstanceID)
		}
	case KindMessage:
		if ev.Message != nil {
			r.addMessage(ev.Message)
		}
	}
	return true
}

func (r *Reducer) addOffer(offer *models.OfferEntry) {
	for _, existing := range r.view.Offers {
		if existing.OwnerParty == offer.OwnerParty && existing.InstanceID == offer.InstanceID {
			return
		}
	}
	entry := *offer
	r.view.Offers = append(r.view.Offers, &entry)
}

func (r *Reducer) removeOffer(party string, instanceID int64) {
	for i, existing := range r.view.Offers {
		if existing.OwnerParty == party && existing.InstanceID == instanceID {
			r.view.Offers = append(r.view.Offers[:i], r.view.Offers[i+1:]...)
			return
		}
	}
}

func (r *Reducer) addRequest(request *models.RequestEntry) {
	for _, existing := range r.view.Requests {
		if existing.RequestingParty == request.RequestingParty && existing.InstanceID == request.InstanceID {
			return
		}
	}
	entry := *request
	r.view.Requests = append(r.view.Requests, &entry)
}

func (r *Reducer) removeRequest(party string, instanceID int64) {
	for i, existing := range r.view.Requests {
		if existing.RequestingParty == party && existing.InstanceID == instanceID {
			r.view.Requests = append(r.view.Requests[:i], r.view.Requests[i+1:]...)
			return
		}
	}
}

func (r *Reducer) addMessage(msg *models.Message) {
	for _, existing := range r.view.Messages {
		if existing.ID == msg.ID {
			return
		}
	}
	entry := *msg
	r.view.Messages = append(r.view.Messages, &entry)
}
