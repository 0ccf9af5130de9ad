// Package signaling relays a two-party offer/answer/ICE exchange between the
// participants of a conversation. The relay is a pure authenticated pipe: it
// validates no SDP, negotiates no media and persists nothing. State is one
// attempt per conversation, cleared on hangup or disconnect.
package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"sizero-service/apperror"
	"sizero-service/gate"
	"sizero-service/logging"
	"sizero-service/registry"
)

type phase int

const (
	phaseOfferSent phase = iota + 1
	phaseAnswerSent
	phaseActive
)

// attempt is the transient state of one call, keyed by conversation. Only
// direct, two-party conversations are meaningfully supported; relaying into
// a larger room is allowed but call semantics there are the endpoints'
// problem.
type attempt struct {
	initiatorID  uint
	phase        phase
	participants map[uint]struct{}
}

// OfferEvent is relayed to room peers as call_offer; AnswerEvent and
// CandidateEvent follow the same shape.
type OfferEvent struct {
	ConversationID uint            `json:"conversationId"`
	FromUserID     uint            `json:"fromUserId"`
	Offer          json.RawMessage `json:"offer"`
}

type AnswerEvent struct {
	ConversationID uint            `json:"conversationId"`
	FromUserID     uint            `json:"fromUserId"`
	Answer         json.RawMessage `json:"answer"`
}

type CandidateEvent struct {
	ConversationID uint            `json:"conversationId"`
	FromUserID     uint            `json:"fromUserId"`
	Candidate      json.RawMessage `json:"candidate"`
}

type EndEvent struct {
	ConversationID uint `json:"conversationId"`
	FromUserID     uint `json:"fromUserId"`
}

type Relay struct {
	gate     *gate.Gate
	registry *registry.Registry

	mu       sync.Mutex
	attempts map[uint]*attempt
}

func New(g *gate.Gate, r *registry.Registry) *Relay {
	return &Relay{
		gate:     g,
		registry: r,
		attempts: make(map[uint]*attempt),
	}
}

// Offer starts a call attempt and relays the offer to the rest of the room.
// A second offer while an attempt is live is rejected with a conflict; the
// caller must hang up first.
func (r *Relay) Offer(sess *registry.Session, conversationID uint, offer json.RawMessage) error {
	if err := r.authorize(sess.UserID, conversationID); err != nil {
		return err
	}

	r.mu.Lock()
	if r.attempts[conversationID] != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: a call is already in progress in conversation %d", apperror.ErrConflict, conversationID)
	}
	r.attempts[conversationID] = &attempt{
		initiatorID:  sess.UserID,
		phase:        phaseOfferSent,
		participants: map[uint]struct{}{sess.UserID: {}},
	}
	r.mu.Unlock()

	r.registry.Broadcast(conversationID, "call_offer", OfferEvent{
		ConversationID: conversationID,
		FromUserID:     sess.UserID,
		Offer:          offer,
	}, sess.ID)
	return nil
}

// Answer relays the responder's answer back to the room. It requires a
// pending offer.
func (r *Relay) Answer(sess *registry.Session, conversationID uint, answer json.RawMessage) error {
	if err := r.authorize(sess.UserID, conversationID); err != nil {
		return err
	}

	r.mu.Lock()
	att := r.attempts[conversationID]
	if att == nil || att.phase != phaseOfferSent {
		r.mu.Unlock()
		return fmt.Errorf("%w: no pending offer in conversation %d", apperror.ErrConflict, conversationID)
	}
	att.phase = phaseAnswerSent
	att.participants[sess.UserID] = struct{}{}
	r.mu.Unlock()

	r.registry.Broadcast(conversationID, "call_answer", AnswerEvent{
		ConversationID: conversationID,
		FromUserID:     sess.UserID,
		Answer:         answer,
	}, sess.ID)
	return nil
}

// Candidate relays an ICE candidate unchanged. Candidates are accepted in
// any live phase; the first one after the answer marks the call active.
func (r *Relay) Candidate(sess *registry.Session, conversationID uint, candidate json.RawMessage) error {
	if err := r.authorize(sess.UserID, conversationID); err != nil {
		return err
	}

	r.mu.Lock()
	att := r.attempts[conversationID]
	if att == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: no call attempt in conversation %d", apperror.ErrConflict, conversationID)
	}
	if att.phase == phaseAnswerSent {
		att.phase = phaseActive
	}
	att.participants[sess.UserID] = struct{}{}
	r.mu.Unlock()

	r.registry.Broadcast(conversationID, "ice_candidate", CandidateEvent{
		ConversationID: conversationID,
		FromUserID:     sess.UserID,
		Candidate:      candidate,
	}, sess.ID)
	return nil
}

// End clears the attempt on an explicit hangup and tells the rest of the
// room. Ending a conversation with no live attempt is a no-op, so both
// parties can hang up without racing each other.
func (r *Relay) End(sess *registry.Session, conversationID uint) error {
	if err := r.authorize(sess.UserID, conversationID); err != nil {
		return err
	}

	r.mu.Lock()
	att := r.attempts[conversationID]
	if att == nil {
		r.mu.Unlock()
		return nil
	}
	delete(r.attempts, conversationID)
	r.mu.Unlock()

	r.registry.Broadcast(conversationID, "call_end", EndEvent{
		ConversationID: conversationID,
		FromUserID:     sess.UserID,
	}, sess.ID)
	return nil
}

// HandleDisconnect ends every call attempt the disconnected user took part
// in across the rooms its session vacated. A disconnect is a hangup; the
// remaining participant gets call_end and a new offer can start fresh.
func (r *Relay) HandleDisconnect(userID uint, vacated []uint) {
	for _, conversationID := range vacated {
		r.mu.Lock()
		att := r.attempts[conversationID]
		if att == nil {
			r.mu.Unlock()
			continue
		}
		if _, involved := att.participants[userID]; !involved {
			r.mu.Unlock()
			continue
		}
		delete(r.attempts, conversationID)
		r.mu.Unlock()

		r.registry.Broadcast(conversationID, "call_end", EndEvent{
			ConversationID: conversationID,
			FromUserID:     userID,
		}, "")
		logging.Log.Debug().
			Uint("conversation", conversationID).
			Uint("user", userID).
			Msg("call ended by disconnect")
	}
}

// authorize applies the same write gate as message sends: signaling into a
// conversation requires an active membership.
func (r *Relay) authorize(userID, conversationID uint) error {
	ok, err := r.gate.CanWrite(userID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a member of conversation %d", apperror.ErrForbidden, conversationID)
	}
	return nil
}
