// Package registry is the per-process map between live sessions and the
// conversation rooms they receive events for. It is the single shared
// mutable structure touched by every connection, so every mutation and every
// room read for fanout happens under one lock.
package registry

import (
	"fmt"
	"sync"

	"sizero-service/apperror"
)

// ReadAuthorizer gates room subscriptions. gate.Gate satisfies it.
type ReadAuthorizer interface {
	CanRead(userID, conversationID uint) (bool, error)
}

type Registry struct {
	auth ReadAuthorizer

	mu           sync.RWMutex
	sessions     map[string]*Session
	rooms        map[uint]map[string]*Session // conversationID -> sessionID -> session
	sessionRooms map[string]map[uint]struct{} // sessionID -> subscribed conversationIDs
	userSessions map[uint]int                 // connection count per user, for presence
}

func New(auth ReadAuthorizer) *Registry {
	return &Registry{
		auth:         auth,
		sessions:     make(map[string]*Session),
		rooms:        make(map[uint]map[string]*Session),
		sessionRooms: make(map[string]map[uint]struct{}),
		userSessions: make(map[uint]int),
	}
}

// Attach registers an authenticated session and subscribes it to the given
// conversations — the membership snapshot taken at connect time. Later
// membership changes require an explicit JoinChat.
func (r *Registry) Attach(sess *Session, conversationIDs []uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sess.ID] = sess
	r.sessionRooms[sess.ID] = make(map[uint]struct{})
	r.userSessions[sess.UserID]++
	for _, id := range conversationIDs {
		r.joinLocked(id, sess)
	}
}

// JoinChat subscribes the session to one conversation on demand. It requires
// read permission; on refusal no room state changes and the error goes to
// the caller only. Joining a room twice is a no-op.
func (r *Registry) JoinChat(sess *Session, conversationID uint) error {
	ok, err := r.auth.CanRead(sess.UserID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: conversation %d", apperror.ErrForbidden, conversationID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, attached := r.sessions[sess.ID]; !attached {
		return fmt.Errorf("%w: session %s", apperror.ErrNotFound, sess.ID)
	}
	r.joinLocked(conversationID, sess)
	return nil
}

// Detach removes the session from every room it was part of. A disconnect is
// final; there is no reconnection grace. It returns the user and the rooms
// the session vacated so the signaling relay can hang up calls.
func (r *Registry) Detach(sessionID string) (userID uint, vacated []uint, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, found := r.sessions[sessionID]
	if !found {
		return 0, nil, false
	}
	delete(r.sessions, sessionID)

	for conversationID := range r.sessionRooms[sessionID] {
		vacated = append(vacated, conversationID)
		r.leaveLocked(conversationID, sessionID)
	}
	delete(r.sessionRooms, sessionID)

	if r.userSessions[sess.UserID] > 1 {
		r.userSessions[sess.UserID]--
	} else {
		delete(r.userSessions, sess.UserID)
	}
	return sess.UserID, vacated, true
}

// Snapshot returns the sessions currently subscribed to a conversation. The
// slice is a copy; emitting to it cannot race a concurrent join or detach.
func (r *Registry) Snapshot(conversationID uint) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	sessions := make([]*Session, 0, len(room))
	for _, sess := range room {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Broadcast emits one event to every session in the room except the one
// identified by excludeSessionID. It returns the delivery count.
func (r *Registry) Broadcast(conversationID uint, event string, payload any, excludeSessionID string) int {
	delivered := 0
	for _, sess := range r.Snapshot(conversationID) {
		if sess.ID == excludeSessionID {
			continue
		}
		sess.Emit(event, payload)
		delivered++
	}
	return delivered
}

// InRoom reports whether the session is subscribed to the conversation.
func (r *Registry) InRoom(conversationID uint, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][sessionID]
	return ok
}

// IsOnline reports whether the user has at least one live session.
func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userSessions[userID] > 0
}

func (r *Registry) joinLocked(conversationID uint, sess *Session) {
	room := r.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Session)
		r.rooms[conversationID] = room
	}
	room[sess.ID] = sess
	r.sessionRooms[sess.ID][conversationID] = struct{}{}
}

func (r *Registry) leaveLocked(conversationID uint, sessionID string) {
	room := r.rooms[conversationID]
	delete(room, sessionID)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
}
