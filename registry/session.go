package registry

import "sizero-service/logging"

// Emitter delivers one named event to a connected client. *socket.Socket
// satisfies it; tests use in-memory fakes.
type Emitter interface {
	Emit(event string, args ...any) error
}

// Session is the in-memory record of one connected, authenticated client.
// It lives only as long as the connection; nothing about it is persisted.
type Session struct {
	ID      string
	UserID  uint
	emitter Emitter
}

func NewSession(id string, userID uint, emitter Emitter) *Session {
	return &Session{ID: id, UserID: userID, emitter: emitter}
}

// Emit pushes one event to the client. Delivery to an already-closed
// connection is a no-op; the failure is logged, never propagated, so one
// dead subscriber cannot fail a broadcast.
func (s *Session) Emit(event string, payload any) {
	if err := s.emitter.Emit(event, payload); err != nil {
		logging.Log.Debug().
			Err(err).
			Str("session", s.ID).
			Str("event", event).
			Msg("emit to closed session")
	}
}
