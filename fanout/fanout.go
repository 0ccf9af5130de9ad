// Package fanout accepts send requests, authorizes them, persists the
// message durably and distributes it to every currently-subscribed session
// of the conversation. Persistence is the serialization point: within one
// conversation the broadcast order is the commit order.
package fanout

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"sizero-service/apperror"
	"sizero-service/gate"
	"sizero-service/logging"
	"sizero-service/model"
	"sizero-service/registry"
	"sizero-service/store"
)

const maxTextLen = 4096

// SendRequest is the payload of a send_message event.
type SendRequest struct {
	ConversationID uint   `json:"conversationId"`
	Kind           string `json:"kind"`
	Text           string `json:"text"`
	FileURL        string `json:"fileUrl"`
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize"`
	Mime           string `json:"mime"`
	DurationSec    int    `json:"durationSec"`
}

// Publisher forwards audit events to the event bus. May be nil.
type Publisher func(action string, data []byte)

type Engine struct {
	store    *store.Store
	gate     *gate.Gate
	registry *registry.Registry
	publish  Publisher

	mu    sync.Mutex
	locks map[uint]*sync.Mutex // per-conversation commit/broadcast locks
}

func New(s *store.Store, g *gate.Gate, r *registry.Registry) *Engine {
	return &Engine{
		store:    s,
		gate:     g,
		registry: r,
		locks:    make(map[uint]*sync.Mutex),
	}
}

// SetPublisher attaches the event-bus hook for message audit events.
func (e *Engine) SetPublisher(p Publisher) {
	e.publish = p
}

// Send authorizes, validates, persists and broadcasts one message and
// returns the persisted record for the sender's ack. The broadcast goes to
// every session in the room, the sender's own included; the ack is the
// caller's separate reply. Failures reach the sender only.
func (e *Engine) Send(senderID uint, req SendRequest) (*store.MessageView, error) {
	ok, err := e.gate.CanWrite(senderID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a member of conversation %d", apperror.ErrForbidden, req.ConversationID)
	}

	if err := validate(&req); err != nil {
		return nil, err
	}

	sender, err := e.store.GetUserByID(senderID)
	if err != nil {
		return nil, err
	}

	// The per-conversation lock makes persist-then-broadcast atomic with
	// respect to other sends in the same conversation, so subscribers
	// observe messages in commit order. Sends in unrelated conversations
	// do not contend.
	lock := e.conversationLock(req.ConversationID)
	lock.Lock()

	msg := &model.Message{
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Kind:           req.Kind,
		Text:           req.Text,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		Mime:           req.Mime,
		DurationSec:    req.DurationSec,
	}
	if err := e.store.CreateMessage(msg); err != nil {
		lock.Unlock()
		return nil, err
	}

	view := &store.MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderUsername: sender.Username,
		Kind:           msg.Kind,
		Text:           msg.Text,
		FileURL:        msg.FileURL,
		FileName:       msg.FileName,
		FileSize:       msg.FileSize,
		Mime:           msg.Mime,
		DurationSec:    msg.DurationSec,
		CreatedAt:      msg.CreatedAt,
	}

	for _, sess := range e.registry.Snapshot(req.ConversationID) {
		sess.Emit("message", view)
	}
	lock.Unlock()

	// The bus publish does network I/O; it runs outside the conversation
	// lock so a slow broker cannot stall other sends.
	if e.publish != nil {
		if data, err := json.Marshal(view); err == nil {
			e.publish("message_created", data)
		}
	}

	logging.Log.Debug().
		Uint("conversation", msg.ConversationID).
		Uint("message", msg.ID).
		Msg("message fanned out")
	return view, nil
}

func (e *Engine) conversationLock(conversationID uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock := e.locks[conversationID]
	if lock == nil {
		lock = &sync.Mutex{}
		e.locks[conversationID] = lock
	}
	return lock
}

// validate checks the payload shape per kind. The engine never accepts raw
// binary: file kinds carry a reference produced by a prior upload.
func validate(req *SendRequest) error {
	switch req.Kind {
	case model.KindText:
		req.Text = strings.TrimSpace(req.Text)
		if req.Text == "" {
			return fmt.Errorf("%w: text required", apperror.ErrInvalidInput)
		}
		if len(req.Text) > maxTextLen {
			return fmt.Errorf("%w: text too long (max %d bytes)", apperror.ErrInvalidInput, maxTextLen)
		}
	case model.KindImage, model.KindFile:
		if req.FileURL == "" {
			return fmt.Errorf("%w: upload reference required for %s messages", apperror.ErrInvalidInput, req.Kind)
		}
	case model.KindVoice:
		if req.FileURL == "" {
			return fmt.Errorf("%w: upload reference required for voice messages", apperror.ErrInvalidInput)
		}
		if req.DurationSec <= 0 {
			return fmt.Errorf("%w: voice messages need a duration", apperror.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown message kind %q", apperror.ErrInvalidInput, req.Kind)
	}
	return nil
}
