package router

import (
	"encoding/json"
	"strconv"

	"sizero-service/apperror"
	"sizero-service/fanout"
	"sizero-service/logging"
	"sizero-service/model"
	"sizero-service/registry"
	"sizero-service/signaling"
	"sizero-service/store"
	"sizero-service/utils"

	"github.com/zishang520/socket.io/v2/socket"
)

// SocketDeps wires the realtime layer into the connection handlers.
type SocketDeps struct {
	Store     *store.Store
	Registry  *registry.Registry
	Fanout    *fanout.Engine
	Signaling *signaling.Relay
}

type JoinChatRequest struct {
	ConversationID uint `json:"conversationId"`
}

type JoinChatReply struct {
	Ok             bool   `json:"ok"`
	ConversationID uint   `json:"conversationId"`
	Error          string `json:"error,omitempty"`
}

type SendMessageReply struct {
	Ok      bool               `json:"ok"`
	Message *store.MessageView `json:"message,omitempty"`
	Error   string             `json:"error,omitempty"`
}

type CallRequest struct {
	ConversationID uint            `json:"conversationId"`
	Offer          json.RawMessage `json:"offer,omitempty"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

type CallError struct {
	ConversationID uint   `json:"conversationId"`
	Event          string `json:"event"`
	Error          string `json:"error"`
}

type UserStatus struct {
	ID     uint `json:"id"`
	Status bool `json:"status"`
}

// decode converts one socket.io argument back into a typed request. Payloads
// arrive as the parser's generic map form, so they take a round trip through
// the JSON encoder.
func decode(arg interface{}, out interface{}) error {
	raw, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func Socket(server *socket.Server, deps *SocketDeps) {
	server.On("connection", func(clients ...interface{}) {
		client := clients[0].(*socket.Socket)

		claims, ok := client.Data().(*utils.TokenMetadata)
		if !ok {
			client.Disconnect(true)
			return
		}
		id, err := strconv.ParseUint(claims.Id, 10, 64)
		if err != nil {
			client.Disconnect(true)
			return
		}
		userID := uint(id)

		// Subscribe the session to every conversation the user is an
		// active member of, as of connect time.
		convs, err := deps.Store.ListActiveConversationsFor(userID)
		if err != nil {
			logging.Log.Error().Err(err).Uint("user", userID).Msg("membership snapshot failed")
			client.Disconnect(true)
			return
		}
		conversationIDs := make([]uint, 0, len(convs))
		for _, conv := range convs {
			conversationIDs = append(conversationIDs, conv.ID)
		}

		sess := registry.NewSession(string(client.Id()), userID, client)
		deps.Registry.Attach(sess, conversationIDs)
		logging.Log.Info().
			Uint("user", userID).
			Str("session", sess.ID).
			Int("rooms", len(conversationIDs)).
			Msg("session attached")

		client.On("join_chat", func(args ...interface{}) {
			req := new(JoinChatRequest)
			if len(args) == 0 || decode(args[0], req) != nil {
				client.Emit("join_chat", JoinChatReply{Ok: false, Error: "invalid_input"})
				return
			}
			if err := deps.Registry.JoinChat(sess, req.ConversationID); err != nil {
				client.Emit("join_chat", JoinChatReply{
					Ok:             false,
					ConversationID: req.ConversationID,
					Error:          apperror.Code(err),
				})
				return
			}
			client.Emit("join_chat", JoinChatReply{Ok: true, ConversationID: req.ConversationID})
		})

		client.On("send_message", func(args ...interface{}) {
			req := new(fanout.SendRequest)
			if len(args) == 0 || decode(args[0], req) != nil {
				client.Emit("send_message", SendMessageReply{Ok: false, Error: "invalid_input"})
				return
			}
			view, err := deps.Fanout.Send(userID, *req)
			if err != nil {
				client.Emit("send_message", SendMessageReply{Ok: false, Error: apperror.Code(err)})
				return
			}
			client.Emit("send_message", SendMessageReply{Ok: true, Message: view})
		})

		client.On("user_status", func(args ...interface{}) {
			statuses := []UserStatus{}
			for _, conv := range mustConversations(deps.Store, userID) {
				if conv.Variant != model.VariantDirect {
					continue
				}
				peer, err := deps.Store.DirectPeer(conv.ID, userID)
				if err != nil || peer == nil {
					continue
				}
				statuses = append(statuses, UserStatus{
					ID:     peer.ID,
					Status: deps.Registry.IsOnline(peer.ID),
				})
			}
			client.Emit("user_status", statuses)
		})

		client.On("call_offer", func(args ...interface{}) {
			req := new(CallRequest)
			if len(args) == 0 || decode(args[0], req) != nil {
				client.Emit("call_error", CallError{Event: "call_offer", Error: "invalid_input"})
				return
			}
			if err := deps.Signaling.Offer(sess, req.ConversationID, req.Offer); err != nil {
				client.Emit("call_error", CallError{
					ConversationID: req.ConversationID,
					Event:          "call_offer",
					Error:          apperror.Code(err),
				})
			}
		})

		client.On("call_answer", func(args ...interface{}) {
			req := new(CallRequest)
			if len(args) == 0 || decode(args[0], req) != nil {
				client.Emit("call_error", CallError{Event: "call_answer", Error: "invalid_input"})
				return
			}
			if err := deps.Signaling.Answer(sess, req.ConversationID, req.Answer); err != nil {
				client.Emit("call_error", CallError{
					ConversationID: req.ConversationID,
					Event:          "call_answer",
					Error:          apperror.Code(err),
				})
			}
		})

		client.On("ice_candidate", func(args ...interface{}) {
			req := new(CallRequest)
			if len(args) == 0 || decode(args[0], req) != nil {
				client.Emit("call_error", CallError{Event: "ice_candidate", Error: "invalid_input"})
				return
			}
			if err := deps.Signaling.Candidate(sess, req.ConversationID, req.Candidate); err != nil {
				client.Emit("call_error", CallError{
					ConversationID: req.ConversationID,
					Event:          "ice_candidate",
					Error:          apperror.Code(err),
				})
			}
		})

		client.On("call_end", func(args ...interface{}) {
			req := new(CallRequest)
			if len(args) == 0 || decode(args[0], req) != nil {
				client.Emit("call_error", CallError{Event: "call_end", Error: "invalid_input"})
				return
			}
			if err := deps.Signaling.End(sess, req.ConversationID); err != nil {
				client.Emit("call_error", CallError{
					ConversationID: req.ConversationID,
					Event:          "call_end",
					Error:          apperror.Code(err),
				})
			}
		})

		client.On("disconnect", func(args ...interface{}) {
			uid, vacated, found := deps.Registry.Detach(sess.ID)
			if !found {
				return
			}
			deps.Signaling.HandleDisconnect(uid, vacated)
			logging.Log.Info().
				Uint("user", uid).
				Str("session", sess.ID).
				Msg("session detached")
		})
	})
}

// mustConversations is a best-effort read for presence queries; on a storage
// error it returns nothing rather than failing the event.
func mustConversations(s *store.Store, userID uint) []model.Conversation {
	convs, err := s.ListActiveConversationsFor(userID)
	if err != nil {
		logging.Log.Warn().Err(err).Uint("user", userID).Msg("conversation list failed")
		return nil
	}
	return convs
}
