// Package gate derives read/write/manage permissions from the membership
// store. Every fanout and signaling operation consults it before touching
// state.
package gate

import (
	"errors"

	"sizero-service/apperror"
	"sizero-service/model"
	"sizero-service/store"
)

type Gate struct {
	store *store.Store
}

func New(s *store.Store) *Gate {
	return &Gate{store: s}
}

// CanRead is true for active members and for anyone on a public broadcast
// channel (read-only, non-member preview).
func (g *Gate) CanRead(userID, conversationID uint) (bool, error) {
	role, err := g.store.GetRole(conversationID, userID)
	if err != nil {
		return false, err
	}
	if role != "" {
		return true, nil
	}

	conv, err := g.store.GetConversation(conversationID)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return conv.Variant == model.VariantChannel && conv.Public, nil
}

// CanWrite is true only with an active membership, any role.
func (g *Gate) CanWrite(userID, conversationID uint) (bool, error) {
	role, err := g.store.GetRole(conversationID, userID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}

// CanManage is true only for owners and admins.
func (g *Gate) CanManage(userID, conversationID uint) (bool, error) {
	role, err := g.store.GetRole(conversationID, userID)
	if err != nil {
		return false, err
	}
	return role == model.RoleOwner || role == model.RoleAdmin, nil
}
