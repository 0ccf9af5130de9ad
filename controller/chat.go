package controller

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"sizero-service/apperror"
	"sizero-service/config"
	"sizero-service/gate"
	"sizero-service/model"
	"sizero-service/store"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Chat carries the conversation endpoints. Unlike the auth handlers it keeps
// its dependencies explicit so the storage and authorization layers can be
// swapped out in tests.
type Chat struct {
	Store *store.Store
	Gate  *gate.Gate
}

type ChatDirectInput struct {
	Username string `json:"username"`
}

type ChatGroupInput struct {
	Title   string `json:"title"`
	Members []uint `json:"members"`
}

type ChatInviteInput struct {
	UserID uint   `json:"userId"`
	Role   string `json:"role"`
}

type ChatChannelInput struct {
	Title  string `json:"title"`
	Slug   string `json:"slug"`
	Public bool   `json:"public"`
}

// currentUserID extracts the authenticated user id from the JWT claims the
// middleware stored on the request.
func currentUserID(c *fiber.Ctx) (uint, error) {
	user, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return 0, fmt.Errorf("missing token")
	}
	claims, ok := user.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("malformed claims")
	}
	raw, ok := claims["id"].(string)
	if !ok {
		return 0, fmt.Errorf("malformed claims")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func storeError(c *fiber.Ctx, err error) error {
	return c.Status(apperror.Status(err)).JSON(fiber.Map{
		"status":  "error",
		"message": apperror.Code(err),
		"data":    nil,
	})
}

func (h *Chat) CreateDirect(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	input := new(ChatDirectInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	peer, err := h.Store.GetUserByUsername(strings.TrimSpace(input.Username))
	if err != nil {
		return storeError(c, err)
	}

	conv, created, err := h.Store.FindOrCreateDirect(userID, peer.ID)
	if err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data": fiber.Map{
			"id":      conv.ID,
			"variant": conv.Variant,
			"created": created,
		},
	})
}

// ChatListEntry is one row of the conversation overview, with a subtitle
// hydrated from the latest message.
type ChatListEntry struct {
	ID       uint   `json:"id"`
	Variant  string `json:"variant"`
	Title    string `json:"title"`
	Slug     string `json:"slug,omitempty"`
	Subtitle string `json:"subtitle"`
	Members  int64  `json:"members"`
}

func (h *Chat) List(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	convs, err := h.Store.ListActiveConversationsFor(userID)
	if err != nil {
		return storeError(c, err)
	}

	entries := make([]ChatListEntry, 0, len(convs))
	for _, conv := range convs {
		entry := ChatListEntry{
			ID:      conv.ID,
			Variant: conv.Variant,
			Title:   conv.Title,
		}
		if conv.Slug != nil {
			entry.Slug = *conv.Slug
		}

		// Direct chats take the peer's name as title.
		if conv.Variant == model.VariantDirect {
			peer, err := h.Store.DirectPeer(conv.ID, userID)
			if err == nil && peer != nil {
				entry.Title = peer.Username
				if peer.Name != "" {
					entry.Title = peer.Name
				}
			}
		}

		last, err := h.Store.LastMessage(conv.ID)
		if err == nil && last != nil {
			switch last.Kind {
			case model.KindText:
				entry.Subtitle = last.Text
			case model.KindImage:
				entry.Subtitle = "Image"
			case model.KindVoice:
				entry.Subtitle = "Voice message"
			default:
				entry.Subtitle = last.FileName
			}
		}

		count, err := h.Store.CountActiveMembers(conv.ID)
		if err == nil {
			entry.Members = count
		}

		entries = append(entries, entry)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    entries,
	})
}

func (h *Chat) Delete(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	convID, err := c.ParamsInt("id")
	if err != nil || convID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	conv, err := h.Store.GetConversation(uint(convID))
	if err != nil {
		return storeError(c, err)
	}

	// Direct chats may be deleted by either side, everything else only by
	// a manager.
	if conv.Variant == model.VariantDirect {
		if role, err := h.Store.GetRole(conv.ID, userID); err != nil {
			return storeError(c, err)
		} else if role == "" {
			return storeError(c, apperror.ErrForbidden)
		}
	} else {
		ok, err := h.Gate.CanManage(userID, conv.ID)
		if err != nil {
			return storeError(c, err)
		}
		if !ok {
			return storeError(c, apperror.ErrForbidden)
		}
	}

	if err := h.Store.DeleteConversation(conv.ID); err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    nil,
	})
}

func (h *Chat) Messages(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	convID, err := c.ParamsInt("id")
	if err != nil || convID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	ok, err := h.Gate.CanRead(userID, uint(convID))
	if err != nil {
		return storeError(c, err)
	}
	if !ok {
		return storeError(c, apperror.ErrForbidden)
	}

	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	messages, err := h.Store.ListMessages(uint(convID), limit)
	if err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    messages,
	})
}

func (h *Chat) CreateGroup(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	input := new(ChatGroupInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	conv, err := h.Store.CreateGroup(input.Title, userID, input.Members)
	if err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data": fiber.Map{
			"id":      conv.ID,
			"variant": conv.Variant,
			"title":   conv.Title,
		},
	})
}

func (h *Chat) Invite(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	convID, err := c.ParamsInt("id")
	if err != nil || convID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	input := new(ChatInviteInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	conv, err := h.Store.GetConversation(uint(convID))
	if err != nil {
		return storeError(c, err)
	}
	if conv.Variant != model.VariantGroup {
		return storeError(c, apperror.ErrInvalidInput)
	}

	ok, err := h.Gate.CanManage(userID, conv.ID)
	if err != nil {
		return storeError(c, err)
	}
	if !ok {
		return storeError(c, apperror.ErrForbidden)
	}

	if _, err := h.Store.GetUserByID(input.UserID); err != nil {
		return storeError(c, err)
	}

	role := input.Role
	if role == "" {
		role = model.RoleMember
	}
	if role != model.RoleMember && role != model.RoleAdmin {
		return storeError(c, apperror.ErrInvalidInput)
	}

	if err := h.Store.AddMember(conv.ID, input.UserID, role); err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    nil,
	})
}

func (h *Chat) Leave(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	convID, err := c.ParamsInt("id")
	if err != nil || convID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	conv, err := h.Store.GetConversation(uint(convID))
	if err != nil {
		return storeError(c, err)
	}
	if conv.Variant != model.VariantGroup {
		return storeError(c, apperror.ErrInvalidInput)
	}

	if err := h.Store.SetMemberStatus(conv.ID, userID, model.StatusLeft); err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    nil,
	})
}

func (h *Chat) CreateChannel(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	input := new(ChatChannelInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	conv, err := h.Store.CreateChannel(input.Title, input.Slug, input.Public, userID)
	if err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data": fiber.Map{
			"id":      conv.ID,
			"variant": conv.Variant,
			"title":   conv.Title,
			"slug":    conv.Slug,
			"public":  conv.Public,
		},
	})
}

func (h *Chat) ListChannels(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	listings, err := h.Store.ListPublicChannels(c.Query("q"), userID, 50)
	if err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    listings,
	})
}

func (h *Chat) Subscribe(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	convID, err := c.ParamsInt("id")
	if err != nil || convID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	conv, err := h.Store.GetConversation(uint(convID))
	if err != nil {
		return storeError(c, err)
	}
	if conv.Variant != model.VariantChannel || !conv.Public {
		return storeError(c, apperror.ErrForbidden)
	}

	if err := h.Store.AddMember(conv.ID, userID, model.RoleMember); err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    nil,
	})
}

func (h *Chat) Unsubscribe(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	convID, err := c.ParamsInt("id")
	if err != nil || convID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Review your input",
			"data":    nil,
		})
	}

	conv, err := h.Store.GetConversation(uint(convID))
	if err != nil {
		return storeError(c, err)
	}
	if conv.Variant != model.VariantChannel {
		return storeError(c, apperror.ErrInvalidInput)
	}

	if err := h.Store.SetMemberStatus(conv.ID, userID, model.StatusLeft); err != nil {
		return storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    nil,
	})
}

func (h *Chat) Upload(c *fiber.Ctx) error {
	if _, err := currentUserID(c); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid credentials",
			"data":    nil,
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "File is required",
			"data":    nil,
		})
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	name := uuid.NewString() + ext
	if err := c.SaveFile(file, filepath.Join(config.Config("UPLOAD_DIR"), name)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Internal server error",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data": fiber.Map{
			"url":  "/uploads/" + name,
			"name": file.Filename,
			"size": file.Size,
			"mime": file.Header.Get("Content-Type"),
		},
	})
}
