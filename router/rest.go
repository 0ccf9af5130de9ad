package router

import (
	"sizero-service/config"
	"sizero-service/controller"
	"sizero-service/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func Rest(app *fiber.App, chat *controller.Chat, users *controller.Users) {
	api := app.Group("/v1", logger.New())

	// Auth
	auth := api.Group("/auth")
	auth.Post("/signup", controller.AuthSignup)
	auth.Post("/signin", controller.AuthSignin)
	auth.Post("/token/renew", controller.AuthTokenRenew)
	auth.Post("/2fa/secret", middleware.JWT(), middleware.OTP(), controller.AuthOtpSecret)
	auth.Post("/2fa/verify", middleware.JWT(), middleware.OTP(), controller.AuthOtpVerify)
	auth.Post("/2fa/validate", middleware.JWT(), controller.AuthOtpValidate)
	auth.Post("/2fa/disable", middleware.JWT(), middleware.OTP(), controller.AuthOtpDisable)

	// User
	user := api.Group("/user", middleware.JWT(), middleware.OTP())
	user.Get("/profile", controller.UserProfile)
	user.Post("/profile", controller.UserProfileUpdate)
	user.Post("/profile/avatar", controller.UserAvatar)
	user.Get("/search", users.Search)

	// Chat
	api.Get("/chat", middleware.JWT(), middleware.OTP(), chat.List)
	chats := api.Group("/chat", middleware.JWT(), middleware.OTP())
	chats.Post("/direct", chat.CreateDirect)
	chats.Get("/:id/messages", chat.Messages)
	chats.Delete("/:id", chat.Delete)

	// Group
	api.Post("/group", middleware.JWT(), middleware.OTP(), chat.CreateGroup)
	group := api.Group("/group", middleware.JWT(), middleware.OTP())
	group.Post("/:id/invite", chat.Invite)
	group.Post("/:id/leave", chat.Leave)

	// Channel
	api.Get("/channel", middleware.JWT(), middleware.OTP(), chat.ListChannels)
	api.Post("/channel", middleware.JWT(), middleware.OTP(), chat.CreateChannel)
	channel := api.Group("/channel", middleware.JWT(), middleware.OTP())
	channel.Post("/:id/subscribe", chat.Subscribe)
	channel.Post("/:id/unsubscribe", chat.Unsubscribe)

	// Upload
	api.Post("/upload", middleware.JWT(), middleware.OTP(), chat.Upload)
	app.Static("/uploads", config.Config("UPLOAD_DIR"))

	// Admin
	admin := api.Group("/admin", middleware.JWT(), middleware.OTP(), middleware.RBAC())
	admin.Get("/users", controller.AdminUsers)
}
