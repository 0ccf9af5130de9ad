package controller

import (
	"sizero-service/database"
	"sizero-service/model"

	"github.com/gofiber/fiber/v2"
)

func AdminUsers(c *fiber.Ctx) error {
	var users []model.User
	if err := database.Postgres.Find(&users).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Internal server error",
			"data":    nil,
		})
	}

	result := make([]fiber.Map, 0, len(users))
	for _, u := range users {
		result = append(result, fiber.Map{
			"id":       u.ID,
			"username": u.Username,
			"email":    u.Email,
			"name":     u.Name,
			"role":     u.Role,
			"2fa":      u.Otp_enabled,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    result,
	})
}
