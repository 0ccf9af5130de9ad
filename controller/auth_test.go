package controller

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"

	"sizero-service/database"
	"sizero-service/model"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newAuthApp wires the signup endpoint against an in-memory database. The
// casbin model file is resolved relative to the repository root, so the test
// runs from there.
func newAuthApp(t *testing.T) *fiber.App {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("OTP_ISSUER", "sizero")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.Postgres = db

	app := fiber.New()
	app.Post("/v1/auth/signup", AuthSignup)
	return app
}

type envelope struct {
	Status  string          `json:"status"`
	Message any             `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func signup(t *testing.T, app *fiber.App, body any) (int, envelope) {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest("POST", "/v1/auth/signup", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	env := envelope{}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, env
}

func TestAuthSignupReturnsProfile(t *testing.T) {
	app := newAuthApp(t)

	status, env := signup(t, app, AuthSignupInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct horse",
		Name:     "Alice",
		About:    "hi there",
	})
	if status != fiber.StatusOK || env.Status != "success" {
		t.Fatalf("status = %d %q, want 200 success", status, env.Status)
	}

	profile := struct {
		ID       uint   `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Name     string `json:"name"`
		About    string `json:"about"`
	}{}
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.ID == 0 || profile.Username != "alice" || profile.Email != "alice@example.com" ||
		profile.Name != "Alice" || profile.About != "hi there" {
		t.Fatalf("profile = %+v", profile)
	}

	// The stored password is a bcrypt hash, never the plaintext.
	stored := new(model.User)
	if err := database.Postgres.First(stored, profile.ID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if stored.Password == "correct horse" || stored.Otp_secret == "" {
		t.Fatalf("stored user = %+v", stored)
	}
}

func TestAuthSignupValidation(t *testing.T) {
	app := newAuthApp(t)

	cases := []struct {
		name  string
		input AuthSignupInput
	}{
		{"missing username", AuthSignupInput{Email: "a@example.com", Password: "longenough"}},
		{"bad email", AuthSignupInput{Username: "alice", Email: "not-an-email", Password: "longenough"}},
		{"short password", AuthSignupInput{Username: "alice", Email: "a@example.com", Password: "short"}},
	}
	for _, tc := range cases {
		status, env := signup(t, app, tc.input)
		if status != fiber.StatusBadRequest || env.Status != "error" {
			t.Errorf("%s: status = %d %q, want 400 error", tc.name, status, env.Status)
		}
	}
}

func TestAuthSignupDuplicate(t *testing.T) {
	app := newAuthApp(t)

	if status, _ := signup(t, app, AuthSignupInput{
		Username: "alice", Email: "alice@example.com", Password: "longenough",
	}); status != fiber.StatusOK {
		t.Fatalf("first signup status = %d", status)
	}

	if status, env := signup(t, app, AuthSignupInput{
		Username: "alice2", Email: "alice@example.com", Password: "longenough",
	}); status != fiber.StatusBadRequest || env.Status != "error" {
		t.Errorf("duplicate email: status = %d %q, want 400 error", status, env.Status)
	}
	if status, env := signup(t, app, AuthSignupInput{
		Username: "alice", Email: "other@example.com", Password: "longenough",
	}); status != fiber.StatusBadRequest || env.Status != "error" {
		t.Errorf("duplicate username: status = %d %q, want 400 error", status, env.Status)
	}
}
