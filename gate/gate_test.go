package gate

import (
	"testing"

	"sizero-service/model"
	"sizero-service/store"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestGate(t *testing.T) (*Gate, *store.Store, *gorm.DB) {
	t.Helper()

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

	if err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Membership{},
		&model.Message{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := store.New(db)
	return New(s), s, db
}

func seedUser(t *testing.T, db *gorm.DB, username string) uint {
	t.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", Password: "x", Role: "user"}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u.ID
}

func TestMemberPermissions(t *testing.T) {
	g, s, db := newTestGate(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	carol := seedUser(t, db, "carol")

	conv, err := s.CreateGroup("friends", alice, []uint{bob})
	if err != nil {
		t.Fatalf("group: %v", err)
	}

	cases := []struct {
		name                string
		user                uint
		read, write, manage bool
	}{
		{"owner", alice, true, true, true},
		{"member", bob, true, true, false},
		{"outsider", carol, false, false, false},
	}
	for _, tc := range cases {
		if got, _ := g.CanRead(tc.user, conv.ID); got != tc.read {
			t.Errorf("%s CanRead = %v, want %v", tc.name, got, tc.read)
		}
		if got, _ := g.CanWrite(tc.user, conv.ID); got != tc.write {
			t.Errorf("%s CanWrite = %v, want %v", tc.name, got, tc.write)
		}
		if got, _ := g.CanManage(tc.user, conv.ID); got != tc.manage {
			t.Errorf("%s CanManage = %v, want %v", tc.name, got, tc.manage)
		}
	}
}

func TestPublicChannelPreview(t *testing.T) {
	g, s, db := newTestGate(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	public, err := s.CreateChannel("News", "news-room", true, alice)
	if err != nil {
		t.Fatalf("public channel: %v", err)
	}
	private, err := s.CreateChannel("Secret", "secret-room", false, alice)
	if err != nil {
		t.Fatalf("private channel: %v", err)
	}

	// Non-members may read a public channel but not write to it.
	if ok, _ := g.CanRead(bob, public.ID); !ok {
		t.Error("non-member denied public channel read")
	}
	if ok, _ := g.CanWrite(bob, public.ID); ok {
		t.Error("non-member allowed public channel write")
	}

	if ok, _ := g.CanRead(bob, private.ID); ok {
		t.Error("non-member allowed private channel read")
	}
}

func TestLeftMemberLosesAccess(t *testing.T) {
	g, s, db := newTestGate(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	conv, err := s.CreateGroup("friends", alice, []uint{bob})
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if err := s.SetMemberStatus(conv.ID, bob, model.StatusLeft); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if ok, _ := g.CanRead(bob, conv.ID); ok {
		t.Error("left member can still read")
	}
	if ok, _ := g.CanWrite(bob, conv.ID); ok {
		t.Error("left member can still write")
	}
}

func TestMissingConversation(t *testing.T) {
	g, _, db := newTestGate(t)
	alice := seedUser(t, db, "alice")

	ok, err := g.CanRead(alice, 9999)
	if err != nil {
		t.Fatalf("missing conversation: %v", err)
	}
	if ok {
		t.Error("read allowed on missing conversation")
	}
}
