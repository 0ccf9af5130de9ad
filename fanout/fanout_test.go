package fanout

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sizero-service/apperror"
	"sizero-service/gate"
	"sizero-service/model"
	"sizero-service/registry"
	"sizero-service/store"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type received struct {
	Event   string
	Payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []received
}

func (f *fakeEmitter) Emit(event string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var payload any
	if len(args) > 0 {
		payload = args[0]
	}
	f.events = append(f.events, received{Event: event, Payload: payload})
	return nil
}

func (f *fakeEmitter) received() []received {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]received(nil), f.events...)
}

type fixture struct {
	store    *store.Store
	gate     *gate.Gate
	registry *registry.Registry
	engine   *Engine
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
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
	g := gate.New(s)
	r := registry.New(g)
	return &fixture{store: s, gate: g, registry: r, engine: New(s, g, r), db: db}
}

func (f *fixture) seedUser(t *testing.T, username string) uint {
	t.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", Password: "x", Role: "user"}
	if err := f.db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u.ID
}

func (f *fixture) connect(t *testing.T, id string, userID uint, rooms ...uint) (*registry.Session, *fakeEmitter) {
	t.Helper()
	em := &fakeEmitter{}
	sess := registry.NewSession(id, userID, em)
	f.registry.Attach(sess, rooms)
	return sess, em
}

func TestSendBroadcasts(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")
	conv, _, err := f.store.FindOrCreateDirect(alice, bob)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	_, aliceEm := f.connect(t, "sa", alice, conv.ID)
	_, bobEm := f.connect(t, "sb", bob, conv.ID)

	view, err := f.engine.Send(alice, SendRequest{
		ConversationID: conv.ID,
		Kind:           model.KindText,
		Text:           "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if view.ID == 0 || view.Text != "hello" || view.SenderUsername != "alice" {
		t.Fatalf("view = %+v", view)
	}

	// Every subscribed session gets the broadcast, the sender's included.
	for name, em := range map[string]*fakeEmitter{"alice": aliceEm, "bob": bobEm} {
		got := em.received()
		if len(got) != 1 || got[0].Event != "message" {
			t.Fatalf("%s received %+v, want one message event", name, got)
		}
	}
}

func TestSendForbidden(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")
	mallory := f.seedUser(t, "mallory")
	conv, _, err := f.store.FindOrCreateDirect(alice, bob)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	_, aliceEm := f.connect(t, "sa", alice, conv.ID)

	_, err = f.engine.Send(mallory, SendRequest{
		ConversationID: conv.ID,
		Kind:           model.KindText,
		Text:           "let me in",
	})
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}

	// A refused send leaves no trace: nothing stored, nothing emitted.
	msgs, err := f.store.ListMessages(conv.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("rejected send was persisted: %d messages", len(msgs))
	}
	if len(aliceEm.received()) != 0 {
		t.Fatal("rejected send was broadcast")
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")
	conv, _, err := f.store.FindOrCreateDirect(alice, bob)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	cases := []struct {
		name string
		req  SendRequest
	}{
		{"empty text", SendRequest{ConversationID: conv.ID, Kind: model.KindText, Text: "   "}},
		{"unknown kind", SendRequest{ConversationID: conv.ID, Kind: "sticker", Text: "x"}},
		{"image without upload", SendRequest{ConversationID: conv.ID, Kind: model.KindImage}},
		{"voice without duration", SendRequest{ConversationID: conv.ID, Kind: model.KindVoice, FileURL: "/uploads/a.ogg"}},
	}
	for _, tc := range cases {
		if _, err := f.engine.Send(alice, tc.req); !errors.Is(err, apperror.ErrInvalidInput) {
			t.Errorf("%s: err = %v, want invalid input", tc.name, err)
		}
	}
}

func TestSendSkipsUnsubscribed(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")
	conv, _, err := f.store.FindOrCreateDirect(alice, bob)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	// Bob is a member but his session never joined the room.
	_, bobEm := f.connect(t, "sb", bob)

	if _, err := f.engine.Send(alice, SendRequest{
		ConversationID: conv.ID,
		Kind:           model.KindText,
		Text:           "hello",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(bobEm.received()) != 0 {
		t.Fatal("unsubscribed session received the broadcast")
	}
}

func TestSendOrderPerConversation(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")
	conv, _, err := f.store.FindOrCreateDirect(alice, bob)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	_, bobEm := f.connect(t, "sb", bob, conv.ID)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.engine.Send(alice, SendRequest{
				ConversationID: conv.ID,
				Kind:           model.KindText,
				Text:           fmt.Sprintf("msg %d", i),
			}); err != nil {
				t.Errorf("send %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	// Broadcast order must match commit order.
	got := bobEm.received()
	if len(got) != n {
		t.Fatalf("received %d events, want %d", len(got), n)
	}
	var lastID uint
	for i, ev := range got {
		view, ok := ev.Payload.(*store.MessageView)
		if !ok {
			t.Fatalf("event %d payload %T", i, ev.Payload)
		}
		if view.ID <= lastID {
			t.Fatalf("event %d out of order: id %d after %d", i, view.ID, lastID)
		}
		lastID = view.ID
	}
}

func TestSlowPublisherDoesNotStallSends(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")
	conv, _, err := f.store.FindOrCreateDirect(alice, bob)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	// The first publish blocks like a hung broker. Later sends in the
	// same conversation must still go through.
	var calls int32
	entered := make(chan struct{})
	release := make(chan struct{})
	f.engine.SetPublisher(func(action string, data []byte) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
	})
	defer close(release)

	go func() {
		f.engine.Send(alice, SendRequest{
			ConversationID: conv.ID,
			Kind:           model.KindText,
			Text:           "first",
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Send(alice, SendRequest{
			ConversationID: conv.ID,
			Kind:           model.KindText,
			Text:           "second",
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second send blocked behind the stuck publisher")
	}
}

func TestSendPublishesAuditEvent(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")
	conv, _, err := f.store.FindOrCreateDirect(alice, bob)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	var mu sync.Mutex
	published := map[string][]byte{}
	f.engine.SetPublisher(func(action string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		published[action] = data
	})

	view, err := f.engine.Send(alice, SendRequest{
		ConversationID: conv.ID,
		Kind:           model.KindText,
		Text:           "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	data, ok := published["message_created"]
	mu.Unlock()
	if !ok {
		t.Fatal("no message_created event published")
	}
	decoded := new(store.MessageView)
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if decoded.ID != view.ID {
		t.Fatalf("event message id = %d, want %d", decoded.ID, view.ID)
	}
}
