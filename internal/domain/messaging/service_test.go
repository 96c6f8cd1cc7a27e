package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/users"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/websocket"
)

type mockRepo struct {
	mu    sync.Mutex
	items []*Message
	seq   int
}

func (m *mockRepo) Create(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	msg.ID = uuid.New()
	msg.CreatedAt = time.Date(2026, 3, 2, 9, 0, m.seq, 0, time.UTC)
	cp := *msg
	m.items = append(m.items, &cp)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.items {
		if msg.ID == id {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListThread(_ context.Context, conv string, limit, offset int) ([]*Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].ConversationID == conv {
			cp := *m.items[i]
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListConversations(_ context.Context, userID string, limit, offset int) ([]*Conversation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byConv := map[string]*Conversation{}
	for _, msg := range m.items {
		if msg.SenderID != userID && msg.RecipientID != userID {
			continue
		}
		c, ok := byConv[msg.ConversationID]
		if !ok {
			c = &Conversation{ID: msg.ConversationID, PeerID: msg.Peer(userID)}
			byConv[msg.ConversationID] = c
		}
		cp := *msg
		c.LastMessage = &cp
		if msg.RecipientID == userID && msg.ReadAt == nil {
			c.Unread++
		}
	}
	var out []*Conversation
	for _, c := range byConv {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt) })
	return out, len(out), nil
}

func (m *mockRepo) MarkRead(_ context.Context, conv, recipientID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.items {
		if msg.ConversationID == conv && msg.RecipientID == recipientID && msg.ReadAt == nil {
			t := at
			msg.ReadAt = &t
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) UnreadCount(_ context.Context, recipientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.items {
		if msg.RecipientID == recipientID && msg.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

type fakeDirectory map[string]*users.User

func (f fakeDirectory) Get(_ context.Context, id string) (*users.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return u, nil
}

type testEnv struct {
	svc  *Service
	repo *mockRepo
	hub  *websocket.Hub
}

func newTestService() *testEnv {
	env := &testEnv{repo: &mockRepo{}, hub: websocket.NewHub()}
	dir := fakeDirectory{
		"p1": {ID: "p1", Role: auth.RolePatient, Name: "Asha"},
		"d1": {ID: "d1", Role: auth.RoleDoctor, Name: "Dr. Rao"},
		"d2": {ID: "d2", Role: auth.RoleDoctor, Name: "Dr. Iyer"},
	}
	env.svc = NewService(env.repo, dir, env.hub, zerolog.Nop())
	return env
}

func userCtx(id string) context.Context {
	return auth.WithIdentity(context.Background(), id, []string{auth.RolePatient}, "", "")
}

func (env *testEnv) send(t *testing.T, from, to, body string) *Message {
	t.Helper()
	m, err := env.svc.Send(userCtx(from), SendRequest{RecipientID: to, Body: body})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestConversationID(t *testing.T) {
	if ConversationID("b", "a") != ConversationID("a", "b") {
		t.Error("expected conversation id to ignore order")
	}
	if got := ConversationID("p1", "d1"); got != "d1:p1" {
		t.Errorf("unexpected id %q", got)
	}
}

func TestSend_Validation(t *testing.T) {
	env := newTestService()
	ctx := userCtx("p1")
	empty := ""
	long := make([]byte, maxBodyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	cases := []SendRequest{
		{Body: "hi"},
		{RecipientID: "p1", Body: "hi"},
		{RecipientID: "d1", Body: "   "},
		{RecipientID: "d1", AttachmentURL: &empty},
		{RecipientID: "d1", Body: string(long)},
	}
	for i, req := range cases {
		if _, err := env.svc.Send(ctx, req); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if _, err := env.svc.Send(ctx, SendRequest{RecipientID: "ghost", Body: "hi"}); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("expected users.ErrNotFound, got %v", err)
	}
	url := "https://files.example/x-ray.png"
	if _, err := env.svc.Send(ctx, SendRequest{RecipientID: "d1", AttachmentURL: &url}); err != nil {
		t.Errorf("expected attachment-only message to be accepted, got %v", err)
	}
}

func TestSend_PublishesToRecipient(t *testing.T) {
	env := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := env.hub.Listen(ctx, 4, websocket.TopicMessages("d1"))

	m := env.send(t, "p1", "d1", "  my fever is back  ")
	if m.Body != "my fever is back" || m.ConversationID != "d1:p1" {
		t.Errorf("unexpected message: %+v", m)
	}

	select {
	case ev := <-events:
		if ev.Type != "message.new" || ev.ResourceID != m.ID.String() {
			t.Errorf("unexpected event: %+v", ev)
		}
		var got Message
		if err := json.Unmarshal(ev.Data, &got); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Body != m.Body {
			t.Errorf("expected body in event, got %q", got.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("expected message.new event")
	}
}

func TestThreadAndConversations(t *testing.T) {
	env := newTestService()
	env.send(t, "p1", "d1", "hello doctor")
	env.send(t, "d1", "p1", "hello Asha")
	env.send(t, "p1", "d1", "thanks")
	env.send(t, "d2", "p1", "lab results are in")

	thread, total, err := env.svc.Thread(userCtx("d1"), "p1", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || thread[0].Body != "thanks" {
		t.Errorf("expected 3 messages newest first, got %d, first %q", total, thread[0].Body)
	}

	convs, total, err := env.svc.Conversations(userCtx("p1"), 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 conversations, got %d", total)
	}
	if convs[0].PeerID != "d2" || convs[0].PeerName != "Dr. Iyer" || convs[0].Unread != 1 {
		t.Errorf("unexpected latest conversation: %+v", convs[0])
	}
	if convs[1].PeerID != "d1" || convs[1].Unread != 1 {
		t.Errorf("unexpected second conversation: %+v", convs[1])
	}
	if _, _, err := env.svc.Thread(userCtx("p1"), "", 20, 0); err == nil {
		t.Error("expected error for missing peer")
	}
}

func TestMarkRead(t *testing.T) {
	env := newTestService()
	env.send(t, "d1", "p1", "take the tablets")
	env.send(t, "d1", "p1", "after food")
	env.send(t, "d2", "p1", "unrelated")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := env.hub.Listen(ctx, 4, websocket.TopicMessages("d1"))

	n, err := env.svc.MarkRead(userCtx("p1"), "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 marked, got %d", n)
	}
	select {
	case ev := <-events:
		if ev.Type != "message.read" {
			t.Errorf("expected message.read, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected read receipt event")
	}
	unread, _ := env.svc.Unread(userCtx("p1"))
	if unread != 1 {
		t.Errorf("expected 1 unread left, got %d", unread)
	}
	if n, _ := env.svc.MarkRead(userCtx("p1"), "d1"); n != 0 {
		t.Errorf("expected nothing left to mark, got %d", n)
	}
}

func TestGet_ParticipantsOnly(t *testing.T) {
	env := newTestService()
	m := env.send(t, "p1", "d1", "private")
	if _, err := env.svc.Get(userCtx("d1"), m.ID); err != nil {
		t.Errorf("expected recipient access, got %v", err)
	}
	if _, err := env.svc.Get(userCtx("d2"), m.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Get(userCtx("p1"), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
