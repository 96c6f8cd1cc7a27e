package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/domain/notification"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	notify "github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/internal/platform/websocket"
)

// -- Mocks --

type mockQueueRepo struct {
	mu       sync.Mutex
	counters map[string]int
	entries  map[uuid.UUID]*Entry
}

func newMockQueueRepo() *mockQueueRepo {
	return &mockQueueRepo{counters: make(map[string]int), entries: make(map[uuid.UUID]*Entry)}
}

func counterKey(hid uuid.UUID, day time.Time) string {
	return fmt.Sprintf("%s/%s", hid, day.Format("2006-01-02"))
}

func (m *mockQueueRepo) NextNumber(_ context.Context, hid uuid.UUID, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := counterKey(hid, day)
	m.counters[k]++
	return m.counters[k], nil
}

func (m *mockQueueRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.entries {
		if o.HospitalID == e.HospitalID && o.QueueDate.Equal(e.QueueDate) && o.PatientID == e.PatientID && IsOpen(o.Status) {
			return ErrAlreadyQueued
		}
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockQueueRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockQueueRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return m.GetByID(ctx, id)
}

func (m *mockQueueRepo) Update(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; !ok {
		return ErrNotFound
	}
	e.UpdatedAt = time.Now()
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockQueueRepo) sorted(hid uuid.UUID, day time.Time, keep func(*Entry) bool) []*Entry {
	var out []*Entry
	for _, e := range m.entries {
		if e.HospitalID == hid && e.QueueDate.Equal(day) && keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out
}

func (m *mockQueueRepo) LockNextWaiting(_ context.Context, hid uuid.UUID, day time.Time, department string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.sorted(hid, day, func(e *Entry) bool {
		return e.Status == StatusWaiting && (department == "" || e.Department == department)
	})
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	return items[0], nil
}

func (m *mockQueueRepo) ListByDay(_ context.Context, hid uuid.UUID, day time.Time, status string) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(hid, day, func(e *Entry) bool { return status == "" || e.Status == status }), nil
}

func (m *mockQueueRepo) CountAhead(_ context.Context, e *Entry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sorted(e.HospitalID, e.QueueDate, func(o *Entry) bool {
		return o.Status == StatusWaiting && o.QueueNumber < e.QueueNumber
	})), nil
}

func (m *mockQueueRepo) OpenForPatient(_ context.Context, patientID string, hid uuid.UUID, day time.Time) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.sorted(hid, day, func(e *Entry) bool { return e.PatientID == patientID && IsOpen(e.Status) })
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

type fakeHospitals struct {
	ids map[uuid.UUID]bool
}

func (f *fakeHospitals) Get(_ context.Context, id uuid.UUID) (*hospital.Hospital, error) {
	if !f.ids[id] {
		return nil, hospital.ErrNotFound
	}
	return &hospital.Hospital{ID: id, Name: "City Hospital"}, nil
}

func (f *fakeHospitals) Authorize(ctx context.Context, id uuid.UUID) error {
	if auth.HasRole(ctx, auth.RoleHospital) && auth.HospitalIDFromContext(ctx) == id.String() {
		return nil
	}
	return hospital.ErrForbidden
}

type fakeNotifier struct {
	templates *notify.TemplateEngine
	delivered []*notification.Notification
}

func (f *fakeNotifier) Build(kind notify.Kind, recipientID string, hospitalID, alertID *uuid.UUID, data map[string]string) *notification.Notification {
	title, body := f.templates.MustRender(kind, data)
	return &notification.Notification{RecipientID: recipientID, HospitalID: hospitalID, Kind: string(kind), Title: title, Message: body}
}

func (f *fakeNotifier) CreateBatch(context.Context, []*notification.Notification) error { return nil }

func (f *fakeNotifier) DeliverAll(_ context.Context, ns []*notification.Notification) int {
	f.delivered = append(f.delivered, ns...)
	return len(ns)
}

// -- Helpers --

type testEnv struct {
	svc      *Service
	repo     *mockQueueRepo
	notifier *fakeNotifier
	hub      *websocket.Hub
	hid      uuid.UUID
	clock    time.Time
}

func newTestService() *testEnv {
	hid := uuid.New()
	env := &testEnv{
		repo:     newMockQueueRepo(),
		notifier: &fakeNotifier{templates: notify.NewTemplateEngine()},
		hub:      websocket.NewHub(),
		hid:      hid,
		clock:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(env.repo, &fakeHospitals{ids: map[uuid.UUID]bool{hid: true}}, env.notifier, env.hub, db.NoTx, nil, zerolog.Nop())
	env.svc.now = func() time.Time { return env.clock }
	return env
}

func patientCtx(id string) context.Context {
	return auth.WithIdentity(context.Background(), id, []string{auth.RolePatient}, "Patient "+id, "")
}

func (env *testEnv) staffCtx() context.Context {
	return auth.WithIdentity(context.Background(), "h-user", []string{auth.RoleHospital}, "", env.hid.String())
}

func (env *testEnv) join(t *testing.T, patient, dept string) *Position {
	t.Helper()
	pos, err := env.svc.Join(patientCtx(patient), env.hid, JoinRequest{Department: dept})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return pos
}

// -- Tests --

func TestDay(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	late := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	if got := Day(late, kolkata); got.Day() != 2 {
		t.Errorf("expected 20:00 UTC to be the next day in IST, got %v", got)
	}
	if got := Day(late, time.UTC); got.Day() != 1 || got.Hour() != 0 {
		t.Errorf("expected midnight of the 1st, got %v", got)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StatusWaiting, StatusCalled) || !CanTransition(StatusSkipped, StatusWaiting) {
		t.Error("expected allowed transitions")
	}
	if CanTransition(StatusCompleted, StatusWaiting) || CanTransition(StatusLeft, StatusCalled) {
		t.Error("expected closed entries to stay closed")
	}
}

func TestJoin_SequentialNumbers(t *testing.T) {
	env := newTestService()
	a := env.join(t, "p1", "OPD")
	b := env.join(t, "p2", "OPD")
	c := env.join(t, "p3", "Dental")
	if a.Entry.QueueNumber != 1 || b.Entry.QueueNumber != 2 || c.Entry.QueueNumber != 3 {
		t.Errorf("expected 1,2,3 got %d,%d,%d", a.Entry.QueueNumber, b.Entry.QueueNumber, c.Entry.QueueNumber)
	}
	if a.Ahead != 0 || c.Ahead != 2 {
		t.Errorf("unexpected ahead counts %d, %d", a.Ahead, c.Ahead)
	}
	if c.Entry.PatientName != "Patient p3" || c.Entry.Status != StatusWaiting {
		t.Errorf("unexpected entry: %+v", c.Entry)
	}
}

func TestJoin_Concurrent(t *testing.T) {
	env := newTestService()
	const n = 20
	var wg sync.WaitGroup
	numbers := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pos, err := env.svc.Join(patientCtx(fmt.Sprintf("p%d", i)), env.hid, JoinRequest{})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			numbers <- pos.Entry.QueueNumber
		}(i)
	}
	wg.Wait()
	close(numbers)
	seen := make(map[int]bool)
	for num := range numbers {
		if seen[num] {
			t.Fatalf("queue number %d issued twice", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct numbers, got %d", n, len(seen))
	}
}

func TestJoin_OneOpenEntryPerDay(t *testing.T) {
	env := newTestService()
	first := env.join(t, "p1", "")
	if _, err := env.svc.Join(patientCtx("p1"), env.hid, JoinRequest{}); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}
	if _, err := env.svc.Leave(patientCtx("p1"), first.Entry.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again := env.join(t, "p1", "")
	if again.Entry.QueueNumber != 2 {
		t.Errorf("expected fresh number 2, got %d", again.Entry.QueueNumber)
	}

	// Next day starts over.
	env.clock = env.clock.Add(24 * time.Hour)
	next := env.join(t, "p1", "")
	if next.Entry.QueueNumber != 1 {
		t.Errorf("expected numbering to restart, got %d", next.Entry.QueueNumber)
	}
}

func TestJoin_UnknownHospital(t *testing.T) {
	env := newTestService()
	if _, err := env.svc.Join(patientCtx("p1"), uuid.New(), JoinRequest{}); !errors.Is(err, hospital.ErrNotFound) {
		t.Errorf("expected hospital.ErrNotFound, got %v", err)
	}
}

func TestCallNext(t *testing.T) {
	env := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := env.hub.Listen(ctx, 8, websocket.TopicQueue(env.hid.String()))

	env.join(t, "p1", "OPD")
	second := env.join(t, "p2", "Dental")

	if _, err := env.svc.CallNext(patientCtx("p1"), env.hid, ""); !errors.Is(err, hospital.ErrForbidden) {
		t.Errorf("expected hospital.ErrForbidden for patient, got %v", err)
	}

	called, err := env.svc.CallNext(env.staffCtx(), env.hid, "Dental")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called.ID != second.Entry.ID || called.Status != StatusCalled || called.CalledAt == nil {
		t.Errorf("expected the Dental entry called, got %+v", called)
	}
	if len(env.notifier.delivered) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(env.notifier.delivered))
	}
	n := env.notifier.delivered[0]
	if n.RecipientID != "p2" || n.Message != "Token 2 is being called at Dental." {
		t.Errorf("unexpected notification: %+v", n)
	}

	var types []string
	for len(types) < 3 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 queue events, got %v", types)
		}
	}
	if types[2] != "queue.called" {
		t.Errorf("expected queue.called last, got %v", types)
	}

	if _, err := env.svc.CallNext(env.staffCtx(), env.hid, "Dental"); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	env := newTestService()
	pos := env.join(t, "p1", "")
	env.join(t, "p2", "")
	id := pos.Entry.ID
	staff := env.staffCtx()

	if _, err := env.svc.UpdateStatus(staff, id, "teleported"); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := env.svc.UpdateStatus(staff, id, StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition waiting -> completed, got %v", err)
	}
	skipped, err := env.svc.UpdateStatus(staff, id, StatusSkipped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped.Status != StatusSkipped {
		t.Errorf("expected skipped, got %s", skipped.Status)
	}
	requeued, err := env.svc.UpdateStatus(staff, id, StatusWaiting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requeued.QueueNumber != 3 {
		t.Errorf("expected re-queued entry to get number 3, got %d", requeued.QueueNumber)
	}
	called, err := env.svc.UpdateStatus(staff, id, StatusCalled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called.CalledAt == nil || len(env.notifier.delivered) != 1 {
		t.Errorf("expected manual call to notify the patient")
	}
	for _, s := range []string{StatusInConsultation, StatusCompleted} {
		if _, err := env.svc.UpdateStatus(staff, id, s); err != nil {
			t.Fatalf("unexpected error moving to %s: %v", s, err)
		}
	}
}

func TestPosition(t *testing.T) {
	env := newTestService()
	a := env.join(t, "p1", "")
	b := env.join(t, "p2", "")
	c := env.join(t, "p3", "")

	pos, err := env.svc.Position(patientCtx("p3"), c.Entry.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Ahead != 2 {
		t.Errorf("expected 2 ahead, got %d", pos.Ahead)
	}
	if _, err := env.svc.CallNext(env.staffCtx(), env.hid, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.Leave(patientCtx("p2"), b.Entry.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, _ = env.svc.Position(patientCtx("p3"), c.Entry.ID)
	if pos.Ahead != 0 {
		t.Errorf("expected nobody ahead, got %d", pos.Ahead)
	}
	pos, err = env.svc.Position(env.staffCtx(), a.Entry.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Entry.Status != StatusCalled || pos.Ahead != 0 {
		t.Errorf("unexpected position for called entry: %+v", pos)
	}
	if _, err := env.svc.Position(patientCtx("p2"), c.Entry.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestLeave(t *testing.T) {
	env := newTestService()
	pos := env.join(t, "p1", "")
	if _, err := env.svc.Leave(patientCtx("p2"), pos.Entry.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Leave(patientCtx("p1"), pos.Entry.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.Leave(patientCtx("p1"), pos.Entry.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestToday(t *testing.T) {
	env := newTestService()
	env.join(t, "p1", "")
	env.join(t, "p2", "")
	items, err := env.svc.Today(env.staffCtx(), env.hid, StatusWaiting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].QueueNumber != 1 {
		t.Errorf("unexpected listing: %d items", len(items))
	}
	if _, err := env.svc.Today(patientCtx("p1"), env.hid, ""); !errors.Is(err, hospital.ErrForbidden) {
		t.Errorf("expected hospital.ErrForbidden, got %v", err)
	}
}
