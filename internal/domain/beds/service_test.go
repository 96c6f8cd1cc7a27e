package beds

import (
	"context"
	"errors"
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
)

// -- Mocks --

type mockBedRepo struct {
	mu   sync.Mutex
	beds map[uuid.UUID]*Bed
}

func newMockBedRepo() *mockBedRepo {
	return &mockBedRepo{beds: make(map[uuid.UUID]*Bed)}
}

func (m *mockBedRepo) Create(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.beds {
		if e.HospitalID == b.HospitalID && e.Ward == b.Ward && e.BedNumber == b.BedNumber {
			return ErrDuplicateBed
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.beds[b.ID] = &cp
	return nil
}

func (m *mockBedRepo) GetByID(_ context.Context, id uuid.UUID) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return nil, ErrBedNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBedRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBedRepo) LockAvailable(_ context.Context, hospitalID uuid.UUID, bedType string) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*Bed
	for _, b := range m.beds {
		if b.HospitalID == hospitalID && b.BedType == bedType && b.Status == BedAvailable {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrBedNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Ward != candidates[j].Ward {
			return candidates[i].Ward < candidates[j].Ward
		}
		return candidates[i].BedNumber < candidates[j].BedNumber
	})
	cp := *candidates[0]
	return &cp, nil
}

func (m *mockBedRepo) Update(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.beds[b.ID]; !ok {
		return ErrBedNotFound
	}
	b.UpdatedAt = time.Now()
	cp := *b
	m.beds[b.ID] = &cp
	return nil
}

func (m *mockBedRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.beds[id]; !ok {
		return ErrBedNotFound
	}
	delete(m.beds, id)
	return nil
}

func (m *mockBedRepo) ListByHospital(_ context.Context, hospitalID uuid.UUID, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Bed
	for _, b := range m.beds {
		if b.HospitalID != hospitalID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.BedType != "" && b.BedType != f.BedType {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, len(out), nil
}

// counts mirrors what hospitals.SyncBedCounts computes in SQL.
func (m *mockBedRepo) counts(hospitalID uuid.UUID) hospital.BedCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c hospital.BedCounts
	for _, b := range m.beds {
		if b.HospitalID != hospitalID {
			continue
		}
		c.TotalBeds++
		if b.Status == BedAvailable {
			c.AvailableBeds++
			if b.BedType == TypeICU {
				c.ICUBeds++
			}
		}
	}
	return c
}

type mockBookingRepo struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*Booking
}

func newMockBookingRepo() *mockBookingRepo {
	return &mockBookingRepo{bookings: make(map[uuid.UUID]*Booking)}
}

func (m *mockBookingRepo) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *mockBookingRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBookingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBookingRepo) Update(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return ErrBookingNotFound
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *mockBookingRepo) ListByHospital(_ context.Context, hospitalID uuid.UUID, status string, limit, offset int) ([]*Booking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.bookings {
		if b.HospitalID == hospitalID && (status == "" || b.Status == status) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockBookingRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Booking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.bookings {
		if b.PatientID == patientID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockBookingRepo) HasOpen(_ context.Context, patientID string, hospitalID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.PatientID == patientID && b.HospitalID == hospitalID &&
			(b.Status == BookingPending || b.Status == BookingApproved) {
			return true, nil
		}
	}
	return false, nil
}

type fakeHospitals struct {
	hospitals map[uuid.UUID]*hospital.Hospital
	beds      *mockBedRepo
	synced    map[uuid.UUID]hospital.BedCounts
}

func (f *fakeHospitals) Get(_ context.Context, id uuid.UUID) (*hospital.Hospital, error) {
	h, ok := f.hospitals[id]
	if !ok {
		return nil, hospital.ErrNotFound
	}
	return h, nil
}

func (f *fakeHospitals) Authorize(ctx context.Context, id uuid.UUID) error {
	if auth.HasRole(ctx, auth.RoleAdmin) {
		return nil
	}
	if auth.HasRole(ctx, auth.RoleHospital) && auth.HospitalIDFromContext(ctx) == id.String() {
		return nil
	}
	return hospital.ErrForbidden
}

func (f *fakeHospitals) ActingFor(ctx context.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.HospitalIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, hospital.ErrForbidden
	}
	return id, nil
}

func (f *fakeHospitals) SyncBedCounts(_ context.Context, id uuid.UUID) (*hospital.BedCounts, error) {
	c := f.beds.counts(id)
	f.synced[id] = c
	return &c, nil
}

type fakeNotifier struct {
	templates *notify.TemplateEngine
	stored    []*notification.Notification
	delivered []*notification.Notification
}

func (f *fakeNotifier) Build(kind notify.Kind, recipientID string, hospitalID, alertID *uuid.UUID, data map[string]string) *notification.Notification {
	title, body := f.templates.MustRender(kind, data)
	return &notification.Notification{
		RecipientID: recipientID,
		HospitalID:  hospitalID,
		Kind:        string(kind),
		Title:       title,
		Message:     body,
		Status:      notification.StatusPending,
	}
}

func (f *fakeNotifier) CreateBatch(_ context.Context, ns []*notification.Notification) error {
	f.stored = append(f.stored, ns...)
	return nil
}

func (f *fakeNotifier) DeliverAll(_ context.Context, ns []*notification.Notification) int {
	f.delivered = append(f.delivered, ns...)
	return len(ns)
}

// -- Helpers --

type testEnv struct {
	svc       *Service
	beds      *mockBedRepo
	bookings  *mockBookingRepo
	hospitals *fakeHospitals
	notifier  *fakeNotifier
	hid       uuid.UUID
}

func newTestService() *testEnv {
	hid := uuid.New()
	bedRepo := newMockBedRepo()
	env := &testEnv{
		beds:     bedRepo,
		bookings: newMockBookingRepo(),
		hospitals: &fakeHospitals{
			hospitals: map[uuid.UUID]*hospital.Hospital{hid: {ID: hid, Name: "City Hospital"}},
			beds:      bedRepo,
			synced:    make(map[uuid.UUID]hospital.BedCounts),
		},
		notifier: &fakeNotifier{templates: notify.NewTemplateEngine()},
		hid:      hid,
	}
	env.svc = NewService(env.beds, env.bookings, env.hospitals, env.notifier, db.NoTx, zerolog.Nop())
	return env
}

func patientCtx(id string) context.Context {
	return auth.WithIdentity(context.Background(), id, []string{auth.RolePatient}, "Asha", "")
}

func (env *testEnv) staffCtx() context.Context {
	return auth.WithIdentity(context.Background(), "h-user", []string{auth.RoleHospital}, "", env.hid.String())
}

func (env *testEnv) addBed(t *testing.T, ward, number, bedType string) *Bed {
	t.Helper()
	b := &Bed{HospitalID: env.hid, Ward: ward, BedNumber: number, BedType: bedType}
	if err := env.svc.CreateBed(env.staffCtx(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return b
}

func (env *testEnv) request(t *testing.T, patient, bedType string) *Booking {
	t.Helper()
	b, err := env.svc.RequestBooking(patientCtx(patient), BookingRequest{HospitalID: env.hid, BedType: bedType, Reason: "post-op"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return b
}

// -- Tests --

func TestCreateBed_DefaultsAndSync(t *testing.T) {
	env := newTestService()
	b := env.addBed(t, "A", "1", "")
	if b.BedType != TypeGeneral || b.Status != BedAvailable {
		t.Errorf("expected general/available defaults, got %s/%s", b.BedType, b.Status)
	}
	if got := env.hospitals.synced[env.hid]; got.TotalBeds != 1 || got.AvailableBeds != 1 {
		t.Errorf("expected counts synced, got %+v", got)
	}
}

func TestCreateBed_Validation(t *testing.T) {
	env := newTestService()
	ctx := env.staffCtx()
	if err := env.svc.CreateBed(ctx, &Bed{HospitalID: env.hid, BedNumber: "1"}); err == nil {
		t.Error("expected error for missing ward")
	}
	if err := env.svc.CreateBed(ctx, &Bed{HospitalID: env.hid, Ward: "A", BedNumber: "1", BedType: "hammock"}); err == nil {
		t.Error("expected error for unknown bed type")
	}
	env.addBed(t, "A", "1", TypeICU)
	if err := env.svc.CreateBed(ctx, &Bed{HospitalID: env.hid, Ward: "A", BedNumber: "1"}); !errors.Is(err, ErrDuplicateBed) {
		t.Errorf("expected ErrDuplicateBed, got %v", err)
	}
}

func TestCreateBed_OtherHospitalForbidden(t *testing.T) {
	env := newTestService()
	other := auth.WithIdentity(context.Background(), "h2", []string{auth.RoleHospital}, "", uuid.New().String())
	err := env.svc.CreateBed(other, &Bed{HospitalID: env.hid, Ward: "A", BedNumber: "1"})
	if !errors.Is(err, hospital.ErrForbidden) {
		t.Errorf("expected hospital.ErrForbidden, got %v", err)
	}
}

func TestRequestBooking_OnePerHospital(t *testing.T) {
	env := newTestService()
	b := env.request(t, "p1", "")
	if b.Status != BookingPending || b.BedType != TypeGeneral || b.PatientName != "Asha" {
		t.Errorf("unexpected booking: %+v", b)
	}
	_, err := env.svc.RequestBooking(patientCtx("p1"), BookingRequest{HospitalID: env.hid})
	if !errors.Is(err, ErrOpenBooking) {
		t.Errorf("expected ErrOpenBooking, got %v", err)
	}
	if _, err := env.svc.RequestBooking(patientCtx("p1"), BookingRequest{HospitalID: uuid.New()}); !errors.Is(err, hospital.ErrNotFound) {
		t.Errorf("expected hospital.ErrNotFound, got %v", err)
	}
}

func TestApproveBooking_PicksFirstAvailable(t *testing.T) {
	env := newTestService()
	env.addBed(t, "B", "2", TypeICU)
	first := env.addBed(t, "A", "7", TypeICU)
	env.addBed(t, "A", "1", TypeGeneral)
	bk := env.request(t, "p1", TypeICU)

	approved, err := env.svc.ApproveBooking(env.staffCtx(), bk.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved.Status != BookingApproved || approved.BedID == nil || *approved.BedID != first.ID {
		t.Fatalf("expected ward A bed assigned, got %+v", approved)
	}
	if approved.ReviewedBy == nil || *approved.ReviewedBy != "h-user" {
		t.Errorf("expected reviewer recorded")
	}
	bed, _ := env.beds.GetByID(context.Background(), first.ID)
	if bed.Status != BedOccupied {
		t.Errorf("expected bed occupied, got %s", bed.Status)
	}
	if got := env.hospitals.synced[env.hid]; got.AvailableBeds != 2 || got.ICUBeds != 1 {
		t.Errorf("unexpected synced counts: %+v", got)
	}
	if len(env.notifier.delivered) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(env.notifier.delivered))
	}
	n := env.notifier.delivered[0]
	if n.RecipientID != "p1" || n.Kind != string(notify.KindBookingApproved) {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.Message != "City Hospital approved your request. Ward A, bed 7." {
		t.Errorf("unexpected message: %q", n.Message)
	}
}

func TestApproveBooking_SpecificBed(t *testing.T) {
	env := newTestService()
	env.addBed(t, "A", "1", TypeGeneral)
	chosen := env.addBed(t, "C", "9", TypeGeneral)
	bk := env.request(t, "p1", TypeGeneral)

	approved, err := env.svc.ApproveBooking(env.staffCtx(), bk.ID, &chosen.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *approved.BedID != chosen.ID {
		t.Errorf("expected chosen bed")
	}

	bk2 := env.request(t, "p2", TypeGeneral)
	if _, err := env.svc.ApproveBooking(env.staffCtx(), bk2.ID, &chosen.ID); !errors.Is(err, ErrBedUnavailable) {
		t.Errorf("expected ErrBedUnavailable for occupied bed, got %v", err)
	}
	got, _ := env.bookings.GetByID(context.Background(), bk2.ID)
	if got.Status != BookingPending {
		t.Errorf("expected failed approval to leave booking pending, got %s", got.Status)
	}
}

func TestApproveBooking_NoBeds(t *testing.T) {
	env := newTestService()
	bk := env.request(t, "p1", TypePediatric)
	if _, err := env.svc.ApproveBooking(env.staffCtx(), bk.ID, nil); !errors.Is(err, ErrBedUnavailable) {
		t.Errorf("expected ErrBedUnavailable, got %v", err)
	}
}

func TestApproveBooking_Twice(t *testing.T) {
	env := newTestService()
	env.addBed(t, "A", "1", TypeGeneral)
	env.addBed(t, "A", "2", TypeGeneral)
	bk := env.request(t, "p1", TypeGeneral)
	if _, err := env.svc.ApproveBooking(env.staffCtx(), bk.ID, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.ApproveBooking(env.staffCtx(), bk.ID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRejectBooking(t *testing.T) {
	env := newTestService()
	bk := env.request(t, "p1", TypeGeneral)
	patient := patientCtx("p1")
	if _, err := env.svc.RejectBooking(patient, bk.ID); !errors.Is(err, hospital.ErrForbidden) {
		t.Errorf("expected patient to be forbidden, got %v", err)
	}
	got, err := env.svc.RejectBooking(env.staffCtx(), bk.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != BookingRejected {
		t.Errorf("expected rejected, got %s", got.Status)
	}
	if len(env.notifier.delivered) != 1 || env.notifier.delivered[0].Kind != string(notify.KindBookingRejected) {
		t.Errorf("expected rejection notification")
	}
	// A rejected booking no longer blocks a new request.
	env.request(t, "p1", TypeGeneral)
}

func TestDischarge_FreesBed(t *testing.T) {
	env := newTestService()
	bed := env.addBed(t, "A", "1", TypeGeneral)
	bk := env.request(t, "p1", TypeGeneral)
	if _, err := env.svc.Discharge(env.staffCtx(), bk.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected pending booking discharge to fail, got %v", err)
	}
	if _, err := env.svc.ApproveBooking(env.staffCtx(), bk.ID, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := env.svc.Discharge(env.staffCtx(), bk.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != BookingDischarged {
		t.Errorf("expected discharged, got %s", got.Status)
	}
	b, _ := env.beds.GetByID(context.Background(), bed.ID)
	if b.Status != BedAvailable {
		t.Errorf("expected bed available after discharge, got %s", b.Status)
	}
	if env.hospitals.synced[env.hid].AvailableBeds != 1 {
		t.Errorf("expected counts resynced")
	}
}

func TestCancelBooking(t *testing.T) {
	env := newTestService()
	bed := env.addBed(t, "A", "1", TypeGeneral)
	bk := env.request(t, "p1", TypeGeneral)
	if _, err := env.svc.ApproveBooking(env.staffCtx(), bk.ID, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.CancelBooking(patientCtx("p2"), bk.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for other patient, got %v", err)
	}
	got, err := env.svc.CancelBooking(patientCtx("p1"), bk.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != BookingCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	b, _ := env.beds.GetByID(context.Background(), bed.ID)
	if b.Status != BedAvailable {
		t.Errorf("expected bed released, got %s", b.Status)
	}
	if _, err := env.svc.CancelBooking(patientCtx("p1"), bk.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateAndDeleteBed_Occupied(t *testing.T) {
	env := newTestService()
	bed := env.addBed(t, "A", "1", TypeGeneral)
	bk := env.request(t, "p1", TypeGeneral)
	if _, err := env.svc.ApproveBooking(env.staffCtx(), bk.ID, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upd := &Bed{ID: bed.ID, Ward: "A", BedNumber: "1", Status: BedMaintenance}
	if err := env.svc.UpdateBed(env.staffCtx(), upd); err == nil {
		t.Error("expected error moving occupied bed to maintenance")
	}
	if err := env.svc.DeleteBed(env.staffCtx(), bed.ID); err == nil {
		t.Error("expected error deleting occupied bed")
	}

	free := env.addBed(t, "A", "2", TypeGeneral)
	upd = &Bed{ID: free.ID, Ward: "A", BedNumber: "2", Status: BedMaintenance}
	if err := env.svc.UpdateBed(env.staffCtx(), upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.HospitalID != env.hid {
		t.Errorf("expected hospital preserved")
	}
	if err := env.svc.DeleteBed(env.staffCtx(), free.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.hospitals.synced[env.hid].TotalBeds != 1 {
		t.Errorf("expected total 1 after delete, got %d", env.hospitals.synced[env.hid].TotalBeds)
	}
}

func TestGetBooking_Visibility(t *testing.T) {
	env := newTestService()
	bk := env.request(t, "p1", TypeGeneral)
	if _, err := env.svc.GetBooking(patientCtx("p1"), bk.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.GetBooking(env.staffCtx(), bk.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.GetBooking(patientCtx("p2"), bk.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestListBookings(t *testing.T) {
	env := newTestService()
	env.request(t, "p1", TypeGeneral)
	env.request(t, "p2", TypeGeneral)

	items, total, err := env.svc.ListBookings(env.staffCtx(), nil, BookingPending, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 bookings, got %d", total)
	}
	other := uuid.New()
	if _, _, err := env.svc.ListBookings(env.staffCtx(), &other, "", 20, 0); !errors.Is(err, hospital.ErrForbidden) {
		t.Errorf("expected hospital.ErrForbidden, got %v", err)
	}
	mine, _, err := env.svc.ListMine(patientCtx("p1"), 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("expected 1 own booking, got %d", len(mine))
	}
}
