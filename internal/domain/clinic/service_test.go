package clinic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/domain/notification"
	"github.com/carelink/carelink/internal/domain/users"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	notify "github.com/carelink/carelink/internal/platform/notification"
)

// -- Mocks --

type mockAppointmentRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) list(match func(*Appointment) bool, f AppointmentFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if !match(a) {
			continue
		}
		if f.From != nil && a.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.ScheduledAt.Before(*f.To) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID string, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return m.list(func(a *Appointment) bool { return a.PatientID == patientID }, f)
}

func (m *mockAppointmentRepo) ListByDoctor(_ context.Context, doctorID string, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return m.list(func(a *Appointment) bool { return a.DoctorID == doctorID }, f)
}

func (m *mockAppointmentRepo) LockDoctor(context.Context, string) error { return nil }

func (m *mockAppointmentRepo) Overlapping(_ context.Context, doctorID string, start, end time.Time, exclude uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.items {
		if a.DoctorID == doctorID && a.ID != exclude && a.Holds() && a.ScheduledAt.Before(end) && a.End().After(start) {
			n++
		}
	}
	return n, nil
}

type mockPrescriptionRepo struct {
	items map[uuid.UUID]*Prescription
}

func (m *mockPrescriptionRepo) Create(_ context.Context, p *Prescription) error {
	p.ID = uuid.New()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPrescriptionRepo) Update(_ context.Context, p *Prescription) error {
	if _, ok := m.items[p.ID]; !ok {
		return ErrPrescriptionNotFound
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPrescriptionRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Prescription, int, error) {
	var out []*Prescription
	for _, p := range m.items {
		if p.PatientID == patientID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *mockPrescriptionRepo) ListByDoctor(_ context.Context, doctorID string, limit, offset int) ([]*Prescription, int, error) {
	var out []*Prescription
	for _, p := range m.items {
		if p.DoctorID == doctorID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

type mockStaffRepo struct {
	items map[uuid.UUID]*Staff
}

func (m *mockStaffRepo) Create(_ context.Context, s *Staff) error {
	s.ID = uuid.New()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStaffRepo) GetByID(_ context.Context, id uuid.UUID) (*Staff, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, ErrStaffNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStaffRepo) Update(_ context.Context, s *Staff) error {
	if _, ok := m.items[s.ID]; !ok {
		return ErrStaffNotFound
	}
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStaffRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrStaffNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockStaffRepo) ListByHospital(_ context.Context, hid uuid.UUID, f StaffFilter, limit, offset int) ([]*Staff, int, error) {
	var out []*Staff
	for _, s := range m.items {
		if s.HospitalID != hid {
			continue
		}
		if f.Department != "" && s.Department != f.Department {
			continue
		}
		if f.OnDutyOnly && !s.OnDuty {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

type fakeDirectory map[string]*users.User

func (f fakeDirectory) Get(_ context.Context, id string) (*users.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return u, nil
}

type fakeHospitals struct{}

func (fakeHospitals) Authorize(ctx context.Context, id uuid.UUID) error {
	if auth.HospitalIDFromContext(ctx) == id.String() {
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
	appts    *mockAppointmentRepo
	rx       *mockPrescriptionRepo
	staff    *mockStaffRepo
	notifier *fakeNotifier
	clock    time.Time
}

func newTestService() *testEnv {
	env := &testEnv{
		appts:    newMockAppointmentRepo(),
		rx:       &mockPrescriptionRepo{items: make(map[uuid.UUID]*Prescription)},
		staff:    &mockStaffRepo{items: make(map[uuid.UUID]*Staff)},
		notifier: &fakeNotifier{templates: notify.NewTemplateEngine()},
		clock:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	dir := fakeDirectory{
		"d1": {ID: "d1", Role: auth.RoleDoctor, Name: "Dr. Rao"},
		"d2": {ID: "d2", Role: auth.RoleDoctor, Name: "Dr. Iyer"},
		"p9": {ID: "p9", Role: auth.RolePatient, Name: "Not A Doctor"},
	}
	env.svc = NewService(env.appts, env.rx, env.staff, dir, fakeHospitals{}, env.notifier, db.NoTx, zerolog.Nop())
	env.svc.now = func() time.Time { return env.clock }
	return env
}

func patientCtx(id string) context.Context {
	return auth.WithIdentity(context.Background(), id, []string{auth.RolePatient}, "Asha", "")
}

func doctorCtx(id string) context.Context {
	return auth.WithIdentity(context.Background(), id, []string{auth.RoleDoctor}, "Dr. Rao", "")
}

func (env *testEnv) book(t *testing.T, patient, doctor string, at time.Time) *Appointment {
	t.Helper()
	a, err := env.svc.RequestAppointment(patientCtx(patient), AppointmentRequest{DoctorID: doctor, ScheduledAt: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

// -- Appointments --

func TestRequestAppointment_Defaults(t *testing.T) {
	env := newTestService()
	a := env.book(t, "p1", "d1", env.clock.Add(2*time.Hour))
	if a.Status != AppointmentRequested || a.DurationMinutes != DefaultDurationMinutes || a.Kind != KindInPerson {
		t.Errorf("unexpected defaults: %+v", a)
	}
	if a.DoctorName != "Dr. Rao" || a.PatientName != "Asha" {
		t.Errorf("unexpected names: %q / %q", a.DoctorName, a.PatientName)
	}
}

func TestRequestAppointment_Validation(t *testing.T) {
	env := newTestService()
	ctx := patientCtx("p1")
	future := env.clock.Add(time.Hour)
	cases := []AppointmentRequest{
		{ScheduledAt: future},
		{DoctorID: "d1"},
		{DoctorID: "d1", ScheduledAt: env.clock.Add(-time.Hour)},
		{DoctorID: "d1", ScheduledAt: future, DurationMinutes: 600},
		{DoctorID: "d1", ScheduledAt: future, Kind: "carrier_pigeon"},
		{DoctorID: "p9", ScheduledAt: future},
	}
	for i, req := range cases {
		if _, err := env.svc.RequestAppointment(ctx, req); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if _, err := env.svc.RequestAppointment(ctx, AppointmentRequest{DoctorID: "ghost", ScheduledAt: future}); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("expected users.ErrNotFound, got %v", err)
	}
}

func TestRequestAppointment_DoubleBooking(t *testing.T) {
	env := newTestService()
	at := env.clock.Add(24 * time.Hour)
	env.book(t, "p1", "d1", at)

	_, err := env.svc.RequestAppointment(patientCtx("p2"), AppointmentRequest{DoctorID: "d1", ScheduledAt: at.Add(15 * time.Minute)})
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("expected ErrSlotTaken for overlap, got %v", err)
	}
	// Back-to-back is fine, as is another doctor at the same time.
	env.book(t, "p2", "d1", at.Add(30*time.Minute))
	env.book(t, "p3", "d2", at)
}

func TestUpdateAppointmentStatus(t *testing.T) {
	env := newTestService()
	a := env.book(t, "p1", "d1", env.clock.Add(time.Hour))

	if _, err := env.svc.UpdateAppointmentStatus(patientCtx("p1"), a.ID, AppointmentConfirmed, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected patient confirm to be forbidden, got %v", err)
	}
	if _, err := env.svc.UpdateAppointmentStatus(doctorCtx("d2"), a.ID, AppointmentConfirmed, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected other doctor to be forbidden, got %v", err)
	}
	got, err := env.svc.UpdateAppointmentStatus(doctorCtx("d1"), a.ID, AppointmentConfirmed, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != AppointmentConfirmed {
		t.Errorf("expected confirmed, got %s", got.Status)
	}
	if len(env.notifier.delivered) != 1 {
		t.Fatalf("expected patient notified, got %d", len(env.notifier.delivered))
	}
	want := "Your appointment with Dr. Rao on " + a.ScheduledAt.Format("02 Jan 2006 15:04 MST") + " is now confirmed."
	if msg := env.notifier.delivered[0].Message; msg != want {
		t.Errorf("unexpected message %q", msg)
	}

	if _, err := env.svc.UpdateAppointmentStatus(doctorCtx("d1"), a.ID, AppointmentNoShow, nil); err == nil {
		t.Error("expected no_show before start to fail")
	}
	env.clock = env.clock.Add(2 * time.Hour)
	note := "prescribed rest"
	done, err := env.svc.UpdateAppointmentStatus(doctorCtx("d1"), a.ID, AppointmentCompleted, &note)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Notes == nil || *done.Notes != note {
		t.Errorf("expected notes stored")
	}
	if _, err := env.svc.UpdateAppointmentStatus(patientCtx("p1"), a.ID, AppointmentCancelled, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling completed, got %v", err)
	}
}

func TestUpdateAppointmentStatus_PatientCancelFreesSlot(t *testing.T) {
	env := newTestService()
	at := env.clock.Add(time.Hour)
	a := env.book(t, "p1", "d1", at)
	if _, err := env.svc.UpdateAppointmentStatus(patientCtx("p1"), a.ID, AppointmentCancelled, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.notifier.delivered) != 0 {
		t.Errorf("expected no notification for the patient's own change")
	}
	env.book(t, "p2", "d1", at)
}

func TestReschedule(t *testing.T) {
	env := newTestService()
	first := env.book(t, "p1", "d1", env.clock.Add(time.Hour))
	second := env.book(t, "p2", "d1", env.clock.Add(3*time.Hour))
	if _, err := env.svc.UpdateAppointmentStatus(doctorCtx("d1"), second.ID, AppointmentConfirmed, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := env.svc.Reschedule(patientCtx("p2"), second.ID, first.ScheduledAt); !errors.Is(err, ErrSlotTaken) {
		t.Errorf("expected ErrSlotTaken, got %v", err)
	}
	moved, err := env.svc.Reschedule(patientCtx("p2"), second.ID, env.clock.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.Status != AppointmentRequested {
		t.Errorf("expected patient reschedule to need reconfirmation, got %s", moved.Status)
	}
	// Moving within its own slot does not collide with itself.
	if _, err := env.svc.Reschedule(doctorCtx("d1"), moved.ID, moved.ScheduledAt.Add(10*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.Reschedule(patientCtx("p3"), moved.ID, env.clock.Add(8*time.Hour)); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestListAppointments_ByRole(t *testing.T) {
	env := newTestService()
	env.book(t, "p1", "d1", env.clock.Add(time.Hour))
	env.book(t, "p2", "d1", env.clock.Add(48*time.Hour))

	_, total, err := env.svc.ListAppointments(doctorCtx("d1"), AppointmentFilter{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 for doctor, got %d", total)
	}
	to := env.clock.Add(24 * time.Hour)
	_, total, _ = env.svc.ListAppointments(doctorCtx("d1"), AppointmentFilter{To: &to}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 within range, got %d", total)
	}
	_, total, _ = env.svc.ListAppointments(patientCtx("p2"), AppointmentFilter{}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 for patient, got %d", total)
	}
}

// -- Prescriptions --

func validRx(patient string) PrescriptionRequest {
	return PrescriptionRequest{
		PatientID:   patient,
		Diagnosis:   "seasonal flu",
		Medications: []Medication{{Name: "Paracetamol", Dosage: "500mg", Frequency: "3x daily", DurationDays: 5}},
	}
}

func TestIssuePrescription(t *testing.T) {
	env := newTestService()
	p, err := env.svc.IssuePrescription(doctorCtx("d1"), validRx("p1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != PrescriptionActive || p.DoctorID != "d1" || p.IssuedAt.IsZero() {
		t.Errorf("unexpected prescription: %+v", p)
	}
	if len(env.notifier.delivered) != 1 {
		t.Fatalf("expected patient notified")
	}
	if msg := env.notifier.delivered[0].Message; msg != "Dr. Rao issued a prescription for seasonal flu." {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestIssuePrescription_Validation(t *testing.T) {
	env := newTestService()
	ctx := doctorCtx("d1")
	bad := []PrescriptionRequest{
		{Medications: validRx("").Medications},
		{PatientID: "p1"},
		{PatientID: "p1", Medications: []Medication{{Dosage: "5mg"}}},
		{PatientID: "p1", Medications: []Medication{{Name: "X"}}},
	}
	for i, req := range bad {
		if _, err := env.svc.IssuePrescription(ctx, req); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	past := env.clock.Add(-time.Hour)
	req := validRx("p1")
	req.ValidUntil = &past
	if _, err := env.svc.IssuePrescription(ctx, req); err == nil {
		t.Error("expected error for valid_until in the past")
	}

	a := env.book(t, "p1", "d2", env.clock.Add(time.Hour))
	req = validRx("p1")
	req.AppointmentID = &a.ID
	if _, err := env.svc.IssuePrescription(ctx, req); err == nil {
		t.Error("expected error linking another doctor's appointment")
	}
}

func TestPrescriptionAccess(t *testing.T) {
	env := newTestService()
	p, err := env.svc.IssuePrescription(doctorCtx("d1"), validRx("p1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.GetPrescription(patientCtx("p1"), p.ID); err != nil {
		t.Errorf("expected patient access, got %v", err)
	}
	if _, err := env.svc.GetPrescription(patientCtx("p2"), p.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, _, err := env.svc.ListPrescriptions(patientCtx("p2"), "p1", 20, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden listing another patient's, got %v", err)
	}
	items, _, err := env.svc.ListPrescriptions(doctorCtx("d2"), "p1", 20, 0)
	if err != nil || len(items) != 1 {
		t.Errorf("expected doctor to list patient prescriptions, got %d, %v", len(items), err)
	}
	mine, _, _ := env.svc.ListPrescriptions(patientCtx("p1"), "", 20, 0)
	if len(mine) != 1 {
		t.Errorf("expected own prescriptions, got %d", len(mine))
	}

	if _, err := env.svc.CancelPrescription(doctorCtx("d2"), p.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for non-issuing doctor, got %v", err)
	}
	if _, err := env.svc.CancelPrescription(doctorCtx("d1"), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.CancelPrescription(doctorCtx("d1"), p.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

// -- Staff --

func TestStaff(t *testing.T) {
	env := newTestService()
	hid := uuid.New()
	ctx := auth.WithIdentity(context.Background(), "h1", []string{auth.RoleHospital}, "", hid.String())

	if err := env.svc.AddStaff(ctx, &Staff{HospitalID: hid, Role: "nurse"}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := env.svc.AddStaff(ctx, &Staff{HospitalID: hid, Name: "Meera", Role: "nurse", Shift: "siesta"}); err == nil {
		t.Error("expected error for unknown shift")
	}
	if err := env.svc.AddStaff(ctx, &Staff{HospitalID: uuid.New(), Name: "Meera", Role: "nurse"}); !errors.Is(err, hospital.ErrForbidden) {
		t.Errorf("expected hospital.ErrForbidden, got %v", err)
	}
	st := &Staff{HospitalID: hid, Name: "Meera", Role: "nurse", Department: "ICU"}
	if err := env.svc.AddStaff(ctx, st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Shift != ShiftDay {
		t.Errorf("expected default day shift, got %s", st.Shift)
	}
	if err := env.svc.AddStaff(ctx, &Staff{HospitalID: hid, Name: "Ravi", Role: "porter", Department: "ER"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := env.svc.SetOnDuty(ctx, st.ID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	onDuty, _, _ := env.svc.ListStaff(ctx, hid, StaffFilter{OnDutyOnly: true}, 20, 0)
	if len(onDuty) != 1 || onDuty[0].Name != "Meera" {
		t.Errorf("expected only Meera on duty, got %d", len(onDuty))
	}
	er, _, _ := env.svc.ListStaff(ctx, hid, StaffFilter{Department: "ER"}, 20, 0)
	if len(er) != 1 {
		t.Errorf("expected 1 in ER, got %d", len(er))
	}

	upd := &Staff{ID: st.ID, HospitalID: uuid.New(), Name: "Meera K", Role: "head nurse", Shift: ShiftNight}
	if err := env.svc.UpdateStaff(ctx, upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.HospitalID != hid {
		t.Errorf("expected hospital to be immutable")
	}
	if err := env.svc.RemoveStaff(ctx, st.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.GetStaff(ctx, st.ID); !errors.Is(err, ErrStaffNotFound) {
		t.Errorf("expected ErrStaffNotFound, got %v", err)
	}
}
