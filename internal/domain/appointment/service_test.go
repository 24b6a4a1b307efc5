package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/platform/docstore"
)

type mockAppointmentRepo struct {
	appts   map[string]*Appointment
	updates int
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[string]*Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.NewString()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id string) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	if _, ok := m.appts[a.ID]; !ok {
		return docstore.ErrNotFound
	}
	cp := *a
	m.appts[a.ID] = &cp
	m.updates++
	return nil
}

type mockPatientReader map[string]*patient.Patient

func (m mockPatientReader) GetByID(_ context.Context, id string) (*patient.Patient, error) {
	p, ok := m[id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return p, nil
}

func newTestService() (*Service, *mockAppointmentRepo) {
	repo := newMockAppointmentRepo()
	patients := mockPatientReader{"p1": {ID: "p1", Name: "Ana"}}
	return NewService(repo, patients), repo
}

var testDate = time.Date(2024, 4, 2, 14, 30, 0, 0, time.UTC)

func TestCreateAppointment_DefaultsToScheduled(t *testing.T) {
	svc, _ := newTestService()
	a := &Appointment{PatientID: "p1", Type: TypeTherapy, Date: testDate}
	if err := svc.CreateAppointment(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %q", a.Status)
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	tests := []struct {
		name string
		appt Appointment
	}{
		{"missing patient", Appointment{Type: TypeTherapy, Date: testDate}},
		{"unknown patient", Appointment{PatientID: "p9", Type: TypeTherapy, Date: testDate}},
		{"bad type", Appointment{PatientID: "p1", Type: "surgery", Date: testDate}},
		{"bad status", Appointment{PatientID: "p1", Type: TypeTherapy, Status: "done", Date: testDate}},
		{"missing date", Appointment{PatientID: "p1", Type: TypeConsultation}},
	}
	svc, _ := newTestService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.appt
			if err := svc.CreateAppointment(context.Background(), &a); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestComplete(t *testing.T) {
	svc, repo := newTestService()
	a := &Appointment{PatientID: "p1", Type: TypeTherapy, Date: testDate}
	svc.CreateAppointment(context.Background(), a)

	got, err := svc.Complete(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %q", got.Status)
	}

	if _, err := svc.Complete(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
	if repo.updates != 1 {
		t.Errorf("expected a single write, got %d", repo.updates)
	}
}

func TestComplete_Cancelled(t *testing.T) {
	svc, _ := newTestService()
	a := &Appointment{PatientID: "p1", Type: TypeTherapy, Status: StatusCancelled, Date: testDate}
	svc.CreateAppointment(context.Background(), a)

	if _, err := svc.Complete(context.Background(), a.ID); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestUpdateAppointment_ClosedIsImmutable(t *testing.T) {
	svc, _ := newTestService()
	a := &Appointment{PatientID: "p1", Type: TypeTherapy, Date: testDate}
	svc.CreateAppointment(context.Background(), a)
	svc.Complete(context.Background(), a.ID)

	upd := &Appointment{ID: a.ID, PatientID: "p1", Type: TypeConsultation, Date: testDate}
	if err := svc.UpdateAppointment(context.Background(), upd); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestUpdateAppointment_KeepsStatusWhenOmitted(t *testing.T) {
	svc, _ := newTestService()
	a := &Appointment{PatientID: "p1", Type: TypeTherapy, Status: StatusPending, Date: testDate}
	svc.CreateAppointment(context.Background(), a)

	upd := &Appointment{ID: a.ID, PatientID: "p1", Type: TypeConsultation, Date: testDate.Add(time.Hour)}
	if err := svc.UpdateAppointment(context.Background(), upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := svc.GetAppointment(context.Background(), a.ID)
	if got.Status != StatusPending || got.Type != TypeConsultation {
		t.Errorf("unexpected appointment %+v", got)
	}
}
