package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/platform/docstore"
)

// ErrClosed is returned when changing an appointment that already reached a
// final status.
var ErrClosed = errors.New("appointment is closed")

type PatientReader interface {
	GetByID(ctx context.Context, id string) (*patient.Patient, error)
}

type Service struct {
	appointments AppointmentRepository
	patients     PatientReader
}

func NewService(appointments AppointmentRepository, patients PatientReader) *Service {
	return &Service{appointments: appointments, patients: patients}
}

func (s *Service) validate(ctx context.Context, a *Appointment) error {
	if a.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if !ValidType(a.Type) {
		return fmt.Errorf("invalid type %q", a.Type)
	}
	if !ValidStatus(a.Status) {
		return fmt.Errorf("invalid status %q", a.Status)
	}
	if a.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if _, err := s.patients.GetByID(ctx, a.PatientID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("unknown patient %s", a.PatientID)
		}
		return fmt.Errorf("lookup patient %s: %w", a.PatientID, err)
	}
	return nil
}

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	a.Date = a.Date.UTC()
	if err := s.validate(ctx, a); err != nil {
		return err
	}
	return s.appointments.Create(ctx, a)
}

func (s *Service) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// UpdateAppointment replaces an open appointment.
func (s *Service) UpdateAppointment(ctx context.Context, a *Appointment) error {
	current, err := s.appointments.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if !Open(current.Status) {
		return ErrClosed
	}
	if a.Status == "" {
		a.Status = current.Status
	}
	a.Date = a.Date.UTC()
	if err := s.validate(ctx, a); err != nil {
		return err
	}
	return s.appointments.Update(ctx, a)
}

// Complete marks an open appointment completed. Completing an already
// completed appointment returns it unchanged.
func (s *Service) Complete(ctx context.Context, id string) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted {
		return a, nil
	}
	if !Open(a.Status) {
		return nil, ErrClosed
	}
	a.Status = StatusCompleted
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
