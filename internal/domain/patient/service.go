package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinic/clinic/internal/platform/docstore"
)

type Service struct {
	patients PatientRepository
	now      func() time.Time
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients, now: time.Now}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.Name = docstore.Capitalize(strings.TrimSpace(p.Name))
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	p.TherapiesSinceConsult = 0
	p.LastConsultationDate = nil
	p.CreatedAt = s.now().UTC()
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	p.Name = docstore.Capitalize(strings.TrimSpace(p.Name))
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.patients.Update(ctx, p)
}

// OverrideTherapyCount is the administrative correction of the counter.
func (s *Service) OverrideTherapyCount(ctx context.Context, id string, count int64) error {
	if count < 0 {
		return fmt.Errorf("therapy count must not be negative")
	}
	return s.patients.SetTherapyCount(ctx, id, count)
}
