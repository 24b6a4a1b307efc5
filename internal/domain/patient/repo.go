package patient

import (
	"context"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	SetTherapyCount(ctx context.Context, id string, count int64) error
}
