package appointment

import (
	"context"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
}
