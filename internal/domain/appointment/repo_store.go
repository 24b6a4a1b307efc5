package appointment

import (
	"context"
	"fmt"

	"github.com/clinic/clinic/internal/platform/docstore"
)

type appointmentRepoStore struct {
	store docstore.Store
}

func NewAppointmentRepo(store docstore.Store) AppointmentRepository {
	return &appointmentRepoStore{store: store}
}

func (r *appointmentRepoStore) Create(ctx context.Context, a *Appointment) error {
	d, err := r.store.Create(ctx, Collection, a.Fields())
	if err != nil {
		return fmt.Errorf("appointment create: %w", err)
	}
	a.ID = d.ID
	return nil
}

func (r *appointmentRepoStore) GetByID(ctx context.Context, id string) (*Appointment, error) {
	d, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	return FromDocument(d), nil
}

// Update writes the whole appointment. Status changes published by the store
// drive the therapy counter.
func (r *appointmentRepoStore) Update(ctx context.Context, a *Appointment) error {
	return r.store.Update(ctx, Collection, a.ID, a.Fields())
}
