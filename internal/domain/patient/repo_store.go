package patient

import (
	"context"
	"fmt"

	"github.com/clinic/clinic/internal/platform/docstore"
)

type patientRepoStore struct {
	store docstore.Store
}

func NewPatientRepo(store docstore.Store) PatientRepository {
	return &patientRepoStore{store: store}
}

func (r *patientRepoStore) Create(ctx context.Context, p *Patient) error {
	d, err := r.store.Create(ctx, Collection, p.Fields())
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	p.ID = d.ID
	return nil
}

func (r *patientRepoStore) GetByID(ctx context.Context, id string) (*Patient, error) {
	d, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	return FromDocument(d), nil
}

// Update writes the editable profile fields only; the therapy counter and the
// last consultation date are owned by the counter trigger.
func (r *patientRepoStore) Update(ctx context.Context, p *Patient) error {
	return r.store.Update(ctx, Collection, p.ID, map[string]interface{}{
		FieldName:    p.Name,
		FieldContact: p.Contact,
	})
}

func (r *patientRepoStore) SetTherapyCount(ctx context.Context, id string, count int64) error {
	return r.store.Update(ctx, Collection, id, map[string]interface{}{
		FieldTherapiesSinceConsult: count,
	})
}
