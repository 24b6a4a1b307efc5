package staff

import (
	"context"
	"fmt"

	"github.com/clinic/clinic/internal/platform/docstore"
)

type userRepoStore struct {
	store docstore.Store
}

func NewUserRepo(store docstore.Store) UserRepository {
	return &userRepoStore{store: store}
}

func (r *userRepoStore) Create(ctx context.Context, u *User) error {
	d, err := r.store.Create(ctx, Collection, u.Fields())
	if err != nil {
		return fmt.Errorf("user create: %w", err)
	}
	u.ID = d.ID
	return nil
}

func (r *userRepoStore) GetByID(ctx context.Context, id string) (*User, error) {
	d, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	return FromDocument(d), nil
}

func (r *userRepoStore) Update(ctx context.Context, u *User) error {
	return r.store.Update(ctx, Collection, u.ID, u.ProfileFields())
}

func (r *userRepoStore) SetStatus(ctx context.Context, id, status string) error {
	return r.store.Update(ctx, Collection, id, map[string]interface{}{FieldStatus: status})
}
