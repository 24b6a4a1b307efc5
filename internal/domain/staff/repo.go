package staff

import (
	"context"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetStatus(ctx context.Context, id, status string) error
}
