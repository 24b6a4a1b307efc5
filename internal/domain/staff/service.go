package staff

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/docstore"
)

type Service struct {
	users UserRepository
	now   func() time.Time
}

func NewService(users UserRepository) *Service {
	return &Service{users: users, now: time.Now}
}

func (s *Service) validate(u *User) error {
	u.Name = docstore.Capitalize(strings.TrimSpace(u.Name))
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Name == "" {
		return fmt.Errorf("name is required")
	}
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("invalid email %q", u.Email)
	}
	if !auth.ValidRole(u.Role) {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	if u.Role != auth.RoleDoctor {
		u.ConsultationDuration = nil
	} else if u.ConsultationDuration != nil && *u.ConsultationDuration <= 0 {
		return fmt.Errorf("consultation duration must be positive")
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if err := s.validate(u); err != nil {
		return err
	}
	switch u.Status {
	case "":
		u.Status = StatusActive
	case StatusActive, StatusInactive:
	default:
		return fmt.Errorf("invalid status %q", u.Status)
	}
	u.CreatedAt = s.now().UTC()
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) UpdateUser(ctx context.Context, u *User) error {
	if err := s.validate(u); err != nil {
		return err
	}
	return s.users.Update(ctx, u)
}

func (s *Service) DeactivateUser(ctx context.Context, id string) error {
	return s.users.SetStatus(ctx, id, StatusInactive)
}

func (s *Service) ReactivateUser(ctx context.Context, id string) error {
	return s.users.SetStatus(ctx, id, StatusActive)
}
