package staff

import (
	"time"

	"github.com/clinic/clinic/internal/platform/docstore"
)

const Collection = "users"

const (
	FieldName                 = "name"
	FieldEmail                = "email"
	FieldContact              = "contact"
	FieldRole                 = "role"
	FieldStatus               = "status"
	FieldConsultationDuration = "consultationDuration"
	FieldCreatedAt            = "createdAt"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// User is a staff account. ConsultationDuration (minutes) is kept for doctors only.
type User struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	Contact              string    `json:"contact"`
	Role                 string    `json:"role"`
	Status               string    `json:"status"`
	ConsultationDuration *int64    `json:"consultation_duration,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

func FromDocument(d *docstore.Document) *User {
	u := &User{
		ID:      d.ID,
		Name:    d.String(FieldName),
		Email:   d.String(FieldEmail),
		Contact: d.String(FieldContact),
		Role:    d.String(FieldRole),
		Status:  d.String(FieldStatus),
	}
	if d.Has(FieldConsultationDuration) {
		v := d.Int(FieldConsultationDuration)
		u.ConsultationDuration = &v
	}
	if t, err := docstore.ParseTime(d.String(FieldCreatedAt)); err == nil {
		u.CreatedAt = t
	}
	return u
}

// ProfileFields holds every editable field. Status changes go through
// deactivate/reactivate.
func (u *User) ProfileFields() map[string]interface{} {
	f := map[string]interface{}{
		FieldName:    u.Name,
		FieldEmail:   u.Email,
		FieldContact: u.Contact,
		FieldRole:    u.Role,
	}
	if u.ConsultationDuration != nil {
		f[FieldConsultationDuration] = *u.ConsultationDuration
	} else {
		f[FieldConsultationDuration] = nil
	}
	return f
}

func (u *User) Fields() map[string]interface{} {
	f := u.ProfileFields()
	if u.ConsultationDuration == nil {
		delete(f, FieldConsultationDuration)
	}
	f[FieldStatus] = u.Status
	f[FieldCreatedAt] = docstore.FormatTime(u.CreatedAt)
	return f
}
