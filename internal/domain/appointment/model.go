package appointment

import (
	"time"

	"github.com/clinic/clinic/internal/platform/docstore"
)

const Collection = "appointments"

const (
	FieldPatientID = "patientId"
	FieldType      = "type"
	FieldStatus    = "status"
	FieldDate      = "date"
)

const (
	TypeConsultation = "consultation"
	TypeTherapy      = "therapy"
)

const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no-show"
)

func ValidType(t string) bool {
	return t == TypeConsultation || t == TypeTherapy
}

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Open reports whether the appointment has not reached a final state.
func Open(status string) bool {
	return status == StatusPending || status == StatusScheduled
}

type Appointment struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Date      time.Time `json:"date"`
}

func FromDocument(d *docstore.Document) *Appointment {
	a := &Appointment{
		ID:        d.ID,
		PatientID: d.String(FieldPatientID),
		Type:      d.String(FieldType),
		Status:    d.String(FieldStatus),
	}
	if t, err := docstore.ParseTime(d.String(FieldDate)); err == nil {
		a.Date = t
	}
	return a
}

func (a *Appointment) Fields() map[string]interface{} {
	return map[string]interface{}{
		FieldPatientID: a.PatientID,
		FieldType:      a.Type,
		FieldStatus:    a.Status,
		FieldDate:      docstore.FormatTime(a.Date),
	}
}
