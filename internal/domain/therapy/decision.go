// Package therapy maintains each patient's therapiesSinceConsult counter from
// appointment status transitions.
package therapy

import (
	"errors"
	"fmt"

	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/platform/docstore"
)

var (
	ErrMissingState         = errors.New("event is missing before or after state")
	ErrMalformedAppointment = errors.New("malformed appointment")
)

type MutationKind int

const (
	// ResetCounter sets the counter to 0 and records the consultation date.
	ResetCounter MutationKind = iota + 1
	// IncrementCounter adds one to the counter atomically.
	IncrementCounter
)

func (k MutationKind) String() string {
	switch k {
	case ResetCounter:
		return "reset"
	case IncrementCounter:
		return "increment"
	}
	return "unknown"
}

// Mutation is the change one appointment transition applies to a patient.
type Mutation struct {
	Kind      MutationKind
	PatientID string
	// Date is the consultation date for ResetCounter; empty when the
	// appointment carries none.
	Date string
}

// Decide inspects an appointment update. It returns nil when the update is not
// a transition into completed.
func Decide(before, after *docstore.Document) (*Mutation, error) {
	if before == nil || after == nil {
		return nil, ErrMissingState
	}
	justCompleted := after.String(appointment.FieldStatus) == appointment.StatusCompleted &&
		before.String(appointment.FieldStatus) != appointment.StatusCompleted
	if !justCompleted {
		return nil, nil
	}

	patientID := after.String(appointment.FieldPatientID)
	if patientID == "" {
		return nil, fmt.Errorf("%w: no patientId", ErrMalformedAppointment)
	}

	switch typ := after.String(appointment.FieldType); typ {
	case appointment.TypeConsultation:
		return &Mutation{Kind: ResetCounter, PatientID: patientID, Date: after.String(appointment.FieldDate)}, nil
	case appointment.TypeTherapy:
		return &Mutation{Kind: IncrementCounter, PatientID: patientID}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrMalformedAppointment, typ)
	}
}
