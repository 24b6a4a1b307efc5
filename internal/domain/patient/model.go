package patient

import (
	"time"

	"github.com/clinic/clinic/internal/platform/docstore"
)

// Collection is the document collection holding patients.
const Collection = "patients"

// Document field names.
const (
	FieldName                  = "name"
	FieldContact               = "contact"
	FieldTherapiesSinceConsult = "therapiesSinceConsult"
	FieldLastConsultationDate  = "lastConsultationDate"
	FieldCreatedAt             = "createdAt"
)

// Patient maps to a document of the patients collection.
// TherapiesSinceConsult is derived state maintained by the therapy counter.
type Patient struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Contact               string    `json:"contact"`
	TherapiesSinceConsult int64     `json:"therapies_since_consult"`
	LastConsultationDate  *string   `json:"last_consultation_date,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// FromDocument reads a patient out of a stored document.
func FromDocument(d *docstore.Document) *Patient {
	p := &Patient{
		ID:                    d.ID,
		Name:                  d.String(FieldName),
		Contact:               d.String(FieldContact),
		TherapiesSinceConsult: d.Int(FieldTherapiesSinceConsult),
	}
	if v := d.String(FieldLastConsultationDate); v != "" {
		p.LastConsultationDate = &v
	}
	if t, err := docstore.ParseTime(d.String(FieldCreatedAt)); err == nil {
		p.CreatedAt = t
	}
	return p
}

// Fields returns the full document body for a new patient.
func (p *Patient) Fields() map[string]interface{} {
	f := map[string]interface{}{
		FieldName:                  p.Name,
		FieldContact:               p.Contact,
		FieldTherapiesSinceConsult: p.TherapiesSinceConsult,
		FieldCreatedAt:             docstore.FormatTime(p.CreatedAt),
	}
	if p.LastConsultationDate != nil {
		f[FieldLastConsultationDate] = *p.LastConsultationDate
	}
	return f
}
