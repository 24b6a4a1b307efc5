// Package directory serves paginated, filterable and searchable listings over
// document collections using keyset cursors.
package directory

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/staff"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/docstore"
)

var (
	ErrUnknownListing    = errors.New("unknown listing")
	ErrUnknownFilter     = errors.New("unknown filter")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrSearchUnsupported = errors.New("listing does not support search")
)

type Direction string

const (
	First Direction = "first"
	Next  Direction = "next"
	Prev  Direction = "prev"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(s)); d {
	case First, Next, Prev:
		return d, nil
	case "":
		return First, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// AllValues is the filter value meaning "no constraint".
const AllValues = "all"

// Filters maps a field to the value it must equal.
type Filters map[string]string

// Effective drops empty and "all" values.
func (f Filters) Effective() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		if v == "" || v == AllValues {
			continue
		}
		out[k] = v
	}
	return out
}

func (f Filters) key() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(f[k])
		b.WriteByte(';')
	}
	return b.String()
}

// Listing declares one paginated view over a collection.
type Listing struct {
	Name         string
	Collection   string
	Sort         docstore.Order
	SearchField  string
	PageSize     int
	FilterFields []string
	// Exclude removes matching documents from fetched pages in memory. Pages
	// may come back shorter than PageSize because of it.
	Exclude []docstore.Filter
	// Roles allowed to open the listing besides admin; empty means any staff.
	Roles []string
}

func (l Listing) where(filters Filters) ([]docstore.Filter, error) {
	var out []docstore.Filter
	for _, field := range l.FilterFields {
		if v, ok := filters[field]; ok {
			out = append(out, docstore.Filter{Field: field, Op: docstore.OpEqual, Value: v})
		}
	}
	if len(out) != len(filters) {
		for k := range filters {
			if !l.allowsFilter(k) {
				return nil, fmt.Errorf("%w: %s on %s", ErrUnknownFilter, k, l.Name)
			}
		}
	}
	return out, nil
}

func (l Listing) allowsFilter(field string) bool {
	for _, f := range l.FilterFields {
		if f == field {
			return true
		}
	}
	return false
}

func (l Listing) excluded(d docstore.Document) bool {
	for _, f := range l.Exclude {
		if docstore.Matches(d, []docstore.Filter{f}) {
			return true
		}
	}
	return false
}

// Allows reports whether role may open the listing.
func (l Listing) Allows(role string) bool {
	if role == auth.RoleAdmin {
		return true
	}
	if !auth.ValidRole(role) {
		return false
	}
	if len(l.Roles) == 0 {
		return true
	}
	for _, r := range l.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type PageSizes struct {
	Patients     int
	Users        int
	Appointments int
}

// Catalog holds the listings the clinic exposes, keyed by name.
type Catalog map[string]Listing

func NewCatalog(sizes PageSizes) Catalog {
	return Catalog{
		"patients": {
			Name:        "patients",
			Collection:  patient.Collection,
			Sort:        docstore.Order{Field: patient.FieldCreatedAt, Descending: true},
			SearchField: patient.FieldName,
			PageSize:    sizes.Patients,
		},
		"users": {
			Name:         "users",
			Collection:   staff.Collection,
			Sort:         docstore.Order{Field: staff.FieldName},
			SearchField:  staff.FieldName,
			PageSize:     sizes.Users,
			FilterFields: []string{staff.FieldRole, staff.FieldStatus},
			Exclude:      []docstore.Filter{{Field: staff.FieldRole, Op: docstore.OpEqual, Value: auth.RoleAdmin}},
			Roles:        []string{auth.RoleAdmin},
		},
		"appointments": {
			Name:         "appointments",
			Collection:   appointment.Collection,
			Sort:         docstore.Order{Field: appointment.FieldDate, Descending: true},
			PageSize:     sizes.Appointments,
			FilterFields: []string{appointment.FieldPatientID, appointment.FieldStatus, appointment.FieldType},
		},
	}
}

func (c Catalog) Lookup(name string) (Listing, error) {
	l, ok := c[name]
	if !ok {
		return Listing{}, fmt.Errorf("%w: %q", ErrUnknownListing, name)
	}
	return l, nil
}
