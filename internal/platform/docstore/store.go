// Package docstore defines the document-store contract shared by the
// directory listings and the therapy counter trigger, plus the small value
// helpers every backend uses to read loosely typed document fields.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrInvalidQuery  = errors.New("invalid query")
)

// Document is a single record of a collection. Fields hold JSON-compatible
// values: strings, numbers, booleans and nil.
type Document struct {
	ID      string                 `json:"id"`
	Fields  map[string]interface{} `json:"fields"`
	Version int64                  `json:"-"`
}

// Op is a store-level comparison operator.
type Op string

const (
	OpEqual          Op = "=="
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
)

// Filter is a single where-clause on a top-level field.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Order declares the sort key of a query. The document id is always the
// implicit secondary key, in the same direction.
type Order struct {
	Field      string
	Descending bool
}

// Cursor marks a document's position in a sort order.
type Cursor struct {
	Value interface{} `json:"v"`
	ID    string      `json:"id"`
}

// Query is a keyset query over one collection. At most one of StartAfter and
// StartAt may be set.
type Query struct {
	Collection string
	OrderBy    Order
	Where      []Filter
	StartAfter *Cursor
	StartAt    *Cursor
	Limit      int
}

// ChangeEvent describes one update of a document. ID is unique per
// underlying change and stable across redeliveries.
type ChangeEvent struct {
	ID         string
	Collection string
	DocumentID string
	Before     *Document
	After      *Document
}

// EventHandler consumes change events. Handlers must be idempotent.
type EventHandler func(ctx context.Context, ev ChangeEvent)

// Store is the query/mutation surface of the document database.
type Store interface {
	Query(ctx context.Context, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	Create(ctx context.Context, collection string, fields map[string]interface{}) (*Document, error)
	Update(ctx context.Context, collection, id string, fields map[string]interface{}) error
	// Increment atomically adds delta to a numeric field without a read step.
	Increment(ctx context.Context, collection, id, field string, delta int64) error
	// Claim creates an empty marker document if absent. It reports false when
	// the marker already existed.
	Claim(ctx context.Context, collection, id string) (bool, error)
	Ping(ctx context.Context) error
}

// Watcher delivers update events for a collection, at least once, until ctx
// is cancelled.
type Watcher interface {
	Watch(ctx context.Context, collection string, handler EventHandler) error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidField reports whether name is usable as a top-level field name.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// Validate checks the structural rules every backend relies on.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if !ValidField(q.OrderBy.Field) {
		return fmt.Errorf("%w: bad order field %q", ErrInvalidQuery, q.OrderBy.Field)
	}
	if q.StartAfter != nil && q.StartAt != nil {
		return fmt.Errorf("%w: startAfter and startAt are mutually exclusive", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	for _, f := range q.Where {
		if !ValidField(f.Field) {
			return fmt.Errorf("%w: bad filter field %q", ErrInvalidQuery, f.Field)
		}
		switch f.Op {
		case OpEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

// CursorAt returns the cursor of doc under the given order.
func CursorAt(doc Document, order Order) Cursor {
	return Cursor{Value: doc.Fields[order.Field], ID: doc.ID}
}

// TimeLayout is a fixed-width UTC layout; timestamps stored with it sort
// lexicographically in chronological order on every backend.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a timestamp written by FormatTime. RFC 3339 is accepted too.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// String returns the field as a string, or "" when absent or not a string.
func (d *Document) String(field string) string {
	if d == nil {
		return ""
	}
	s, _ := d.Fields[field].(string)
	return s
}

// Int returns the field as an int64. Numbers decoded from JSON or BSON in any
// numeric representation are accepted.
func (d *Document) Int(field string) int64 {
	if d == nil {
		return 0
	}
	n, _ := ToInt64(d.Fields[field])
	return n
}

// Has reports whether the field is present and non-nil.
func (d *Document) Has(field string) bool {
	if d == nil {
		return false
	}
	v, ok := d.Fields[field]
	return ok && v != nil
}

// ToInt64 converts the numeric representations produced by the backends.
func ToInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
