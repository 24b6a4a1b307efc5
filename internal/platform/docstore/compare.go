package docstore

import (
	"fmt"
	"strings"
)

// Compare orders two field values the way the backends do: nil first, then
// booleans, numbers and strings. Values of different kinds order by kind.
func Compare(a, b interface{}) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		return ka - kb
	}
	switch ka {
	case 0:
		return 0
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(toString(a), toString(b))
	}
}

// CompareAt orders doc against a cursor under order, returning a negative
// number when doc comes first in the result sequence.
func CompareAt(doc Document, cur Cursor, order Order) int {
	c := Compare(doc.Fields[order.Field], cur.Value)
	if c == 0 {
		c = strings.Compare(doc.ID, cur.ID)
	}
	if order.Descending {
		return -c
	}
	return c
}

// Matches reports whether doc satisfies every filter.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		c := Compare(doc.Fields[f.Field], f.Value)
		var ok bool
		switch f.Op {
		case OpEqual:
			ok = c == 0
		case OpGreater:
			ok = c > 0
		case OpGreaterOrEqual:
			ok = c >= 0
		case OpLess:
			ok = c < 0
		case OpLessOrEqual:
			ok = c <= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

func kindOf(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	default:
		return 3
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
