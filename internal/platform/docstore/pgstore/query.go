package pgstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clinic/clinic/internal/platform/docstore"
)

// fieldExpr renders a top-level JSONB field as byte-ordered text so that
// ordering, prefix ranges and keyset comparisons agree with the other backends.
func fieldExpr(field string) string {
	return fmt.Sprintf(`COALESCE(data->>'%s', '') COLLATE "C"`, field)
}

// textValue renders a filter or cursor value the way ->> renders JSON scalars.
func textValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

var sqlOps = map[docstore.Op]string{
	docstore.OpEqual:          "=",
	docstore.OpGreater:        ">",
	docstore.OpGreaterOrEqual: ">=",
	docstore.OpLess:           "<",
	docstore.OpLessOrEqual:    "<=",
}

// buildQuery translates a keyset query into SQL over the documents table.
func buildQuery(q docstore.Query) (string, []interface{}, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	args := []interface{}{q.Collection}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	b.WriteString(`SELECT id, data, version FROM documents WHERE collection = $1`)
	for _, f := range q.Where {
		fmt.Fprintf(&b, " AND %s %s %s", fieldExpr(f.Field), sqlOps[f.Op], arg(textValue(f.Value)))
	}

	cursor, inclusive := q.StartAfter, false
	if q.StartAt != nil {
		cursor, inclusive = q.StartAt, true
	}
	if cursor != nil {
		cmp, idCmp := ">", ">"
		if q.OrderBy.Descending {
			cmp, idCmp = "<", "<"
		}
		if inclusive {
			idCmp += "="
		}
		expr := fieldExpr(q.OrderBy.Field)
		v := arg(textValue(cursor.Value))
		id := arg(cursor.ID)
		fmt.Fprintf(&b, " AND (%s %s %s OR (%s = %s AND id COLLATE \"C\" %s %s))", expr, cmp, v, expr, v, idCmp, id)
	}

	dir := "ASC"
	if q.OrderBy.Descending {
		dir = "DESC"
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id COLLATE \"C\" %s LIMIT %s", fieldExpr(q.OrderBy.Field), dir, dir, arg(q.Limit))
	return b.String(), args, nil
}
