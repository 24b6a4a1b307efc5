package docstore

import (
	"unicode"
	"unicode/utf8"
)

// PrefixSentinel is appended to a prefix to form the exclusive upper bound
// of a "starts with" range.
const PrefixSentinel = "\uffff"

// PrefixRange returns the filters selecting documents whose field lies in
// [prefix, prefix+PrefixSentinel).
func PrefixRange(field, prefix string) []Filter {
	return []Filter{
		{Field: field, Op: OpGreaterOrEqual, Value: prefix},
		{Field: field, Op: OpLess, Value: prefix + PrefixSentinel},
	}
}

// Capitalize upper-cases the first letter. Names are stored capitalized and
// search prefixes are normalized the same way before a range query.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
