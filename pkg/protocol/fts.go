package protocol

import "strings"

// SanitizeFTS5Query wraps each term in double quotes to prevent FTS5 operator
// interpretation ("and", "or", "not", "*", "^" are FTS5 syntax) and joins
// them with OR. Returns "" when no usable term remains.
func SanitizeFTS5Query(query string) string {
	words := strings.Fields(query)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		clean := strings.Map(func(r rune) rune {
			switch r {
			case '"', '*', '^':
				return -1
			}
			return r
		}, w)
		if clean != "" {
			quoted = append(quoted, `"`+clean+`"`)
		}
	}
	return strings.Join(quoted, " OR ")
}
