package localstore

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TableName derives the table for payload type P: the type name in snake_case,
// pluralised, e.g. TennisPlayer becomes tennis_players. Generic arguments and
// package qualifiers are dropped.
func TableName[P any]() string {
	t := reflect.TypeFor[P]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		name = t.Kind().String()
	}
	snake := toSnake(name)
	if snake == "" {
		return "entries"
	}

	// pluralise the last word only
	head, last := "", snake
	if i := strings.LastIndexByte(snake, '_'); i >= 0 {
		head, last = snake[:i+1], snake[i+1:]
	}
	return head + inflection.Plural(last)
}

// toSnake converts s to snake_case. Anything that is not a letter or digit
// collapses into a single underscore so the result is always a safe identifier.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false
	sep := func() {
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sep()
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case unicode.IsLower(r), unicode.IsDigit(r):
			if r <= unicode.MaxASCII {
				b.WriteRune(r)
				lastUnderscore = false
			} else {
				sep()
			}
		default:
			sep()
		}
	}

	return strings.Trim(b.String(), "_")
}
