package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

var segmentEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// defaultKeySerializer joins a namespace and its parts with KeySeparator.
// String parts are escaped so an id containing the separator cannot collide
// with a key of a different shape, and so nested prefixes stay unambiguous.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

// SerializeKey builds namespace::part1::part2...
func (defaultKeySerializer) SerializeKey(namespace string, parts ...any) string {
	if len(parts) == 0 {
		return namespace
	}

	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, namespace)
	for _, part := range parts {
		segments = append(segments, serializePart(part))
	}
	return strings.Join(segments, KeySeparator)
}

// Prefix returns the key prefix shared by every key serialized with the same
// namespace and leading parts.
func Prefix(s KeySerializer, namespace string, parts ...any) string {
	return s.SerializeKey(namespace, parts...) + KeySeparator
}

func serializePart(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return segmentEscaper.Replace(x)
	case fmt.Stringer:
		return segmentEscaper.Replace(x.String())
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", x)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "nil"
		}
		return serializePart(rv.Elem().Interface())
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "type:" + rv.Type().String()
	}
	return "json:" + segmentEscaper.Replace(string(data))
}
