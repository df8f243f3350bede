package cache

import (
	"strings"
	"testing"
	"time"
)

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

type criteria struct {
	Country string
	Limit   int
}

func TestDefaultKeySerializer_SerializeKey(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	limit := 10

	tests := []struct {
		name      string
		namespace string
		parts     []any
		want      string
	}{
		{
			name:      "no parts",
			namespace: "entry",
			want:      "entry",
		},
		{
			name:      "table and id",
			namespace: "entry",
			parts:     []any{"players", "42"},
			want:      joinWithSeparator("entry", "players", "42"),
		},
		{
			name:      "basic types",
			namespace: "list",
			parts:     []any{1, true, 3.5, uint8(2)},
			want:      joinWithSeparator("list", "1", "true", "3.5", "2"),
		},
		{
			name:      "separator in id is escaped",
			namespace: "entry",
			parts:     []any{"players", "a::b"},
			want:      joinWithSeparator("entry", "players", `a\:\:b`),
		},
		{
			name:      "backslash is escaped",
			namespace: "entry",
			parts:     []any{`a\b`},
			want:      joinWithSeparator("entry", `a\\b`),
		},
		{
			name:      "nil part",
			namespace: "entry",
			parts:     []any{nil},
			want:      joinWithSeparator("entry", "nil"),
		},
		{
			name:      "pointer is dereferenced",
			namespace: "page",
			parts:     []any{&limit, (*int)(nil)},
			want:      joinWithSeparator("page", "10", "nil"),
		},
		{
			name:      "stringer",
			namespace: "ttl",
			parts:     []any{time.Second},
			want:      joinWithSeparator("ttl", "1s"),
		},
		{
			name:      "struct falls back to json",
			namespace: "query",
			parts:     []any{criteria{Country: "ES", Limit: 5}},
			want:      joinWithSeparator("query", `json:{"Country"\:"ES","Limit"\:5}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serializer.SerializeKey(tt.namespace, tt.parts...)
			if got != tt.want {
				t.Errorf("SerializeKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultKeySerializer_DistinctIDsDoNotCollide(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	a := serializer.SerializeKey("entry", "players", "x::y")
	b := serializer.SerializeKey("entry", "players::x", "y")
	if a == b {
		t.Fatalf("expected distinct keys, both were %q", a)
	}
}

func TestPrefix(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	prefix := Prefix(serializer, "entry", "players")

	if prefix != "entry::players::" {
		t.Fatalf("unexpected prefix %q", prefix)
	}

	if key := serializer.SerializeKey("entry", "players", "1"); !strings.HasPrefix(key, prefix) {
		t.Errorf("key %q does not start with %q", key, prefix)
	}

	if other := serializer.SerializeKey("entry", "players_archive", "1"); strings.HasPrefix(other, prefix) {
		t.Errorf("key %q of another table matched prefix %q", other, prefix)
	}
}
