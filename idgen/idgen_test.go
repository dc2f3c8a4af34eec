package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
	if _, err := Parse(id); err != nil {
		t.Fatalf("Parse(%q): %v", id, err)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	// WHAT: Consecutive UUIDv7 IDs sort in generation order.
	// WHY: Run history is listed by ID.
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 50; i++ {
		next := gen()
		if next <= prev {
			t.Fatalf("not sortable: %q after %q", next, prev)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("run_", Sequence("x"))()
	if id != "run_x1" {
		t.Fatalf("got %q, want %q", id, "run_x1")
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("id-")
	for _, want := range []string{"id-1", "id-2", "id-3"} {
		if got := gen(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestParse(t *testing.T) {
	id := UUIDv7()()
	got, err := Parse(strings.ToUpper(id))
	if err != nil {
		t.Fatalf("Parse(%q): %v", id, err)
	}
	if got != id {
		t.Errorf("canonical form: got %q, want %q", got, id)
	}
	if _, err := Parse("run-42"); err == nil {
		t.Error("Parse accepted a non-UUID")
	}
}
