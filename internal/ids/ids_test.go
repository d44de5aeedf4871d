package ids

import "testing"

func TestNewIsSortableAndValid(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		if !Valid(next) {
			t.Fatalf("generated id is not valid: %s", next)
		}
		prev = next
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "not-a-ulid-at-all-000000000", "ZZZZZZZZZZZZZZZZZZZZZZZZZZ"} {
		if Valid(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}
