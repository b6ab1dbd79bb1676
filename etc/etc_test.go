package etc

import (
	"strings"
	"testing"
)

func TestNewFreshID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewFreshID()
		if len(id) != idLength {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		if strings.Trim(id, idRunes) != "" {
			t.Fatalf("id %q has unexpected characters", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
