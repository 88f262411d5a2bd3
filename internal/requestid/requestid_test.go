package requestid

import (
	"regexp"
	"testing"
)

func TestGen_Format(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`^\d{28}$`)
	for i := 0; i < 20; i++ {
		if id := Gen(); !re.MatchString(id) {
			t.Fatalf("unexpected id %q", id)
		}
	}
}

func TestFromHeader(t *testing.T) {
	t.Parallel()

	if got := FromHeader("  abc "); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := FromHeader(" "); len(got) != 28 {
		t.Fatalf("expected generated id, got %q", got)
	}
}
