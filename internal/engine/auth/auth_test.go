package auth

import "testing"

func TestKnownPermission(t *testing.T) {
	for _, p := range allPermissions {
		if !KnownPermission(p) {
			t.Errorf("%s should be known", p)
		}
	}
	if KnownPermission("timeliness.delete") {
		t.Fatal("unexpected permission accepted")
	}
}
