package passphrase

import "testing"

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("SWAPCTL_TEST_SECRET", "hunter2")
	src := NewSource("SWAPCTL_TEST_SECRET", "")
	value, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "hunter2" {
		t.Fatalf("unexpected value %q", value)
	}
	t.Setenv("SWAPCTL_TEST_SECRET", "changed")
	if again, _ := src.Get(); again != "hunter2" {
		t.Fatalf("value should be cached, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("SWAPCTL_TEST_SECRET", "   ")
	if _, err := NewSource("SWAPCTL_TEST_SECRET", "jwt secret").Get(); err == nil {
		t.Fatalf("expected blank value to be rejected")
	}
}
