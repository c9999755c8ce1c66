package ratelimit

import "testing"

func TestAllowDrainsBucket(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		if !l.Allow("k", 3, 0) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("k", 3, 0) {
		t.Fatalf("bucket should be empty after capacity requests")
	}
}

func TestAllowKeysIndependent(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, 0) {
		t.Fatalf("first request on a should pass")
	}
	if l.Allow("a", 1, 0) {
		t.Fatalf("a should be exhausted")
	}
	if !l.Allow("b", 1, 0) {
		t.Fatalf("b should have its own bucket")
	}
}
