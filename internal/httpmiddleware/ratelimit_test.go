package httpmiddleware

import "testing"

func TestTokenBucketExhaustsAndIsolatesKeys(t *testing.T) {
	l := NewTokenBucket(3, 3)

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	if l.allow("10.0.0.1") {
		t.Error("bucket not exhausted after capacity requests")
	}
	if !l.allow("10.0.0.2") {
		t.Error("another client blocked by an unrelated bucket")
	}
}

func TestTokenBucketDefaultsCapacity(t *testing.T) {
	l := NewTokenBucket(0, 5)
	if l.capacity != 5 {
		t.Errorf("capacity = %d, want 5", l.capacity)
	}
}
