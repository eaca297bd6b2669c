package util

import (
	"testing"
	"time"
)

func TestSkipThrottler(t *testing.T) {
	t.Parallel()
	tt := NewSkipThrottler(time.Hour)
	if !tt.Ok() {
		t.Fatalf("first event skipped")
	}
	for i := range 3 {
		if tt.Ok() {
			t.Fatalf("%d", i)
		}
	}
	if tt.Skipped != 3 {
		t.Fatalf("%d", tt.Skipped)
	}

	tt = NewSkipThrottler(0)
	for i := range 3 {
		if !tt.Ok() {
			t.Fatalf("%d", i)
		}
	}
}
