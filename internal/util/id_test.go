package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("")
	if !ValidID(id) {
		t.Fatalf("NewID(\"\") = %q, want a uuid", id)
	}
	prefixed := NewID("jti")
	if !strings.HasPrefix(prefixed, "jti_") || !ValidID(strings.TrimPrefix(prefixed, "jti_")) {
		t.Fatalf("NewID(\"jti\") = %q", prefixed)
	}
	if NewID("") == NewID("") {
		t.Fatal("expected distinct ids")
	}
}

func TestValidID(t *testing.T) {
	if ValidID("not-a-uuid") {
		t.Fatal("expected invalid id to be rejected")
	}
}
