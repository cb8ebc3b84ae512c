package types

import (
	"testing"
	"time"
)

func TestCapabilityExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	cap := Capability{Timeout: time.Unix(999, 0)}
	if !cap.Expired(now) {
		t.Fatalf("expected capability with timeout in the past to be expired")
	}

	cap.Timeout = time.Unix(1001, 0)
	if cap.Expired(now) {
		t.Fatalf("expected capability with timeout in the future to be valid")
	}
}

func TestCapabilityCloneIsIndependent(t *testing.T) {
	orig := Capability{
		Handles:   []Handle{{1}, {2}},
		Signature: []byte{0xde, 0xad},
	}
	clone := orig.Clone()
	clone.Handles[0] = Handle{9}
	clone.Signature[0] = 0xff

	if orig.Handles[0] == clone.Handles[0] {
		t.Fatalf("expected clone to own a distinct handle backing array")
	}
	if orig.Signature[0] == clone.Signature[0] {
		t.Fatalf("expected clone to own a distinct signature backing array")
	}
}

func TestAttrMaskHasAndAny(t *testing.T) {
	m := AttrSize | AttrOwner
	if !m.Has(AttrSize) {
		t.Fatalf("expected mask to have AttrSize")
	}
	if m.Has(AttrSize | AttrCTime) {
		t.Fatalf("Has should require every requested bit")
	}
	if !m.Any(AttrSize | AttrCTime) {
		t.Fatalf("Any should match on partial overlap")
	}
	if m.Any(AttrCTime | AttrMTime) {
		t.Fatalf("Any should not match when no bits overlap")
	}
}

func TestHintsMergeDoesNotOverwrite(t *testing.T) {
	h := Hints{"a": "caller"}
	h = h.Merge(Hints{"a": "env", "b": "env"})

	if h["a"] != "caller" {
		t.Fatalf("expected caller-set key to survive merge, got %q", h["a"])
	}
	if h["b"] != "env" {
		t.Fatalf("expected new key to be merged in, got %q", h["b"])
	}
}

func TestNullHandle(t *testing.T) {
	var h Handle
	if !h.IsNull() {
		t.Fatalf("zero value handle should be null")
	}
	h[0] = 1
	if h.IsNull() {
		t.Fatalf("non-zero handle should not be null")
	}
}
