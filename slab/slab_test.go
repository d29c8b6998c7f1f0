package slab_test

import (
	"testing"

	"github.com/nabbar/edgeproxy/slab"
)

func TestAllocGetFree(t *testing.T) {
	s := slab.New()
	tok := s.Alloc("session-a")

	v, ok := s.Get(tok)
	if !ok || v != "session-a" {
		t.Fatalf("expected session-a, got %v ok=%v", v, ok)
	}

	s.Free(tok)
	if _, ok := s.Get(tok); ok {
		t.Fatal("expected Get to fail after Free")
	}
}

func TestStaleTokenAfterReuse(t *testing.T) {
	s := slab.New()
	first := s.Alloc("first")
	s.Free(first)

	second := s.Alloc("second")
	if second.Index != first.Index {
		t.Fatalf("expected slot reuse, got different index %d vs %d", second.Index, first.Index)
	}
	if second.Generation == first.Generation {
		t.Fatal("expected generation to change on reuse")
	}

	if _, ok := s.Get(first); ok {
		t.Fatal("stale token must not resolve after slot reuse")
	}
	if v, ok := s.Get(second); !ok || v != "second" {
		t.Fatalf("expected second, got %v ok=%v", v, ok)
	}
}

func TestLenTracksOccupancy(t *testing.T) {
	s := slab.New()
	a := s.Alloc(1)
	s.Alloc(2)
	if s.Len() != 2 {
		t.Fatalf("expected 2 occupied slots, got %d", s.Len())
	}
	s.Free(a)
	if s.Len() != 1 {
		t.Fatalf("expected 1 occupied slot after free, got %d", s.Len())
	}
}
