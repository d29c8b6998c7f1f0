package bufpool_test

import (
	"testing"

	"github.com/nabbar/edgeproxy/bufpool"
)

func TestGetReturnsFixedSize(t *testing.T) {
	p := bufpool.New(4096, 0)
	buf, ok := p.Get()
	if !ok {
		t.Fatal("expected a lease")
	}
	if len(*buf) != 4096 {
		t.Fatalf("expected 4096 bytes, got %d", len(*buf))
	}
	p.Put(buf)
}

func TestExhaustionIncrementsCounter(t *testing.T) {
	p := bufpool.New(1024, 1)

	b1, ok := p.Get()
	if !ok {
		t.Fatal("expected the first lease to succeed")
	}
	if _, ok := p.Get(); ok {
		t.Fatal("expected the second lease to fail under a limit of 1")
	}
	if p.Exhausted() != 1 {
		t.Fatalf("expected exhausted counter at 1, got %d", p.Exhausted())
	}

	p.Put(b1)
	if _, ok := p.Get(); !ok {
		t.Fatal("expected a lease to succeed again after Put")
	}
}

func TestDefaultSizeUsedWhenZero(t *testing.T) {
	p := bufpool.New(0, 0)
	buf, _ := p.Get()
	if len(*buf) != bufpool.DefaultSize {
		t.Fatalf("expected default size %d, got %d", bufpool.DefaultSize, len(*buf))
	}
}
