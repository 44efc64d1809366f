package runnerplugin

import (
	"bytes"
	"testing"
)

// TestAllocate verifies that blocks are tracked until released.
func TestAllocate(t *testing.T) {
	base := Outstanding()

	if ptr := Allocate(0); ptr != 0 {
		t.Errorf("expected 0 for empty allocation, got %d", ptr)
	}

	p1 := Allocate(5)
	p2 := Allocate(16)
	if p1 == 0 || p2 == 0 || p1 == p2 {
		t.Fatalf("expected two distinct blocks, got %d and %d", p1, p2)
	}
	if got := Outstanding() - base; got != 21 {
		t.Errorf("expected 21 bytes outstanding, got %d", got)
	}

	WriteBytes(p2, []byte("hello"))
	if got := ReadBytes(p2, 5); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("expected hello, got %q", got)
	}

	Deallocate(p1)
	Deallocate(p1)
	Deallocate(p2)
	Deallocate(12345)
	if got := Outstanding(); got != base {
		t.Errorf("expected %d bytes outstanding, got %d", base, got)
	}
}

// TestAllocateLimit verifies that the pinned total is bounded.
func TestAllocateLimit(t *testing.T) {
	if ptr := Allocate(MaxAllocation + 1); ptr != 0 {
		Deallocate(ptr)
		t.Errorf("expected allocation over the limit to fail")
	}
}

// TestDecodeArgs verifies little-endian cell decoding.
func TestDecodeArgs(t *testing.T) {
	ptr := Allocate(12)
	defer Deallocate(ptr)

	WriteBytes(ptr, []byte{
		0x01, 0x00, 0x00, 0x00,
		0xfe, 0xff, 0xff, 0xff,
		0x00, 0x00, 0xc0, 0x3f, // 1.5
	})

	args := DecodeArgs(ptr, 3)
	if args.Len() != 3 {
		t.Fatalf("expected 3 args, got %d", args.Len())
	}
	if args.Int(0) != 1 || args.Int(1) != -2 {
		t.Errorf("unexpected ints %d %d", args.Int(0), args.Int(1))
	}
	if args.Float(2) != 1.5 {
		t.Errorf("expected 1.5, got %v", args.Float(2))
	}
	if args.Int(3) != 0 || args.Int(-1) != 0 {
		t.Errorf("expected 0 for missing arguments")
	}
	if FloatCell(1.5) != args.Int(2) {
		t.Errorf("FloatCell does not match the decoded bits")
	}

	if got := DecodeArgs(ptr, 4); got != nil {
		t.Errorf("expected nil when the block is too short, got %v", got)
	}
}

// TestUnpackResult verifies splitting of packed host results.
func TestUnpackResult(t *testing.T) {
	code, value := UnpackResult(uint64(5)<<32 | uint64(0xffffffff))
	if code != 5 || value != -1 {
		t.Errorf("expected 5/-1, got %d/%d", code, value)
	}

	if _, err := unpackError(uint64(19) << 32); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if v, err := unpackError(42); err != nil || v != 42 {
		t.Errorf("expected 42, got %d (%v)", v, err)
	}
	if ErrInit.Error() != "engine error 22" {
		t.Errorf("unexpected message %q", ErrInit.Error())
	}
}
