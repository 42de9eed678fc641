package bitfield

import (
	"fmt"
	"testing"
)

func TestPackPTEFlags(t *testing.T) {
	tests := []struct {
		name     string
		flags    PTEFlags
		expected uint64
	}{
		{
			name:     "all flags false",
			flags:    PTEFlags{},
			expected: 0,
		},
		{
			name:     "present only",
			flags:    PTEFlags{Present: true},
			expected: 0x1,
		},
		{
			name:     "present + writable + user",
			flags:    PTEFlags{Present: true, Writable: true, User: true},
			expected: 0x7,
		},
		{
			name:     "huge + global leaf",
			flags:    PTEFlags{Present: true, Writable: true, Huge: true, Global: true},
			expected: 0x1 | 0x2 | 0x80 | 0x100,
		},
		{
			name:     "no-execute",
			flags:    PTEFlags{Present: true, NoExecute: true},
			expected: 0x1 | (1 << 63),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PackPTEFlags(tt.flags)
			if got != tt.expected {
				t.Errorf("PackPTEFlags() = 0x%016x, want 0x%016x", got, tt.expected)
			}
		})
	}
}

func TestUnpackPTEFlags(t *testing.T) {
	raw := uint64(0x1 | 0x2 | 0x4 | (1 << 63))
	got := UnpackPTEFlags(raw)
	if !got.Present || !got.Writable || !got.User || !got.NoExecute {
		t.Fatalf("UnpackPTEFlags(0x%x) = %+v, missing expected bits", raw, got)
	}
	if got.Accessed || got.Dirty || got.Huge || got.Global {
		t.Fatalf("UnpackPTEFlags(0x%x) = %+v, unexpected bit set", raw, got)
	}
}

func TestPTEFlagsRoundTrip(t *testing.T) {
	cases := []PTEFlags{
		{},
		{Present: true},
		{Present: true, Writable: true, User: true, Accessed: true, Dirty: true},
		{Present: true, Huge: true, Global: true, NoExecute: true},
		{Present: true, WriteThrough: true, CacheDisable: true},
	}
	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			got := UnpackPTEFlags(PackPTEFlags(c))
			if got != c {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, c)
			}
		})
	}
}

// The physical-address field occupies bits 12-51; PackPTEFlags must never
// set any of them so callers can safely OR in an aligned frame address.
func TestPackPTEFlagsLeavesAddressBitsClear(t *testing.T) {
	full := PTEFlags{
		Present: true, Writable: true, User: true, WriteThrough: true,
		CacheDisable: true, Accessed: true, Dirty: true, Huge: true,
		Global: true, NoExecute: true,
	}
	const addressMask = 0x000F_FFFF_FFFF_F000
	if PackPTEFlags(full)&addressMask != 0 {
		t.Fatalf("PackPTEFlags set bits in the address field: 0x%016x", PackPTEFlags(full))
	}
}
