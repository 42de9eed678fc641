package cpu

import "testing"

func TestInitDecodesFeatureBits(t *testing.T) {
	SetCPUID(func(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
		switch leaf {
		case 1:
			return 0, 0, 0, 1 << 9 // APIC present
		case 0x80000000:
			return 0x80000001, 0, 0, 0
		case 0x80000001:
			return 0, 0, 0, (1 << 11) | (1 << 20) | (1 << 26)
		}
		return 0, 0, 0, 0
	})
	defer SetCPUID(nil)

	Init()

	if !X86_64.HasAPIC {
		t.Error("expected HasAPIC true")
	}
	if !X86_64.HasSYSCALL || !X86_64.HasNX || !X86_64.Has1GiBPages {
		t.Errorf("expected all extended flags set, got %+v", X86_64)
	}
}

func TestInitNoBackendIsNoop(t *testing.T) {
	SetCPUID(nil)
	X86_64.HasNX = false
	Init()
	if X86_64.HasNX {
		t.Error("Init with nil backend must not change state")
	}
}
