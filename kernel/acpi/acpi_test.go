package acpi

import (
	"testing"
	"unsafe"

	"vkernel/kernel/memory"
)

// fakePhys allocates a host byte slice and returns the "physical"
// address Probe must dereference through memory.PhysToVirt to land
// back on it, standing in for a loader-provided RSDP without any real
// paging in place.
func fakePhys(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0])) - memory.DirectMapOffset
}

func checksumByte(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return byte(-int8(sum))
}

func buildV1(rsdtAddr uint32) []byte {
	buf := make([]byte, unsafe.Sizeof(rsdpV1{}))
	h := (*rsdpV1)(unsafe.Pointer(&buf[0]))
	copy(h.signature[:], rsdpSignature)
	h.revision = 0
	h.rsdtAddr = rsdtAddr
	h.checksum = checksumByte(buf)
	return buf
}

func buildSDT(numPtrs int, ptrSize uint32) []byte {
	size := unsafe.Sizeof(sdtHeader{}) + uintptr(numPtrs)*uintptr(ptrSize)
	buf := make([]byte, size)
	h := (*sdtHeader)(unsafe.Pointer(&buf[0]))
	h.length = uint32(size)
	return buf
}

func TestProbeReportsTablePtrCountForV1(t *testing.T) {
	sdt := buildSDT(3, 4)
	sdtPhys := fakePhys(sdt)

	rsdp := buildV1(uint32(sdtPhys))
	rsdpPhys := fakePhys(rsdp)

	info, err := Probe(rsdpPhys)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.TablePtrs != 3 {
		t.Fatalf("TablePtrs = %d, want 3", info.TablePtrs)
	}
	if info.Is64BitXSDT {
		t.Fatal("v1 RSDP should not report a 64-bit XSDT")
	}
}

func TestProbeRejectsZeroPointer(t *testing.T) {
	if _, err := Probe(0); err != ErrNotFound {
		t.Fatalf("Probe(0) = %v, want ErrNotFound", err)
	}
}

func TestProbeRejectsBadChecksum(t *testing.T) {
	rsdp := buildV1(0)
	rsdp[8] ^= 0xFF // corrupt checksum byte
	rsdpPhys := fakePhys(rsdp)

	if _, err := Probe(rsdpPhys); err != ErrNotFound {
		t.Fatalf("Probe with bad checksum = %v, want ErrNotFound", err)
	}
}

func TestProbeRejectsBadSignature(t *testing.T) {
	rsdp := buildV1(0)
	copy(rsdp[:8], "GARBAGE!")
	rsdpPhys := fakePhys(rsdp)

	if _, err := Probe(rsdpPhys); err != ErrNotFound {
		t.Fatalf("Probe with bad signature = %v, want ErrNotFound", err)
	}
}
