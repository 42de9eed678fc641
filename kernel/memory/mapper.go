package memory

import (
	"errors"
	"unsafe"

	"vkernel/bitfield"
	"vkernel/internal/arch/amd64"
	ksync "vkernel/kernel/sync"
)

// DirectMapOffset is the fixed higher-half virtual offset added to every
// physical address to produce its direct-map alias. Every Available or
// Reserved byte of installed RAM has a stable translation at
// phys+DirectMapOffset, valid in every address space because the
// mapper installs it once in the shared upper half of the boot page
// table.
const DirectMapOffset = 0x0000_4000_0000_0000

const (
	entriesPerTable = 512
	entrySize       = 8
	pml4Shift       = 39
	pdptShift       = 30
	pdShift         = 21
	ptShift         = 12
	indexMask       = 0x1ff
)

// PageFlags is the caller-facing permission set for Map; the mapper
// translates it into the PTE bits bitfield.PTEFlags packs.
type PageFlags struct {
	Writable bool
	User     bool
	NoExecute bool
	Huge     bool // caller is mapping a 2 MiB or 1 GiB leaf, not a 4 KiB page
}

// Mapper owns the kernel's view of the currently active top-level page
// table (CR3). Map and Unmap are serialized behind a single lock per
// spec's "single kernel-side mapper... protected by a mutex"; PhysToVirt
// is a plain offset addition and takes no lock.
type Mapper struct {
	lock ksync.SpinLock
	top  uintptr // physical address of the active PML4
}

var kernelMapper Mapper

// ErrMapFailure is returned when an intermediate page-table frame could
// not be allocated partway through establishing a mapping.
var ErrMapFailure = errors.New("memory: map failure")

// InitMapper records the PML4 physical address installed by the boot
// glue (kernel/boot) as CR3 before paging was enabled, or read back via
// ReadCR3 if the loader already had paging on.
func InitMapper(topLevelPhys uintptr) {
	kernelMapper.top = topLevelPhys
}

// PhysToVirt returns the direct-map virtual alias of a physical address.
func PhysToVirt(phys uintptr) uintptr {
	return phys + DirectMapOffset
}

// VirtToPhys is PhysToVirt's inverse for addresses known to lie in the
// direct map.
func VirtToPhys(virt uintptr) uintptr {
	return virt - DirectMapOffset
}

func tableAt(phys uintptr) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(PhysToVirt(phys))), entriesPerTable)
}

// Map installs a mapping from the given virtual page to the given
// physical frame with the requested permissions, allocating any
// intermediate page-table levels that do not already exist. Allocating
// an intermediate table never fails silently: if the chain cannot be
// completed the caller sees ErrMapFailure and nothing already mapped by
// this call is left half-built (the entries this call itself created are
// torn down, matching the heap's failed-init rollback rule).
func (m *Mapper) Map(virt, phys uintptr, flags PageFlags) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.mapLocked(virt, phys, flags)
}

func (m *Mapper) mapLocked(virt, phys uintptr, flags PageFlags) error {
	pml4Idx := (virt >> pml4Shift) & indexMask
	pdptIdx := (virt >> pdptShift) & indexMask
	pdIdx := (virt >> pdShift) & indexMask
	ptIdx := (virt >> ptShift) & indexMask

	pml4 := tableAt(m.top)
	pdptPhys, created1, err := nextTable(pml4, pml4Idx, flags.User)
	if err != nil {
		return err
	}
	pdpt := tableAt(pdptPhys)

	if flags.Huge && (virt>>pdptShift)<<pdptShift == virt && phys&(FrameSize1G-1) == 0 {
		pdpt[pdptIdx] = pack(phys, flags, true)
		return nil
	}

	pdPhys, created2, err := nextTable(pdpt, pdptIdx, flags.User)
	if err != nil {
		if created1 {
			freeTable(pml4, pml4Idx)
		}
		return err
	}
	pd := tableAt(pdPhys)

	if flags.Huge && (virt>>pdShift)<<pdShift == virt && phys&(FrameSize2M-1) == 0 {
		pd[pdIdx] = pack(phys, flags, true)
		return nil
	}

	ptPhys, created3, err := nextTable(pd, pdIdx, flags.User)
	if err != nil {
		if created2 {
			freeTable(pdpt, pdptIdx)
		}
		if created1 {
			freeTable(pml4, pml4Idx)
		}
		return err
	}
	pt := tableAt(ptPhys)
	pt[ptIdx] = pack(phys, flags, false)
	_ = created3
	return nil
}

// nextTable returns the physical address of the next-level table
// referenced by table[idx], allocating and wiring in a fresh one if the
// entry is not yet present. created reports whether this call allocated
// it (so a caller higher up the chain can roll it back on failure).
func nextTable(table []uint64, idx uintptr, user bool) (phys uintptr, created bool, err error) {
	entry := table[idx]
	if entry&bitPresent != 0 {
		return uintptr(entry &^ addressMask), false, nil
	}
	frame, allocErr := Allocate(FrameSize4K)
	if allocErr != nil {
		return 0, false, ErrMapFailure
	}
	amd64.Bzero(unsafe.Pointer(PhysToVirt(frame)), FrameSize4K)
	f := bitfield.PTEFlags{Present: true, Writable: true, User: user}
	table[idx] = bitfield.PackPTEFlags(f) | uint64(frame)
	return frame, true, nil
}

func freeTable(table []uint64, idx uintptr) {
	entry := table[idx]
	frame := uintptr(entry &^ addressMask)
	table[idx] = 0
	if err := Free(frame, FrameSize4K); err != nil {
		panic(err) // a table this call itself just allocated cannot already be free
	}
}

const (
	bitPresent = 1 << 0
	addressMask = 0x000f_ffff_ffff_f000
)

// pack encodes a leaf PTE. Non-user mappings live in the upper half,
// identical across every address space, so their TLB entries are marked
// Global: the CPU never has to re-walk them on a CR3 reload.
func pack(phys uintptr, flags PageFlags, huge bool) uint64 {
	f := bitfield.PTEFlags{
		Present:   true,
		Writable:  flags.Writable,
		User:      flags.User,
		Huge:      huge,
		Global:    !flags.User,
		NoExecute: flags.NoExecute,
	}
	return bitfield.PackPTEFlags(f) | uint64(phys)
}

// Unmap clears the leaf entry mapping virt, if any, and returns the
// frame it was mapped to. It does not free intermediate tables even if
// they become entirely empty; a sparse address space is cheaper than an
// accounting scheme that has to notice "this table's last entry just
// emptied" on every unmap.
func (m *Mapper) Unmap(virt uintptr) (frame uintptr, wasMapped bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	pml4Idx := (virt >> pml4Shift) & indexMask
	pdptIdx := (virt >> pdptShift) & indexMask
	pdIdx := (virt >> pdShift) & indexMask
	ptIdx := (virt >> ptShift) & indexMask

	pml4 := tableAt(m.top)
	e := pml4[pml4Idx]
	if e&bitPresent == 0 {
		return 0, false
	}
	pdpt := tableAt(uintptr(e &^ addressMask))
	e = pdpt[pdptIdx]
	if e&bitPresent == 0 {
		return 0, false
	}
	if e&hugeBit != 0 {
		pdpt[pdptIdx] = 0
		return uintptr(e &^ addressMask), true
	}
	pd := tableAt(uintptr(e &^ addressMask))
	e = pd[pdIdx]
	if e&bitPresent == 0 {
		return 0, false
	}
	if e&hugeBit != 0 {
		pd[pdIdx] = 0
		return uintptr(e &^ addressMask), true
	}
	pt := tableAt(uintptr(e &^ addressMask))
	e = pt[ptIdx]
	if e&bitPresent == 0 {
		return 0, false
	}
	pt[ptIdx] = 0
	return uintptr(e &^ addressMask), true
}

const hugeBit = 1 << 7

// Load installs this mapper's top-level table into CR3, flushing all
// non-global TLB entries.
func (m *Mapper) Load() {
	amd64.WriteCR3(m.top)
}

// KernelMapper returns the shared singleton mapper tied to the boot page
// table, used for everything that does not own a private address space.
func KernelMapper() *Mapper {
	return &kernelMapper
}

// NewMapper wraps an arbitrary top-level page-table frame in a Mapper,
// used by kernel/process to drive a per-address-space page table with
// the same Map/Unmap/Load logic the kernel mapper uses for its own.
func NewMapper(topLevelPhys uintptr) *Mapper {
	return &Mapper{top: topLevelPhys}
}

// TopLevel returns the physical address of this mapper's top-level
// table, so kernel/process can install it into CR3 directly (bypassing
// Load when a different CPU's mapper object is loading it) and so
// AddressSpace.Drop knows which frame to return to the frame allocator last.
func (m *Mapper) TopLevel() uintptr {
	return m.top
}

// InstallKernelHalf copies the upper 256 PML4 entries (indices 256..511)
// from the kernel's own page table into topLevelPhys, establishing the
// the invariant that every address space's upper half is identical to
// the kernel's at the moment of creation. The kernel mapper's lock is
// held for the duration of the copy so a concurrent kernel-side Map
// cannot observe a torn read.
func InstallKernelHalf(topLevelPhys uintptr) {
	kernelMapper.lock.Lock()
	defer kernelMapper.lock.Unlock()

	src := tableAt(kernelMapper.top)
	dst := tableAt(topLevelPhys)
	copy(dst[entriesPerTable/2:], src[entriesPerTable/2:])
}

// RawEntry returns the raw PML4 entry for index idx of the table at
// topLevelPhys, used by kernel/process.AddressSpace.Drop to walk and
// free the lower half without going through Map/Unmap's virt-address
// indexing.
func RawEntry(topLevelPhys uintptr, idx int) uint64 {
	return tableAt(topLevelPhys)[idx]
}
