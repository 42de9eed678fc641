// Package bitfield packs and unpacks the flag bits of an x86_64
// page-table entry.
package bitfield

// PTEFlags represents the flags carried by an x86_64 page-table entry
// (any of PML4E/PDPTE/PDE/PTE — the bit positions below are the ones that
// are meaningful at every level). The bitfield tags record each field's
// width; PackPTEFlags and UnpackPTEFlags below are hand-written and do
// not read them.
type PTEFlags struct {
	// Present must be set for the entry to be honored by a table walk.
	Present bool `bitfield:",1"`

	// Writable allows writes through this mapping.
	Writable bool `bitfield:",1"`

	// User allows ring-3 access through this mapping.
	User bool `bitfield:",1"`

	// WriteThrough selects the PWT cache policy bit.
	WriteThrough bool `bitfield:",1"`

	// CacheDisable selects the PCD cache policy bit.
	CacheDisable bool `bitfield:",1"`

	// Accessed is set by the CPU on first use; cleared by software.
	Accessed bool `bitfield:",1"`

	// Dirty is set by the CPU on first write; meaningful at the leaf level only.
	Dirty bool `bitfield:",1"`

	// Huge marks a PDPTE/PDE as a 1 GiB/2 MiB leaf instead of a table pointer.
	Huge bool `bitfield:",1"`

	// Global keeps the TLB entry across a CR3 reload when CR4.PGE is set.
	// Used for the higher-half direct map, which is identical in every
	// address space.
	Global bool `bitfield:",1"`

	// Reserved names the software-available bits 9-11 between the fixed
	// flags above and the physical-address field. PackPTEFlags ignores
	// it and UnpackPTEFlags always leaves it zero.
	Reserved uint8 `bitfield:",3"`

	// NoExecute is bit 63 (NX); kept separate because it sits above the
	// 52-bit physical address field rather than adjoining the low flags.
	NoExecute bool `bitfield:",1"`
}

// pteFlagBit positions match the struct field order above, 1:1 with the
// hardware bit layout (Intel SDM Vol. 3A §4.5).
const (
	pteBitPresent      = 1 << 0
	pteBitWritable     = 1 << 1
	pteBitUser         = 1 << 2
	pteBitWriteThrough = 1 << 3
	pteBitCacheDisable = 1 << 4
	pteBitAccessed     = 1 << 5
	pteBitDirty        = 1 << 6
	pteBitHuge         = 1 << 7
	pteBitGlobal       = 1 << 8
	pteBitNoExecute    = 1 << 63
)

// PackPTEFlags packs a PTEFlags record into the flag bits of a page-table
// entry. The caller ORs the result with a physical address already aligned
// to the entry's granularity; PackPTEFlags never touches bits 12-51.
func PackPTEFlags(f PTEFlags) uint64 {
	var v uint64
	if f.Present {
		v |= pteBitPresent
	}
	if f.Writable {
		v |= pteBitWritable
	}
	if f.User {
		v |= pteBitUser
	}
	if f.WriteThrough {
		v |= pteBitWriteThrough
	}
	if f.CacheDisable {
		v |= pteBitCacheDisable
	}
	if f.Accessed {
		v |= pteBitAccessed
	}
	if f.Dirty {
		v |= pteBitDirty
	}
	if f.Huge {
		v |= pteBitHuge
	}
	if f.Global {
		v |= pteBitGlobal
	}
	if f.NoExecute {
		v |= pteBitNoExecute
	}
	return v
}

// UnpackPTEFlags extracts the flag bits out of a raw page-table entry,
// ignoring the physical-address field.
func UnpackPTEFlags(raw uint64) PTEFlags {
	return PTEFlags{
		Present:      raw&pteBitPresent != 0,
		Writable:     raw&pteBitWritable != 0,
		User:         raw&pteBitUser != 0,
		WriteThrough: raw&pteBitWriteThrough != 0,
		CacheDisable: raw&pteBitCacheDisable != 0,
		Accessed:     raw&pteBitAccessed != 0,
		Dirty:        raw&pteBitDirty != 0,
		Huge:         raw&pteBitHuge != 0,
		Global:       raw&pteBitGlobal != 0,
		NoExecute:    raw&pteBitNoExecute != 0,
	}
}
