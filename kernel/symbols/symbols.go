// Package symbols builds a lookup table from the kernel's own ELF image
// so a backtrace can print function names instead of bare addresses.
// The kernel ELF is already fully loaded and addressable via the direct
// map, so debug/elf's Symbols() accessor can read it directly rather
// than hand-walking section headers.
package symbols

import (
	"bytes"
	"debug/elf"
	"sort"
)

// Entry is one function symbol: its load address, size, and name.
type Entry struct {
	Addr uint64
	Size uint64
	Name string
}

// Table is a sorted-by-address symbol table supporting address-to-name
// lookups for backtraces.
type Table struct {
	entries []Entry
}

var kernelTable *Table

// Load parses a kernel ELF image and builds the process-wide symbol
// table used by kernel/panicking's backtrace. image is the raw ELF
// bytes; the boot glue reads these from the kernel-image-info the
// loader hands it.
func Load(image []byte) (*Table, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		// A stripped kernel image has no symbol table; backtraces
		// degrade to bare addresses rather than failing boot.
		return &Table{}, nil
	}

	t := &Table{}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		t.entries = append(t.entries, Entry{Addr: s.Value, Size: s.Size, Name: s.Name})
	}
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].Addr < t.entries[j].Addr })
	return t, nil
}

// SetKernelTable installs the process-wide table the panic path
// consults. Called once from kernel/boot.
func SetKernelTable(t *Table) {
	kernelTable = t
}

// KernelTable returns the table installed by SetKernelTable, or nil if
// none was ever installed (no kernel-image-info case).
func KernelTable() *Table {
	return kernelTable
}

// Lookup returns the function symbol containing addr and its offset
// within that function, or ok=false if addr falls outside every known
// symbol's range.
func (t *Table) Lookup(addr uint64) (e Entry, offset uint64, ok bool) {
	if t == nil || len(t.entries) == 0 {
		return Entry{}, 0, false
	}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Addr > addr }) - 1
	if i < 0 {
		return Entry{}, 0, false
	}
	e = t.entries[i]
	if e.Size != 0 && addr >= e.Addr+e.Size {
		return Entry{}, 0, false
	}
	return e, addr - e.Addr, true
}
