// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cpu records the handful of x86_64 feature bits the kernel
// branches on at boot. This is not general-purpose CPUID enumeration —
// a bare-metal kernel reads exactly the leaves it needs and nothing more.
package cpu

// X86_64 contains the feature flags the boot sequence probes via CPUID
// before committing to a code path. Populated once by Init; read-only
// thereafter.
var X86_64 struct {
	_ CacheLinePad
	HasNX         bool // EFER.NXE usable (CPUID.80000001H:EDX.NX)
	Has1GiBPages  bool // PDPTE can be a 1 GiB leaf (CPUID.80000001H:EDX.Page1GB)
	HasSYSCALL    bool // SYSCALL/SYSRET available (CPUID.80000001H:EDX.SYSCALL)
	HasAPIC       bool // local APIC present (CPUID.1H:EDX.APIC)
	_             CacheLinePad
}

// CacheLinePad is used to pad structs to avoid false sharing.
type CacheLinePad struct{ _ [64]byte }

// cpuid is implemented in internal/arch/amd64; imported via a function
// value to keep this package free of the assembly dependency for tests
// that only want to exercise Init's decoding logic.
var cpuidFunc func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// SetCPUID installs the CPUID backend. Called once from kernel/boot
// before Init; tests install a fake backend instead.
func SetCPUID(f func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)) {
	cpuidFunc = f
}

// Init decodes the feature bits this kernel cares about. Safe to call
// more than once; the last call wins.
func Init() {
	if cpuidFunc == nil {
		return
	}
	_, _, _, edx1 := cpuidFunc(1, 0)
	X86_64.HasAPIC = edx1&(1<<9) != 0

	maxExt, _, _, _ := cpuidFunc(0x80000000, 0)
	if maxExt >= 0x80000001 {
		_, _, _, edxExt := cpuidFunc(0x80000001, 0)
		X86_64.HasSYSCALL = edxExt&(1<<11) != 0
		X86_64.HasNX = edxExt&(1<<20) != 0
		X86_64.Has1GiBPages = edxExt&(1<<26) != 0
	}
}
