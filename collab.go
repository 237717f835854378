// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

// MemoryReader reads bytes from a suspended process's address space, or
// from any other byte-addressable source standing in for one (a mapped
// file, a core dump). Absent results mean the address is unmapped or
// otherwise inaccessible, not that a read error occurred — the caller
// treats both identically as a TruncatedStack condition.
type MemoryReader interface {
	// ReadU32LE reads a 32-bit little-endian word at address.
	ReadU32LE(address uint32) (uint32, bool)

	// ReadPointer reads a native-width pointer at address. On this
	// 32-bit architecture it is equivalent to ReadU32LE.
	ReadPointer(address uint32) (uint32, bool)
}

// ByteRange is a half-open [Start, End) byte range within a Binary's
// backing bytes.
type ByteRange struct {
	Start uint32
	End   uint32
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() uint32 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Binary is the loaded-binary abstraction the driver needs to locate
// and read a binary's unwind tables. It deliberately exposes nothing
// about the binary's format (ELF, PE, Mach-O, ...); it is the
// collaborator's job to have already parsed that.
type Binary interface {
	// Name identifies the binary for diagnostics.
	Name() string

	// ID disambiguates binaries that may occupy overlapping address
	// spaces across processes; used as half of the cache key.
	ID() uint64

	// ArmExidxRange returns the byte range of .ARM.exidx within
	// AsBytes, or ok=false if the binary has no such section.
	ArmExidxRange() (r ByteRange, ok bool)

	// ArmExtabRange returns the byte range of .ARM.extab within
	// AsBytes, or ok=false if the binary has no such section.
	ArmExtabRange() (r ByteRange, ok bool)

	// ArmExidxAddress returns the absolute load address of the first
	// byte of .ARM.exidx, or ok=false if it is not known (binary not
	// yet relocated, section not loaded, ...).
	ArmExidxAddress() (address uint32, ok bool)

	// ArmExtabAddress returns the absolute load address of the first
	// byte of .ARM.extab, or ok=false if it is not known.
	ArmExtabAddress() (address uint32, ok bool)

	// CodeEnd returns the absolute address one past the end of the
	// binary's mapped executable code, or ok=false if it is not known.
	// The Driver uses this as the upper bound of a cached recipe's PC
	// range when an exidx entry is the last one in its binary, since
	// that is the only other address in code-address space available
	// once there is no next entry to bound it tighter.
	CodeEnd() (address uint32, ok bool)

	// AsBytes returns the binary's backing bytes, the slice
	// ArmExidxRange/ArmExtabRange index into.
	AsBytes() []byte
}

// BinaryLookup maps an instruction address to the loaded binary that
// contains it.
type BinaryLookup interface {
	// LookupBinary returns the binary covering regs' program counter,
	// or ok=false if no loaded binary covers it. nthFrame lets the
	// collaborator apply frame-dependent heuristics (e.g. trusting a
	// cached module list less for frame 0, which may be mid-signal-
	// trampoline); memory lets it consult the target's own loader
	// state if needed.
	LookupBinary(nthFrame int, memory MemoryReader, regs *Registers) (bin Binary, ok bool)
}
