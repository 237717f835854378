// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package memsrc is a reference implementation of the armwind.MemoryReader
// and armwind.BinaryLookup collaborator interfaces, backed by a single
// mmap'd ELF file rather than a live process's address space. It exists
// so the core can be driven end to end from the cmd/armwind-dump tool
// and from tests without standing up a real ptrace target, the same
// role the teacher's own mmap.Map call in file.go plays for a PE file.
package memsrc

import (
	"errors"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/yalue/elf_reader"

	"github.com/saferwall/armwind"
	"github.com/saferwall/armwind/log"
)

// ErrSectionNotFound is returned when the requested ELF section is
// absent from the file.
var ErrSectionNotFound = errors.New("section not found")

// File is a single mmap'd ELF binary, statically loaded at LoadBias:
// a file offset o is assumed to appear in the target's address space
// at LoadBias+o. That assumption holds for the statically-linked,
// non-PIE binaries this demo tool is built to inspect; a real sampling
// profiler's collaborator would instead consult /proc/<pid>/maps.
type File struct {
	name     string
	id       uint64
	data     mmap.MMap
	f        *os.File
	elf      elf_reader.ELFFile
	loadBias uint32
	logger   *log.Helper
}

// Open mmaps path read-only and parses it as an ELF file.
func Open(path string, id uint64, loadBias uint32, logger *log.Helper) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	parsed, err := elf_reader.ParseELFFile(data)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}

	return &File{
		name:     path,
		id:       id,
		data:     data,
		f:        f,
		elf:      parsed,
		loadBias: loadBias,
		logger:   logger,
	}, nil
}

// Close unmaps the file.
func (bin *File) Close() error {
	if err := bin.data.Unmap(); err != nil {
		return err
	}
	return bin.f.Close()
}

func (bin *File) Name() string { return bin.name }
func (bin *File) ID() uint64   { return bin.id }
func (bin *File) AsBytes() []byte {
	return bin.data
}

func (bin *File) section(name string) (start, addr uint32, size uint32, ok bool) {
	count := bin.elf.GetSectionCount()
	for i := uint16(0); i < count; i++ {
		sectionName, err := bin.elf.GetSectionName(i)
		if err != nil || sectionName != name {
			continue
		}
		header, err := bin.elf.GetSectionHeader(i)
		if err != nil {
			continue
		}
		return uint32(header.GetFileOffset()), uint32(header.GetVirtualAddress()), uint32(header.GetSize()), true
	}
	return 0, 0, 0, false
}

func (bin *File) ArmExidxRange() (armwind.ByteRange, bool) {
	start, _, size, ok := bin.section(".ARM.exidx")
	if !ok {
		return armwind.ByteRange{}, false
	}
	return armwind.ByteRange{Start: start, End: start + size}, true
}

func (bin *File) ArmExtabRange() (armwind.ByteRange, bool) {
	start, _, size, ok := bin.section(".ARM.extab")
	if !ok {
		return armwind.ByteRange{}, false
	}
	return armwind.ByteRange{Start: start, End: start + size}, true
}

func (bin *File) ArmExidxAddress() (uint32, bool) {
	_, addr, _, ok := bin.section(".ARM.exidx")
	if !ok {
		return 0, false
	}
	return bin.loadBias + addr, true
}

func (bin *File) ArmExtabAddress() (uint32, bool) {
	_, addr, _, ok := bin.section(".ARM.extab")
	if !ok {
		return 0, false
	}
	return bin.loadBias + addr, true
}

// CodeEnd returns the address one past the end of .text, the section
// exidx entries' addresses ultimately point into.
func (bin *File) CodeEnd() (uint32, bool) {
	_, addr, size, ok := bin.section(".text")
	if !ok {
		return 0, false
	}
	return bin.loadBias + addr + size, true
}

// Reader adapts File to armwind.MemoryReader under the same load-bias
// assumption used to compute section addresses.
type Reader struct {
	bin *File
}

// NewReader returns a MemoryReader backed by bin's mmap'd bytes.
func NewReader(bin *File) *Reader {
	return &Reader{bin: bin}
}

func (r *Reader) ReadU32LE(address uint32) (uint32, bool) {
	if address < r.bin.loadBias {
		return 0, false
	}
	off := address - r.bin.loadBias
	if off+4 > uint32(len(r.bin.data)) {
		return 0, false
	}
	b := r.bin.data[off : off+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func (r *Reader) ReadPointer(address uint32) (uint32, bool) {
	return r.ReadU32LE(address)
}

// Lookup is a armwind.BinaryLookup that always resolves to the single
// wrapped File — adequate for inspecting one statically-linked target,
// unlike a live profiler which must track every loaded shared object.
type Lookup struct {
	bin *File
}

// NewLookup returns a BinaryLookup that always resolves to bin.
func NewLookup(bin *File) *Lookup {
	return &Lookup{bin: bin}
}

func (l *Lookup) LookupBinary(nthFrame int, memory armwind.MemoryReader, regs *armwind.Registers) (armwind.Binary, bool) {
	return l.bin, true
}
