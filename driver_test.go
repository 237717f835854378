// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

import "testing"

type fakeBinary struct {
	name string
	id   uint64
	data []byte

	exidxRange ByteRange
	hasExidx   bool
	exidxAddr  uint32
	hasExidxA  bool

	extabRange ByteRange
	hasExtab   bool
	extabAddr  uint32
	hasExtabA  bool

	codeEnd    uint32
	hasCodeEnd bool
}

func (b *fakeBinary) Name() string    { return b.name }
func (b *fakeBinary) ID() uint64      { return b.id }
func (b *fakeBinary) AsBytes() []byte { return b.data }

func (b *fakeBinary) ArmExidxRange() (ByteRange, bool) { return b.exidxRange, b.hasExidx }
func (b *fakeBinary) ArmExtabRange() (ByteRange, bool) { return b.extabRange, b.hasExtab }
func (b *fakeBinary) ArmExidxAddress() (uint32, bool)  { return b.exidxAddr, b.hasExidxA }
func (b *fakeBinary) ArmExtabAddress() (uint32, bool)  { return b.extabAddr, b.hasExtabA }
func (b *fakeBinary) CodeEnd() (uint32, bool)          { return b.codeEnd, b.hasCodeEnd }

type fakeLookup struct {
	bin   Binary
	found bool
	calls int
}

func (l *fakeLookup) LookupBinary(nthFrame int, memory MemoryReader, regs *Registers) (Binary, bool) {
	l.calls++
	return l.bin, l.found
}

// singleInlineEntryBinary builds a fake binary with one exidx entry, no
// extab, whose Word 1 is the inline compact form popping R4 and R14
// (10101nnn, n=0) followed by Finish.
func singleInlineEntryBinary(exidxBase, functionStart uint32) *fakeBinary {
	exidx := buildExidx(exidxBase, [][2]uint32{
		{functionStart, 0x80A8B000},
	})
	return &fakeBinary{
		name:       "test.so",
		id:         7,
		data:       exidx,
		exidxRange: ByteRange{Start: 0, End: uint32(len(exidx))},
		hasExidx:   true,
		exidxAddr:  exidxBase,
		hasExidxA:  true,
	}
}

func TestDriverUnwindOneFrameInlineCompactPop(t *testing.T) {
	exidxBase := uint32(0x8000)
	functionStart := uint32(0x7000)
	bin := singleInlineEntryBinary(exidxBase, functionStart)
	lookup := &fakeLookup{bin: bin, found: true}
	driver := NewDriver(lookup, nil)

	memory := newFakeMemory()
	memory.put(0x9000, 0x44444444) // R4
	memory.put(0x9004, 0x7100)     // R14 / return address

	var regs Registers
	regs.Set(RegPC, functionStart)
	regs.Set(RegSP, 0x9000)

	var initialAddress, raAddress uint32
	status, err := driver.UnwindOneFrame(0, memory, &regs, &initialAddress, &raAddress)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if status != InProgress {
		t.Errorf("status = %v, want InProgress", status)
	}
	if initialAddress != functionStart {
		t.Errorf("initialAddress = 0x%08x, want 0x%08x", initialAddress, functionStart)
	}
	if raAddress != 0x9004 {
		t.Errorf("raAddress = 0x%08x, want 0x9004", raAddress)
	}
	if pc, _ := regs.Get(RegPC); pc != 0x7100 {
		t.Errorf("PC = 0x%08x, want 0x7100", pc)
	}
	if lookup.calls != 1 {
		t.Errorf("expected exactly one binary lookup, got %d", lookup.calls)
	}
}

// TestDriverCacheShortcutsSecondLookup covers §4.F step 2: once a PC's
// recipe is cached, a second frame landing in the same function never
// calls BinaryLookup again.
func TestDriverCacheShortcutsSecondLookup(t *testing.T) {
	exidxBase := uint32(0x8000)
	functionStart := uint32(0x7000)
	bin := singleInlineEntryBinary(exidxBase, functionStart)
	lookup := &fakeLookup{bin: bin, found: true}
	driver := NewDriver(lookup, nil)

	memory := newFakeMemory()
	memory.put(0x9000, 0x44444444)
	memory.put(0x9004, 0x7100)

	var regs Registers
	regs.Set(RegPC, functionStart)
	regs.Set(RegSP, 0x9000)
	var initialAddress, raAddress uint32
	if _, err := driver.UnwindOneFrame(0, memory, &regs, &initialAddress, &raAddress); err != nil {
		t.Fatalf("first unwind failed: %s", err)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected 1 call after first unwind, got %d", lookup.calls)
	}

	// Same function, fresh registers: should hit the cache, not
	// LookupBinary again.
	regs.Set(RegPC, functionStart)
	regs.Set(RegSP, 0x9000)
	if _, err := driver.UnwindOneFrame(0, memory, &regs, &initialAddress, &raAddress); err != nil {
		t.Fatalf("second unwind failed: %s", err)
	}
	if lookup.calls != 1 {
		t.Errorf("expected the cache to shortcut the lookup, got %d calls", lookup.calls)
	}
}

// TestDriverCachesLastEntryAgainstCodeEnd covers the fix for the cache
// range of a binary's last exidx entry: it must be bounded by the
// binary's code extent (CodeEnd), not by the byte length of the exidx
// table itself, so a second sample landing anywhere else in that last
// function still hits the cache.
func TestDriverCachesLastEntryAgainstCodeEnd(t *testing.T) {
	exidxBase := uint32(0x8000) // exidx table mapped at 0x8000, 16 bytes (2 entries)
	exidx := buildExidx(exidxBase, [][2]uint32{
		{0x1000, 0x80A8B000}, // first function: pop R4, R14, Finish
		{0x2000, 0x80A8B000}, // last function: same recipe
	})
	bin := &fakeBinary{
		name:       "test.so",
		id:         9,
		data:       exidx,
		exidxRange: ByteRange{Start: 0, End: uint32(len(exidx))},
		hasExidx:   true,
		exidxAddr:  exidxBase,
		hasExidxA:  true,
		codeEnd:    0x3000,
		hasCodeEnd: true,
	}
	lookup := &fakeLookup{bin: bin, found: true}
	driver := NewDriver(lookup, nil)

	memory := newFakeMemory()
	memory.put(0x9000, 0x44444444)
	memory.put(0x9004, 0x7100)

	var regs Registers
	// Land on an address well inside the last function, past its own
	// start. The bug this test guards against took the range end from
	// the exidx table's byte length (0x10), a value in the wrong address
	// space that lies below the function's start, so the cached range
	// would have covered no PC at all.
	regs.Set(RegPC, 0x2800)
	regs.Set(RegSP, 0x9000)

	if _, err := driver.UnwindOneFrame(0, memory, &regs, nil, nil); err != nil {
		t.Fatalf("first unwind failed: %s", err)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected 1 call after first unwind, got %d", lookup.calls)
	}

	// A second sample elsewhere in the same last function must hit the
	// cache: the cached range should extend up to CodeEnd (0x3000),
	// not stop at the exidx table's byte length (0x10).
	regs.Set(RegPC, 0x2900)
	regs.Set(RegSP, 0x9000)
	if _, err := driver.UnwindOneFrame(0, memory, &regs, nil, nil); err != nil {
		t.Fatalf("second unwind failed: %s", err)
	}
	if lookup.calls != 1 {
		t.Errorf("expected the cache to cover the rest of the last function, got %d lookup calls", lookup.calls)
	}
}

func TestDriverInnermostLeniencyFallback(t *testing.T) {
	lookup := &fakeLookup{found: false}
	driver := NewDriver(lookup, nil)

	var regs Registers
	regs.Set(RegPC, 0x7000)
	regs.Set(RegLR, 0x6000)

	var initialAddress, raAddress uint32
	status, err := driver.UnwindOneFrame(0, newFakeMemory(), &regs, &initialAddress, &raAddress)
	if err != nil {
		t.Fatalf("expected leniency fallback to succeed, got %s", err)
	}
	if status != InProgress {
		t.Errorf("status = %v, want InProgress", status)
	}
	if raAddress != 0x6000 {
		t.Errorf("raAddress = 0x%08x, want 0x6000", raAddress)
	}
	if pc, _ := regs.Get(RegPC); pc != 0x6000 {
		t.Errorf("PC = 0x%08x, want 0x6000", pc)
	}
}

func TestDriverInnermostLeniencyEndOfStack(t *testing.T) {
	lookup := &fakeLookup{found: false}
	driver := NewDriver(lookup, nil)

	var regs Registers
	regs.Set(RegPC, 0x7000)
	regs.Set(RegLR, 0)

	status, err := driver.UnwindOneFrame(0, newFakeMemory(), &regs, nil, nil)
	if err != nil {
		t.Fatalf("expected leniency fallback to report finished, got %s", err)
	}
	if status != Finished {
		t.Errorf("status = %v, want Finished", status)
	}
}

func TestDriverDeeperFrameNeverGetsLeniency(t *testing.T) {
	lookup := &fakeLookup{found: false}
	driver := NewDriver(lookup, nil)

	var regs Registers
	regs.Set(RegPC, 0x7000)
	regs.Set(RegLR, 0x6000)

	_, err := driver.UnwindOneFrame(1, newFakeMemory(), &regs, nil, nil)
	assertKind(t, err, UncoveredAddress)
}

func TestDriverUncoveredAddressFailsDeeperFrames(t *testing.T) {
	exidxBase := uint32(0x8000)
	bin := singleInlineEntryBinary(exidxBase, 0x7000)
	lookup := &fakeLookup{bin: bin, found: true}
	driver := NewDriver(lookup, nil)

	var regs Registers
	regs.Set(RegPC, 0x1) // below every entry, not covered

	_, err := driver.UnwindOneFrame(2, newFakeMemory(), &regs, nil, nil)
	assertKind(t, err, UncoveredAddress)
}

func TestDriverMissingExidxFailsDeeperFrames(t *testing.T) {
	bin := &fakeBinary{name: "test.so", id: 1, hasExidx: false}
	lookup := &fakeLookup{bin: bin, found: true}
	driver := NewDriver(lookup, nil)

	var regs Registers
	regs.Set(RegPC, 0x7000)

	_, err := driver.UnwindOneFrame(1, newFakeMemory(), &regs, nil, nil)
	assertKind(t, err, MissingTables)
}

func TestDriverUnwindOneFrameUnknownPC(t *testing.T) {
	lookup := &fakeLookup{found: false}
	driver := NewDriver(lookup, nil)

	var regs Registers // PC never set
	_, err := driver.UnwindOneFrame(0, newFakeMemory(), &regs, nil, nil)
	if err == nil {
		t.Fatalf("expected failure when the program counter is unknown")
	}
}
