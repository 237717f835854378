// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

import "testing"

// fakeMemory is a sparse memory image mapping word addresses to 32-bit
// values, standing in for a traced process's stack. Addresses never
// put are unreadable.
type fakeMemory struct {
	base  uint32
	words map[uint32]uint32
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{words: make(map[uint32]uint32)}
}

func (m *fakeMemory) put(addr, value uint32) {
	m.words[addr] = value
}

func (m *fakeMemory) ReadU32LE(addr uint32) (uint32, bool) {
	v, ok := m.words[addr]
	return v, ok
}

func (m *fakeMemory) ReadPointer(addr uint32) (uint32, bool) {
	return m.ReadU32LE(addr)
}

// TestExecutePopR4AndR14 covers spec scenario 2: a mask pop that pulls
// R4 and R14 off the stack, the implicit R15 = R14 copy then making
// this the return address.
func TestExecutePopR4AndR14(t *testing.T) {
	memory := newFakeMemory()
	memory.put(0x1000, 0x44444444)
	memory.put(0x1004, 0x55555555)

	var regs Registers
	regs.Set(RegSP, 0x1000)

	mask := uint16(1<<RegR4) | uint16(1<<RegR14)
	recipe := Recipe{Ops: []UnwindOp{popRegsUnderMask(mask), opFinish}}

	raAddress, err := execute(memory, &regs, recipe)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if raAddress == nil || *raAddress != 0x1004 {
		t.Fatalf("got ra address %v, want 0x1004", raAddress)
	}

	if v, _ := regs.Get(RegR4); v != 0x44444444 {
		t.Errorf("R4 = 0x%08x, want 0x44444444", v)
	}
	if v, _ := regs.Get(RegR14); v != 0x55555555 {
		t.Errorf("R14 = 0x%08x, want 0x55555555", v)
	}
	if v, _ := regs.Get(RegPC); v != 0x55555555 {
		t.Errorf("R15 = 0x%08x, want 0x55555555 (copied from R14)", v)
	}
	if v, _ := regs.Get(RegSP); v != 0x1008 {
		t.Errorf("SP = 0x%08x, want 0x1008", v)
	}
}

// TestExecuteNullReturnAddressIsEndOfStack covers spec scenario 6: a
// popped R14 of zero means the caller has reached the end of the stack.
func TestExecuteNullReturnAddressIsEndOfStack(t *testing.T) {
	memory := newFakeMemory()
	memory.put(0x2000, 0)

	var regs Registers
	regs.Set(RegSP, 0x2000)

	recipe := Recipe{Ops: []UnwindOp{popRegsUnderMask(1 << RegR14), opFinish}}
	_, err := execute(memory, &regs, recipe)
	assertKind(t, err, EndOfStack)
}

func TestExecuteRefuseIsEndOfStack(t *testing.T) {
	var regs Registers
	recipe := Recipe{Ops: []UnwindOp{opRefuse}}
	_, err := execute(newFakeMemory(), &regs, recipe)
	assertKind(t, err, EndOfStack)
}

func TestExecuteAddToVsp(t *testing.T) {
	var regs Registers
	regs.Set(RegSP, 0x1000)
	recipe := Recipe{Ops: []UnwindOp{addToVsp(0x10), opFinish}}
	regs.Set(RegLR, 0x8000)
	if _, err := execute(newFakeMemory(), &regs, recipe); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v, _ := regs.Get(RegSP); v != 0x1010 {
		t.Errorf("SP = 0x%08x, want 0x1010", v)
	}
}

func TestExecuteAddToVspNegative(t *testing.T) {
	var regs Registers
	regs.Set(RegSP, 0x1010)
	regs.Set(RegLR, 0x8000)
	recipe := Recipe{Ops: []UnwindOp{addToVsp(-0x10), opFinish}}
	if _, err := execute(newFakeMemory(), &regs, recipe); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v, _ := regs.Get(RegSP); v != 0x1000 {
		t.Errorf("SP = 0x%08x, want 0x1000", v)
	}
}

func TestExecuteSetVsp(t *testing.T) {
	var regs Registers
	regs.Set(RegLR, 0x8000)
	recipe := Recipe{Ops: []UnwindOp{setVsp(0x9000), opFinish}}
	if _, err := execute(newFakeMemory(), &regs, recipe); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v, _ := regs.Get(RegSP); v != 0x9000 {
		t.Errorf("SP = 0x%08x, want 0x9000", v)
	}
}

func TestExecuteVspFromReg(t *testing.T) {
	var regs Registers
	regs.Set(RegR7, 0x7000)
	regs.Set(RegLR, 0x8000)
	recipe := Recipe{Ops: []UnwindOp{vspFromReg(RegR7), opFinish}}
	if _, err := execute(newFakeMemory(), &regs, recipe); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v, _ := regs.Get(RegSP); v != 0x7000 {
		t.Errorf("SP = 0x%08x, want 0x7000", v)
	}
}

func TestExecutePopFloatRegsAdvancesSpOnly(t *testing.T) {
	var regs Registers
	regs.Set(RegSP, 0x1000)
	regs.Set(RegLR, 0x8000)
	recipe := Recipe{Ops: []UnwindOp{popFloatRegs(8, 3), opFinish}}
	if _, err := execute(newFakeMemory(), &regs, recipe); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v, _ := regs.Get(RegSP); v != 0x1000+8*3 {
		t.Errorf("SP = 0x%08x, want 0x%08x", v, 0x1000+8*3)
	}
}

func TestExecuteUnknownStackPointerIsTruncated(t *testing.T) {
	var regs Registers
	recipe := Recipe{Ops: []UnwindOp{popRegsUnderMask(1 << RegR4), opFinish}}
	_, err := execute(newFakeMemory(), &regs, recipe)
	assertKind(t, err, TruncatedStack)
}

func TestExecuteUnreadableStackIsTruncated(t *testing.T) {
	var regs Registers
	regs.Set(RegSP, 0x1000) // no memory backing this address
	recipe := Recipe{Ops: []UnwindOp{popRegsUnderMask(1 << RegR4), opFinish}}
	_, err := execute(newFakeMemory(), &regs, recipe)
	assertKind(t, err, TruncatedStack)
}

func TestExecuteUnknownLinkRegisterIsTruncated(t *testing.T) {
	var regs Registers
	recipe := Recipe{Ops: []UnwindOp{opFinish}}
	_, err := execute(newFakeMemory(), &regs, recipe)
	assertKind(t, err, TruncatedStack)
}
