// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

// ARM core registers, numbered per DWARF for the ARM Architecture:
// http://infocenter.arm.com/help/topic/com.arm.doc.ihi0040b/IHI0040B_aadwarf2.pdf
const (
	RegR0 = iota
	RegR1
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15

	// NumRegs is the number of core registers tracked per frame.
	NumRegs
)

// RegSP, RegLR and RegPC name the registers with a fixed architectural
// role so the unwind logic never has to spell out the magic numbers.
const (
	RegSP = RegR13 // stack pointer
	RegLR = RegR14 // link register, holds the return address at function entry
	RegPC = RegR15 // program counter, also the return-address register on ARM
)

// registerNames maps a register number to the name ARM calling
// convention documentation uses for it, for diagnostics only.
var registerNames = [NumRegs]string{
	"R0", "R1", "R2", "R3", "R4", "R5", "R6", "R7",
	"R8", "R9", "R10", "FP", "IP", "SP", "LR", "PC",
}

// RegisterName returns the ARM calling-convention name for reg, or
// "" if reg is out of range.
func RegisterName(reg uint8) string {
	if int(reg) >= len(registerNames) {
		return ""
	}
	return registerNames[reg]
}

// Registers holds the sixteen ARM core registers plus a validity
// bitmap. A cleared bit means "caller's value unknown" — not itself an
// error, but reading an unknown value during unwinding fails the step.
type Registers struct {
	values [NumRegs]uint32
	valid  uint16
}

// Get returns the value of reg and whether it is currently valid.
func (r *Registers) Get(reg uint8) (uint32, bool) {
	if int(reg) >= NumRegs {
		return 0, false
	}
	if r.valid&(1<<reg) == 0 {
		return 0, false
	}
	return r.values[reg], true
}

// Set stores value in reg and marks it valid.
func (r *Registers) Set(reg uint8, value uint32) {
	if int(reg) >= NumRegs {
		return
	}
	r.values[reg] = value
	r.valid |= 1 << reg
}

// Invalidate clears reg's validity bit without changing its stored
// value.
func (r *Registers) Invalidate(reg uint8) {
	if int(reg) >= NumRegs {
		return
	}
	r.valid &^= 1 << reg
}

// IsValid reports whether reg currently holds a known value.
func (r *Registers) IsValid(reg uint8) bool {
	if int(reg) >= NumRegs {
		return false
	}
	return r.valid&(1<<reg) != 0
}
