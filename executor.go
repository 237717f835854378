// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

// execute applies recipe to regs, reading caller-saved registers from
// memory through the MemoryReader. It returns the address the new link
// register / program counter was popped from (for the caller to report
// as the return-address location), or an error.
//
// Special rule (§4.D): if the recipe never explicitly popped R15, R14
// is copied into R15 once execution finishes. If the resulting R15 is
// zero, the step is EndOfStack.
func execute(memory MemoryReader, regs *Registers, recipe Recipe) (raAddress *uint32, err error) {
	poppedPC := false
	var lastPopAddress *uint32

	for _, op := range recipe.Ops {
		switch op.Code {
		case OpRefuse:
			return nil, errEndOfStack

		case OpFinish:
			// Nothing to do; the implicit-R15-from-R14 rule below
			// applies once the loop ends regardless of how it ended.

		case OpPopRegsUnderMask:
			for reg := uint8(0); reg < NumRegs; reg++ {
				if op.Mask&(1<<reg) == 0 {
					continue
				}
				sp, ok := regs.Get(RegSP)
				if !ok {
					return nil, newError(TruncatedStack, "stack pointer unknown while popping R%d", reg)
				}
				value, ok := memory.ReadU32LE(sp)
				if !ok {
					return nil, newError(TruncatedStack, "failed to read R%d at 0x%08x", reg, sp)
				}
				regs.Set(reg, value)
				addr := sp
				if reg == RegR14 || reg == RegPC {
					lastPopAddress = &addr
				}
				if reg == RegPC {
					poppedPC = true
				}
				regs.Set(RegSP, sp+4)
			}

		case OpPopFloatRegs:
			sp, ok := regs.Get(RegSP)
			if !ok {
				return nil, newError(TruncatedStack, "stack pointer unknown while skipping float regs")
			}
			regs.Set(RegSP, sp+8*uint32(op.Count))

		case OpSetVsp:
			regs.Set(RegSP, op.Value)

		case OpAddToVsp:
			sp, ok := regs.Get(RegSP)
			if !ok {
				return nil, newError(TruncatedStack, "stack pointer unknown while adjusting vsp")
			}
			regs.Set(RegSP, uint32(int64(sp)+int64(op.Delta)))

		case OpVspFromReg:
			value, ok := regs.Get(op.Reg)
			if !ok {
				return nil, newError(TruncatedStack, "register R%d unknown while copying to vsp", op.Reg)
			}
			regs.Set(RegSP, value)
		}
	}

	if !poppedPC {
		lr, ok := regs.Get(RegLR)
		if !ok {
			return nil, newError(TruncatedStack, "link register unknown at end of recipe")
		}
		regs.Set(RegPC, lr)
	}

	pc, ok := regs.Get(RegPC)
	if !ok || pc == 0 {
		return nil, errEndOfStack
	}

	return lastPopAddress, nil
}
