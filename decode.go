// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

import (
	"encoding/binary"
	"math/bits"
)

// cantUnwindSentinel is the Word 1 value meaning "no recipe — end of
// stack", used by toolchains that know a function cannot be unwound
// through (naked asm stubs, _start, ...).
const cantUnwindSentinel = 0x00000001

// personality index extracted from bits 24-27 of either the inline
// compact Word 1 or an extab header word.
const personalityMask = 0xF

// wmmxFirst marks a PopFloatRegs op as advancing the stack for WMMX
// (iwMMXt) registers rather than VFP double registers; this
// implementation does not track either set individually; both only
// advance the stack pointer by 8 bytes per register in the Executor.
const wmmxFirst = 0xFF

// decodeEntry turns the Word 1 of an exidx entry into a Recipe,
// fetching extab bytes through extab/extabBase only when Word 1 is a
// PREL31 pointer rather than an inline compact descriptor.
//
// exidxWordAddr is the absolute in-memory address of Word 1 itself,
// needed to decode it as a PREL31 offset when it points into extab.
func decodeEntry(word1 uint32, exidxWordAddr uint32, extab []byte, extabBase uint32) (Recipe, error) {
	if word1 == cantUnwindSentinel {
		return Recipe{Ops: []UnwindOp{opRefuse}}, nil
	}

	var stream []byte

	if word1&0x80000000 != 0 {
		personality := uint8((word1 >> 24) & personalityMask)
		if personality != 0 {
			return Recipe{}, newError(MalformedEntry, "inline compact form with non-zero personality %d", personality)
		}
		stream = []byte{
			uint8(word1 >> 16),
			uint8(word1 >> 8),
			uint8(word1),
		}
	} else {
		target, ok := decodePrel31(word1, exidxWordAddr)
		if !ok {
			return Recipe{}, newError(MalformedEntry, "extab pointer has reserved bit set")
		}
		if len(extab) == 0 {
			return Recipe{}, newError(MalformedEntry, "entry references .ARM.extab but binary has none")
		}
		if target < extabBase || target-extabBase+4 > uint32(len(extab)) {
			return Recipe{}, newError(MalformedEntry, "extab pointer 0x%08x out of range", target)
		}
		offset := target - extabBase
		header := binary.LittleEndian.Uint32(extab[offset:])
		personality := uint8((header >> 24) & personalityMask)

		switch personality {
		case 1, 2:
			moreWords := uint8(header >> 16)
			need := 4 + 4*uint32(moreWords)
			if offset+need > uint32(len(extab)) {
				return Recipe{}, newError(MalformedEntry, "extab word count %d runs past section end", moreWords)
			}
			stream = make([]byte, 0, 2+4*int(moreWords))
			stream = append(stream, uint8(header>>8), uint8(header))
			for i := uint32(0); i < uint32(moreWords); i++ {
				w := binary.LittleEndian.Uint32(extab[offset+4+4*i:])
				stream = append(stream, uint8(w>>24), uint8(w>>16), uint8(w>>8), uint8(w))
			}
			// Personality 2 carries a scope table after the instruction
			// words; we never read past `need` bytes, so it is simply
			// left unread rather than polluting a subsequent decode.
		default:
			return Recipe{}, newError(MalformedEntry, "unsupported extab personality %d", personality)
		}
	}

	ops, err := decodeInstructionStream(stream)
	if err != nil {
		return Recipe{}, err
	}
	return Recipe{Ops: ops}, nil
}

// decodeInstructionStream interprets the packed EHABI unwind bytecode
// left to right per §4.C, emitting one UnwindOp per instruction and an
// implicit trailing Finish if the stream ends without one.
func decodeInstructionStream(stream []byte) ([]UnwindOp, error) {
	var ops []UnwindOp
	i := 0
	for i < len(stream) {
		b := stream[i]
		switch {
		case b&0xC0 == 0x00:
			ops = append(ops, addToVsp(int32((uint32(b&0x3F)<<2)+4)))
			i++

		case b&0xC0 == 0x40:
			ops = append(ops, addToVsp(-int32((uint32(b&0x3F)<<2)+4)))
			i++

		case b&0xF0 == 0x80:
			if i+1 >= len(stream) {
				return nil, newError(MalformedEntry, "truncated pop-under-mask opcode")
			}
			v := uint16(b&0x0F)<<8 | uint16(stream[i+1])
			if v == 0 {
				ops = append(ops, opRefuse)
				return ops, nil
			}
			var mask uint16
			for bit := 0; bit < 12; bit++ {
				if v&(1<<uint(bit)) != 0 {
					mask |= 1 << uint(RegR4+bit)
				}
			}
			ops = append(ops, popRegsUnderMask(mask))
			i += 2

		case b&0xF0 == 0x90:
			n := b & 0x0F
			if n == 13 || n == 15 {
				return nil, newError(MalformedEntry, "reserved vsp-from-reg register %d", n)
			}
			ops = append(ops, vspFromReg(n))
			i++

		case b&0xF8 == 0xA0:
			n := b & 0x07
			var mask uint16
			for r := uint8(RegR4); r <= RegR4+n; r++ {
				mask |= 1 << r
			}
			ops = append(ops, popRegsUnderMask(mask))
			i++

		case b&0xF8 == 0xA8:
			n := b & 0x07
			var mask uint16
			for r := uint8(RegR4); r <= RegR4+n; r++ {
				mask |= 1 << r
			}
			mask |= 1 << RegR14
			ops = append(ops, popRegsUnderMask(mask))
			i++

		case b == 0xB0:
			ops = append(ops, opFinish)
			return ops, nil

		case b == 0xB1:
			if i+1 >= len(stream) {
				return nil, newError(MalformedEntry, "truncated pop R0-R3 opcode")
			}
			nibble := stream[i+1] & 0x0F
			if stream[i+1]&0xF0 != 0 {
				return nil, newError(UnsupportedInstruction, "reserved bits set in pop R0-R3 opcode")
			}
			if nibble == 0 {
				return nil, newError(MalformedEntry, "pop R0-R3 opcode with zero mask is reserved")
			}
			var mask uint16
			for bit := 0; bit < 4; bit++ {
				if nibble&(1<<uint(bit)) != 0 {
					mask |= 1 << uint(RegR0+bit)
				}
			}
			ops = append(ops, popRegsUnderMask(mask))
			i += 2

		case b == 0xB2:
			value, n, err := decodeULEB128(stream[i+1:])
			if err != nil {
				return nil, err
			}
			ops = append(ops, addToVsp(int32(0x204+(value<<2))))
			i += 1 + n

		case b == 0xB3:
			if i+1 >= len(stream) {
				return nil, newError(MalformedEntry, "truncated pop VFP D8+ opcode")
			}
			sc := stream[i+1]
			first := 8 + (sc >> 4)
			count := (sc & 0x0F) + 1
			ops = append(ops, popFloatRegs(first, count))
			i += 2

		case b&0xF8 == 0xB8:
			n := b & 0x07
			ops = append(ops, popFloatRegs(8, n+1))
			i++

		case b >= 0xC0 && b <= 0xC5:
			// WMMX registers are not tracked individually; like
			// PopFloatRegs, only the stack-pointer advance matters.
			n := b & 0x07
			ops = append(ops, popFloatRegs(wmmxFirst, n+1))
			i++

		case b == 0xC6:
			if i+1 >= len(stream) {
				return nil, newError(MalformedEntry, "truncated WMMX range opcode")
			}
			sn := stream[i+1]
			count := (sn & 0x0F) + 1
			ops = append(ops, popFloatRegs(wmmxFirst, count))
			i += 2

		case b == 0xC7:
			if i+1 >= len(stream) {
				return nil, newError(MalformedEntry, "truncated WMMX mask opcode")
			}
			mask := stream[i+1]
			if mask == 0 {
				return nil, newError(MalformedEntry, "WMMX mask opcode with zero mask is reserved")
			}
			ops = append(ops, popFloatRegs(wmmxFirst, uint8(bits.OnesCount8(mask))))
			i += 2

		case b == 0xC8:
			if i+1 >= len(stream) {
				return nil, newError(MalformedEntry, "truncated VFP D16+ opcode")
			}
			sc := stream[i+1]
			first := 16 + (sc >> 4)
			count := (sc & 0x0F) + 1
			ops = append(ops, popFloatRegs(first, count))
			i += 2

		case b == 0xC9:
			if i+1 >= len(stream) {
				return nil, newError(MalformedEntry, "truncated VFP D0+ opcode")
			}
			sc := stream[i+1]
			first := sc >> 4
			count := (sc & 0x0F) + 1
			ops = append(ops, popFloatRegs(first, count))
			i += 2

		default:
			return nil, newError(UnsupportedInstruction, "unassigned opcode 0x%02x", b)
		}
	}

	ops = append(ops, opFinish)
	return ops, nil
}

// decodeULEB128 decodes an unsigned LEB128 value from the start of buf,
// returning the value and the number of bytes it occupied.
func decodeULEB128(buf []byte) (uint32, int, error) {
	var value uint32
	var shift uint
	for i, b := range buf {
		value |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
		if shift >= 32 {
			return 0, 0, newError(MalformedEntry, "uleb128 overflows 32 bits")
		}
	}
	return 0, 0, newError(MalformedEntry, "truncated uleb128")
}
