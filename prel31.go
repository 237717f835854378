// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

// decodePrel31 decodes a PREL31-encoded 32-bit value (a 31-bit signed
// offset, PC-relative to the in-memory address of the word itself) into
// an absolute address. The high bit is reserved for entries and extab
// headers and must be zero; a set reserved bit is reported via ok=false
// so the caller can fail with MalformedEntry.
//
// Sign extension comes from bit 30: shifting the low 31 bits left by
// one and then doing an arithmetic right shift by one recovers the
// signed offset without masking it off, per §9's warning that a naive
// 0x7FFFFFFF mask silently misdecodes entries placed above the section.
func decodePrel31(word uint32, wordAddress uint32) (address uint32, ok bool) {
	if word&0x80000000 != 0 {
		return 0, false
	}
	offset := int32(word<<1) >> 1
	return uint32(int64(wordAddress) + int64(offset)), true
}

// encodePrel31 is the inverse of decodePrel31: given an absolute
// address and the in-memory address of the word that will hold it, it
// returns the PREL31-encoded word. Used by tests to assert the
// encode/decode round trip invariant from spec.md §8.
func encodePrel31(address uint32, wordAddress uint32) uint32 {
	offset := int32(int64(address) - int64(wordAddress))
	return uint32(offset) & 0x7FFFFFFF
}
