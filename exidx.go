// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

import "encoding/binary"

// exidxEntrySize is the width in bytes of one .ARM.exidx record: two
// little-endian 32-bit words.
const exidxEntrySize = 8

// exidxEntry is the pair of words at one 8-byte offset of .ARM.exidx.
type exidxEntry struct {
	// start is the absolute function start address, decoded from
	// Word 0 as a PREL31 offset from the entry's own in-memory
	// address.
	start uint32
	// word1 is the raw second word: either the cantunwind sentinel,
	// an inline compact descriptor, or a PREL31 reference into
	// .ARM.extab.
	word1 uint32
}

func readExidxEntry(exidx []byte, base uint32, index int) (exidxEntry, error) {
	off := index * exidxEntrySize
	if off+exidxEntrySize > len(exidx) {
		return exidxEntry{}, newError(MalformedEntry, "exidx entry %d out of range", index)
	}
	word0 := binary.LittleEndian.Uint32(exidx[off:])
	word1 := binary.LittleEndian.Uint32(exidx[off+4:])
	wordAddr := base + uint32(off)
	start, ok := decodePrel31(word0, wordAddr)
	if !ok {
		return exidxEntry{}, newError(MalformedEntry, "exidx entry %d: PREL31 reserved bit set", index)
	}
	return exidxEntry{start: start, word1: word1}, nil
}

// findExidxEntry performs the binary search of §4.B: locate the exidx
// entry whose function start is the greatest one not exceeding pc, i.e.
// entry.start <= pc < nextEntry.start (or section end for the last
// entry). Returns ok=false ("no coverage") if exidx is empty or pc
// falls below the first entry's start.
func findExidxEntry(exidx []byte, base uint32, pc uint32) (entry exidxEntry, index int, ok bool, err error) {
	count := len(exidx) / exidxEntrySize
	if count == 0 {
		return exidxEntry{}, 0, false, nil
	}

	lo, hi := 0, count-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		e, err := readExidxEntry(exidx, base, mid)
		if err != nil {
			return exidxEntry{}, 0, false, err
		}
		if e.start <= pc {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	first, err := readExidxEntry(exidx, base, 0)
	if err != nil {
		return exidxEntry{}, 0, false, err
	}
	if pc < first.start {
		return exidxEntry{}, 0, false, nil
	}

	e, err := readExidxEntry(exidx, base, lo)
	if err != nil {
		return exidxEntry{}, 0, false, err
	}
	return e, lo, true, nil
}
