// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

import (
	"os"

	"github.com/saferwall/armwind/log"
)

// UnwindStatus reports the outcome of a successful unwind step.
type UnwindStatus uint8

const (
	// InProgress means another frame may exist; the caller should
	// unwind again with the updated register file.
	InProgress UnwindStatus = iota

	// Finished means normal end of stack was reached (null PC,
	// Refuse, or the cantunwind sentinel). This is not an error.
	Finished
)

// Options configures a Driver.
type Options struct {
	// CacheCapacity bounds the number of decoded recipes kept; zero
	// uses DefaultCacheCapacity.
	CacheCapacity int

	// Logger receives diagnostic messages about failed lookups and
	// leniency fallbacks. A nil Logger is valid and silences them.
	Logger *log.Helper
}

// Driver is the top-level unwind state machine (§4.F): it tries the
// cache first, otherwise locates the binary covering the PC, decodes
// its exidx entry, caches the result, and executes it against a
// Registers file.
type Driver struct {
	lookup BinaryLookup
	cache  *Cache
	logger *log.Helper
}

// NewDriver returns a Driver that resolves binaries through lookup.
// Each Driver owns one Cache; do not share a Driver across concurrently
// unwound register files (§5).
func NewDriver(lookup BinaryLookup, opts *Options) *Driver {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout), log.FilterLevel(log.LevelError)))
	}
	return &Driver{
		lookup: lookup,
		cache:  NewCache(opts.CacheCapacity),
		logger: logger,
	}
}

// ClearCache invalidates every cached recipe. Call this whenever the
// set of loaded binaries changes (a module loaded, unloaded, or moved).
func (d *Driver) ClearCache() {
	d.cache.Clear()
}

// UnwindOneFrame reconstructs the caller's register state from regs'
// current program counter, per §4.F. On success it returns InProgress
// or Finished with a nil error, and, when known, the absolute address
// of the start of the function the PC was found in (initialAddress)
// and the address the new return address was read from (raAddress).
// When the frame-0 fallback uses R14 directly, no memory is read and
// raAddress receives the R14 value itself. On any other failure it returns a non-nil *Error carrying the §7
// Kind the failure belongs to; the caller must discard the remainder
// of this sample's trace.
func (d *Driver) UnwindOneFrame(
	nthFrame int,
	memory MemoryReader,
	regs *Registers,
	initialAddress *uint32,
	raAddress *uint32,
) (status UnwindStatus, err error) {
	pc, valid := regs.Get(RegPC)
	if !valid {
		d.logger.Debugf("frame #%d: program counter unknown", nthFrame)
		return 0, newError(TruncatedStack, "frame #%d: program counter unknown", nthFrame)
	}

	if recipe, binaryID, functionStart, hit := d.cache.GetByPC(pc); hit {
		_ = binaryID
		if initialAddress != nil {
			*initialAddress = functionStart
		}
		return d.run(recipe, memory, regs, raAddress)
	}

	bin, found := d.lookup.LookupBinary(nthFrame, memory, regs)
	if !found {
		if nthFrame == 0 {
			return d.unwindLeniently(memory, regs, raAddress)
		}
		d.logger.Debugf("frame #%d: no binary covers 0x%08x", nthFrame, pc)
		return 0, newError(UncoveredAddress, "frame #%d: no binary covers 0x%08x", nthFrame, pc)
	}

	exidxRange, hasExidx := bin.ArmExidxRange()
	exidxBase, hasExidxAddr := bin.ArmExidxAddress()
	if !hasExidx || !hasExidxAddr {
		d.logger.Debugf("frame #%d: binary %q is missing .ARM.exidx", nthFrame, bin.Name())
		if nthFrame == 0 {
			return d.unwindLeniently(memory, regs, raAddress)
		}
		return 0, newError(MissingTables, "frame #%d: binary %q is missing .ARM.exidx", nthFrame, bin.Name())
	}

	var extab []byte
	extabRange, hasExtab := bin.ArmExtabRange()
	extabBase, hasExtabAddr := bin.ArmExtabAddress()
	if hasExtab {
		if !hasExtabAddr {
			d.logger.Debugf("frame #%d: binary %q .ARM.extab address unknown", nthFrame, bin.Name())
			return 0, newError(MissingTables, "frame #%d: binary %q .ARM.extab address unknown", nthFrame, bin.Name())
		}
	} else {
		extabBase = 0
	}

	data := bin.AsBytes()
	exidx := data[exidxRange.Start:exidxRange.End]
	if hasExtab {
		extab = data[extabRange.Start:extabRange.End]
	}

	entry, index, covered, findErr := findExidxEntry(exidx, exidxBase, pc)
	if findErr != nil {
		d.logger.Debugf("frame #%d: %s", nthFrame, findErr)
		return 0, findErr
	}
	if !covered {
		if nthFrame == 0 {
			return d.unwindLeniently(memory, regs, raAddress)
		}
		d.logger.Debugf("frame #%d: 0x%08x not covered by any exidx entry", nthFrame, pc)
		return 0, newError(UncoveredAddress, "frame #%d: 0x%08x not covered by any exidx entry", nthFrame, pc)
	}

	if initialAddress != nil {
		*initialAddress = entry.start
	}

	// The upper bound of the cached PC range must live in code-address
	// space, like entry.start itself. A next exidx entry's start gives
	// the tightest bound; failing that, the binary's code extent is the
	// only other value in the right address space — the exidx table's
	// own byte length (an offset within a completely different section)
	// is not, and caching against it would make GetByPC silently miss
	// for the last function of any multi-entry binary.
	var end uint32
	if next, nextErr := readExidxEntry(exidx, exidxBase, index+1); nextErr == nil {
		end = next.start
	} else if codeEnd, hasCodeEnd := bin.CodeEnd(); hasCodeEnd && codeEnd > entry.start {
		end = codeEnd
	} else {
		end = entry.start + 1
	}

	exidxWordAddr := exidxBase + uint32(index*exidxEntrySize) + 4
	recipe, decodeErr := decodeEntry(entry.word1, exidxWordAddr, extab, extabBase)
	if decodeErr != nil {
		d.logger.Debugf("frame #%d: %s", nthFrame, decodeErr)
		return 0, decodeErr
	}
	recipe.FunctionStart = entry.start

	d.cache.Put(bin.ID(), entry.start, entry.start, end, recipe)

	return d.run(recipe, memory, regs, raAddress)
}

func (d *Driver) run(recipe Recipe, memory MemoryReader, regs *Registers, raAddress *uint32) (UnwindStatus, error) {
	addr, err := execute(memory, regs, recipe)
	if err == nil {
		if raAddress != nil && addr != nil {
			*raAddress = *addr
		}
		return InProgress, nil
	}
	if unwErr, is := err.(*Error); is && unwErr.Kind == EndOfStack {
		d.logger.Debugf("previous frame not found: end of stack")
		return Finished, nil
	}
	d.logger.Debugf("previous frame not found: %s", err)
	return 0, err
}

// unwindLeniently implements §4.F's innermost-frame leniency: when no
// exidx entry covers the PC of frame 0, trust R14 directly as the
// return address. Signal trampolines and leaf functions built without
// tables are common at the innermost frame; deeper frames never get
// this treatment; it would mask a genuinely broken unwind and loop.
func (d *Driver) unwindLeniently(memory MemoryReader, regs *Registers, raAddress *uint32) (UnwindStatus, error) {
	lr, ok := regs.Get(RegLR)
	if !ok {
		return 0, newError(TruncatedStack, "frame #0: link register unknown, cannot fall back")
	}
	if lr == 0 {
		return Finished, nil
	}
	regs.Set(RegPC, lr)
	if raAddress != nil {
		*raAddress = lr
	}
	d.logger.Debugf("frame #0: falling back to R14 as return address (no exidx coverage)")
	return InProgress, nil
}
