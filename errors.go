// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package armwind

import "fmt"

// Kind identifies one of the error taxonomies an unwind step can fail
// with. EndOfStack is not really a failure: it surfaces to the caller
// as UnwindStatus Finished rather than an error.
type Kind uint8

const (
	// EndOfStack means the recipe reached the bottom of the stack: a
	// null PC, an explicit Refuse instruction, or the cantunwind
	// sentinel (exidx Word 1 == 0x1).
	EndOfStack Kind = iota

	// UncoveredAddress means the PC falls outside every exidx entry
	// of the binary that contains it.
	UncoveredAddress

	// MissingTables means the binary has no .ARM.exidx section, or
	// its load address is unknown, or the binary has an .ARM.extab
	// section whose load address is unknown.
	MissingTables

	// TruncatedStack means a memory read during a register pop
	// returned no data, or a register the step needs (PC, SP, LR, or
	// the source of a vsp copy) is unknown.
	TruncatedStack

	// UnsupportedInstruction means the decoder hit an opcode pattern
	// this implementation does not assign a meaning to.
	UnsupportedInstruction

	// MalformedEntry means a PREL31 field had its reserved bit set,
	// an offset pointed outside the section, or a word count was
	// inconsistent with the bytes available.
	MalformedEntry
)

func (k Kind) String() string {
	switch k {
	case EndOfStack:
		return "end of stack"
	case UncoveredAddress:
		return "uncovered address"
	case MissingTables:
		return "missing tables"
	case TruncatedStack:
		return "truncated stack"
	case UnsupportedInstruction:
		return "unsupported instruction"
	case MalformedEntry:
		return "malformed entry"
	default:
		return "unknown"
	}
}

// Error is the error type every failing operation in this package
// returns. Callers that need to branch on the failure category should
// use errors.As and inspect Kind, rather than string-compare Error().
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// errEndOfStack is the canonical EndOfStack value returned whenever
// the cause needs no extra message.
var errEndOfStack = &Error{Kind: EndOfStack}
