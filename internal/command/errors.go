// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package command defines the ErrorCode taxonomy shared by every pipeline
// stage, the Command interface, and the CLI usage text. Dispatching argv
// to a stage happens in cmd/llpatch.
package command

import (
	"errors"
	"fmt"
)

// ErrorCode is the process exit code on failure. Zero means success; every
// other value names a specific failure the way ad-hoc os.Exit(n) calls did
// in the predecessor tool, collapsed into one enum so callers can compare
// against named constants instead of magic numbers.
type ErrorCode int

const (
	OK ErrorCode = 0

	InvalidCommand ErrorCode = 1
	NotEnoughArgs  ErrorCode = 2
	InvalidLLVMFile ErrorCode = 3
	DiffFailed     ErrorCode = 4
	FileOpenFailed ErrorCode = 5
	InvalidPatchFile ErrorCode = 6
	NothingToPatch ErrorCode = 7
	SymFindFailed  ErrorCode = 8
	InvalidSymMap  ErrorCode = 9
	NoSymtab       ErrorCode = 10
	NoRelaSection  ErrorCode = 11
	RelaSectionNotFound ErrorCode = 12
	InvalidKlpPrefix    ErrorCode = 13
	InvalidElfSymbol    ErrorCode = 14
	SameSymbolFilename  ErrorCode = 15
	AliasFindFailed     ErrorCode = 16
	NoSymMap            ErrorCode = 17
)

var messages = map[ErrorCode]string{
	InvalidCommand:      "unknown subcommand",
	NotEnoughArgs:       "required argument missing",
	InvalidLLVMFile:     "failed to load LLVM IR module",
	DiffFailed:          "internal error while diffing IR modules",
	FileOpenFailed:      "cannot open required file",
	InvalidPatchFile:    "malformed unified diff",
	NothingToPatch:      "diff produced no livepatched or new functions",
	SymFindFailed:       "thin-archive lookup returned no symbol position",
	InvalidSymMap:       "malformed symbol-alias map",
	NoSymtab:            "object has no symbol table",
	NoRelaSection:       "object has no relocation section",
	RelaSectionNotFound: "expected relocation section not found",
	InvalidKlpPrefix:    "livepatch prefix occurs more than once in symbol name",
	InvalidElfSymbol:    "malformed ELF symbol entry",
	SameSymbolFilename:  "duplicate (symbol, object-file) pair in thin archive",
	AliasFindFailed:     "symbol map has no entry for alias",
	NoSymMap:            "llpatch symbol referenced but no symbol map given",
}

// Error wraps an ErrorCode with the underlying cause, if any, so log
// messages carry both the stable numeric code and the offending detail.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	msg := messages[e.Code]
	if msg == "" {
		msg = "unspecified error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error for code, attaching err as context. err may be nil.
func Wrap(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// ExitCode returns the process exit code for err: 0 on nil, the embedded
// ErrorCode when err is (or wraps) an *Error, and 1 for any other error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *Error
	if errors.As(err, &ce) {
		return int(ce.Code)
	}
	return 1
}
