// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package irmodule loads and serializes textual LLVM IR modules and names
// the livepatch symbol grammar (§6 of the naming table) that the diff and
// fixup stages both produce or consume.
package irmodule

import (
	"os"
	"strings"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/google/llpatch/internal/command"
)

const (
	LivepatchPrefix = "__livepatch_"
	KlpLocalSymName = "klp.local.sym"
)

// Load parses a textual LLVM IR file into an *ir.Module.
func Load(path string) (*ir.Module, error) {
	mod, err := asm.ParseFile(path)
	if err != nil {
		return nil, command.Wrap(command.InvalidLLVMFile, err)
	}
	return mod, nil
}

// Dump writes mod to <sourceFileName>__klp_diff.ll, matching the predecessor
// tool's DumpModule.
func Dump(mod *ir.Module) (string, error) {
	name := mod.SourceFilename
	if name == "" {
		name = "module"
	}
	out := name + "__klp_diff.ll"
	f, err := os.Create(out)
	if err != nil {
		return "", command.Wrap(command.FileOpenFailed, err)
	}
	defer f.Close()

	if _, err := f.WriteString(mod.String()); err != nil {
		return "", command.Wrap(command.FileOpenFailed, err)
	}
	return out, nil
}

// RemoveBasePath drops everything in path up to and including the first
// occurrence of basePath, then trims any leading '.' and '/' characters,
// mirroring the predecessor's RemoveBasePath.
func RemoveBasePath(path, basePath string) string {
	if basePath != "" {
		if idx := strings.Index(path, basePath); idx >= 0 {
			path = path[idx+len(basePath):]
		}
	}
	return strings.TrimLeft(path, "./")
}

// LivepatchedFunctionName builds "<name>:<source-file-relative-to-base>".
func LivepatchedFunctionName(name, sourceFile, basePath string) string {
	return name + ":" + RemoveBasePath(sourceFile, basePath)
}

// KlpLocalSym builds "klp.local.sym:<name>".
func KlpLocalSym(name string) string {
	return KlpLocalSymName + ":" + name
}

// LivepatchedSymbolName builds "klp.local.sym:<orig>:<source-file-relative-to-base>".
func LivepatchedSymbolName(origName, sourceFile, basePath string) string {
	return KlpLocalSym(origName) + ":" + RemoveBasePath(sourceFile, basePath)
}
