// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package irdiff implements the diff pipeline stage: classify every
// function and global in the patched module relative to the original one,
// then rewrite the patched module in place so it is ready for compilation
// into a livepatch object.
package irdiff

import (
	"regexp"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"

	"github.com/google/llpatch/internal/command"
	"github.com/google/llpatch/internal/irmodule"
	"github.com/google/llpatch/internal/logging"
)

// Params are the parsed `diff` subcommand flags.
type Params struct {
	OriginalPath string
	PatchedPath  string
	BaseDir      string
	Quiet        bool
}

var dbgRe = regexp.MustCompile(`,?\s*!dbg\s+![0-9]+`)

// functionsDiffer reports whether two functions differ structurally. There
// is no portable equivalent of llvm-diff's DifferenceEngine outside LLVM's
// own C++ tree, so the comparison is textual: the printed function bodies
// with debug-location metadata attachments stripped (align already made
// __LINE__ agree, so a textual difference at this point is a real one).
func functionsDiffer(original, patched *ir.Func) bool {
	o := dbgRe.ReplaceAllString(original.String(), "")
	p := dbgRe.ReplaceAllString(patched.String(), "")
	return o != p
}

func funcInSpecialSection(fn *ir.Func) bool {
	return strings.HasPrefix(fn.Section, ".init") || strings.HasPrefix(fn.Section, ".exit")
}

func gvarInSpecialSection(g *ir.Global) bool {
	return strings.HasPrefix(g.Section, ".discard.func_stack_frame_non_standard")
}

func gvarIsJumpLabel(g *ir.Global) bool {
	return strings.Contains(g.ContentType.String(), "struct.jump_entry")
}

func findFunc(mod *ir.Module, name string) *ir.Func {
	for _, f := range mod.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

func findGlobal(mod *ir.Module, name string) *ir.Global {
	for _, g := range mod.Globals {
		if g.Name() == name {
			return g
		}
	}
	return nil
}

// removeFuncAlias drops aliases whose names start with __direct_call or
// sys_: once the function they point at becomes an external declaration,
// leaving the alias in place crashes the downstream compiler.
func removeFuncAlias(mod *ir.Module) {
	kept := mod.Aliases[:0]
	for _, alias := range mod.Aliases {
		name := alias.Name()
		if strings.HasPrefix(name, "__direct_call") || strings.HasPrefix(name, "sys_") {
			continue
		}
		kept = append(kept, alias)
	}
	mod.Aliases = kept
}

// appendToUsed adds fn to @llvm.used, creating the global if necessary, so
// the optimizer cannot drop a livepatched function whose only callers are
// outside this translation unit.
func appendToUsed(mod *ir.Module, fn *ir.Func) {
	const usedName = "llvm.used"
	ptrType := types.NewPointer(types.I8)
	bc := constant.NewBitCast(fn, ptrType)

	used := findGlobal(mod, usedName)
	if used == nil {
		arr := constant.NewArray(types.NewArray(1, ptrType), bc)
		used = &ir.Global{
			ContentType: arr.Typ,
			Init:        arr,
			Linkage:     enum.LinkageAppending,
			Section:     "llvm.metadata",
		}
		used.SetName(usedName)
		mod.Globals = append(mod.Globals, used)
		return
	}

	existing, ok := used.Init.(*constant.Array)
	if !ok {
		return
	}
	elems := append(existing.Elems, bc)
	arr := constant.NewArray(types.NewArray(uint64(len(elems)), ptrType), elems...)
	used.Init = arr
	used.ContentType = arr.Typ
}

// distillFunctions runs the function pass: classify every patched function
// relative to original, drop special-section functions, rename livepatched
// ones, externalize the rest. Mirrors DistillDiffFunctions.
func distillFunctions(original, patched *ir.Module, basePath string) error {
	livepatched := make(map[*ir.Func]bool)
	isNew := make(map[*ir.Func]bool)
	var dropped []*ir.Func

	for _, fn := range patched.Funcs {
		if fn.Name() == "" {
			continue
		}
		if funcInSpecialSection(fn) {
			dropped = append(dropped, fn)
			continue
		}
		orig := findFunc(original, fn.Name())
		if orig == nil {
			isNew[fn] = true
			continue
		}
		if functionsDiffer(orig, fn) {
			livepatched[fn] = true
		}
	}

	if len(livepatched) == 0 && len(isNew) == 0 {
		logging.Info("All functions are same but no new functions. Nothing to patch.")
		return command.Wrap(command.NothingToPatch, nil)
	}

	if len(dropped) > 0 {
		removeFuncs(patched, dropped)
	}
	removeFuncAlias(patched)

	for _, fn := range patched.Funcs {
		if fn.Name() == "" {
			continue
		}
		if isNew[fn] {
			continue
		}
		if livepatched[fn] {
			fn.SetName(irmodule.LivepatchPrefix + irmodule.LivepatchedFunctionName(fn.Name(), patched.SourceFilename, basePath))
			appendToUsed(patched, fn)
			fn.Linkage = enum.LinkageExternal
		} else {
			fn.Blocks = nil
		}
	}

	return nil
}

func removeFuncs(mod *ir.Module, drop []*ir.Func) {
	dropSet := make(map[*ir.Func]bool, len(drop))
	for _, fn := range drop {
		dropSet[fn] = true
	}
	kept := mod.Funcs[:0]
	for _, fn := range mod.Funcs {
		if !dropSet[fn] {
			kept = append(kept, fn)
		}
	}
	mod.Funcs = kept
}

var (
	kcrctabRe  = regexp.MustCompile(`(?m)[ \t]*\.section.*kcrctab.*\n.*__crc.*\n.*__crc.*\n[ \t]*\.previous.*\n`)
	initcallRe = regexp.MustCompile(`(?m)[ \t]*\.section.*initcall.*\n.*__initcall.*\n.*long.*\n[ \t]*\.previous.*\n`)
)

// removeSpecialGlobals drops __init/__exit/__kstrtab/__ksymtab globals and
// prunes the two inline-assembly fragments KLP cannot carry forward.
func removeSpecialGlobals(mod *ir.Module) {
	var drop []*ir.Global
	for _, g := range mod.Globals {
		name := g.Name()
		if strings.HasPrefix(name, "__init") || strings.HasPrefix(name, "__exit") ||
			strings.HasPrefix(name, "__kstrtab") || strings.HasPrefix(name, "__ksymtab") {
			drop = append(drop, g)
		}
	}
	dropSet := make(map[*ir.Global]bool, len(drop))
	for _, g := range drop {
		dropSet[g] = true
	}
	kept := mod.Globals[:0]
	for _, g := range mod.Globals {
		if !dropSet[g] {
			kept = append(kept, g)
		}
	}
	mod.Globals = kept

	asm := strings.Join(mod.ModuleAsms, "\n")
	asm = kcrctabRe.ReplaceAllString(asm, "")
	asm = initcallRe.ReplaceAllString(asm, "")
	if asm == "" {
		mod.ModuleAsms = nil
	} else {
		mod.ModuleAsms = strings.Split(asm, "\n")
	}
}

// distillGlobals runs the global pass: externalize shared globals, warn on
// mismatches, rename DSO-local ones that need klp.local.sym indirection.
// Mirrors DistillDiffGlobals.
func distillGlobals(original, patched *ir.Module, basePath string) {
	removeSpecialGlobals(patched)

	for _, g := range patched.Globals {
		name := g.Name()
		if strings.HasPrefix(name, "__const") {
			continue
		}
		if gvarInSpecialSection(g) {
			continue
		}
		if g.Immutable && g.Init != nil && isConstantData(g.Init) {
			continue
		}
		if gvarIsJumpLabel(g) {
			continue
		}

		orig := findGlobal(original, name)
		if orig == nil {
			continue
		}

		if orig.ContentType.String() != g.ContentType.String() {
			logging.Warn("type of global variable %q is changed (original: %s, patched: %s)", name, orig.ContentType, g.ContentType)
		}
		if (orig.Init == nil) != (g.Init == nil) || (g.Init != nil && orig.Init != nil && orig.Init.String() != g.Init.String()) {
			// Attribute mismatch is advisory too, but LLVM attribute sets
			// are not reachable from llir/llvm's Global type, so the
			// initializer-identity check stands in for both warnings.
			logging.Warn("initializer mismatch for global variable %q", name)
		}

		g.Init = nil
		g.Linkage = enum.LinkageExternal

		if isDSOLocal(g) && name != "__fentry__" {
			g.SetName(irmodule.LivepatchedSymbolName(name, original.SourceFilename, basePath))
		}
	}
}

func isConstantData(c constant.Constant) bool {
	switch c.(type) {
	case *constant.Int, *constant.Float, *constant.Null, *constant.NoneToken,
		*constant.Array, *constant.CharArray, *constant.Struct, *constant.Vector,
		*constant.ZeroInitializer, *constant.Undef:
		return true
	default:
		return false
	}
}

func isDSOLocal(g *ir.Global) bool {
	return g.Preemption != enum.PreemptionDSOPreemptable
}

// Run executes the full diff stage and returns the path of the module it
// wrote, per the predecessor's DiffCommand::Run.
func Run(p Params) (string, error) {
	logging.SetQuiet(p.Quiet)

	original, err := irmodule.Load(p.OriginalPath)
	if err != nil {
		return "", err
	}
	patched, err := irmodule.Load(p.PatchedPath)
	if err != nil {
		return "", err
	}

	if err := distillFunctions(original, patched, p.BaseDir); err != nil {
		return "", err
	}
	distillGlobals(original, patched, p.BaseDir)

	return irmodule.Dump(patched)
}
