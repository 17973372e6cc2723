// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package irdiff

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
)

func TestFuncInSpecialSection(t *testing.T) {
	init := &ir.Func{Section: ".init.text"}
	exit := &ir.Func{Section: ".exit.text"}
	normal := &ir.Func{Section: ""}

	assert.True(t, funcInSpecialSection(init))
	assert.True(t, funcInSpecialSection(exit))
	assert.False(t, funcInSpecialSection(normal))
}

func TestGvarInSpecialSection(t *testing.T) {
	discard := &ir.Global{Section: ".discard.func_stack_frame_non_standard"}
	normal := &ir.Global{Section: ".data"}

	assert.True(t, gvarInSpecialSection(discard))
	assert.False(t, gvarInSpecialSection(normal))
}

func TestGvarIsJumpLabel(t *testing.T) {
	jumpLabel := &ir.Global{ContentType: types.NewStruct(types.I64, types.I64, types.I32)}
	jumpLabel.ContentType.(*types.StructType).TypeName = "struct.jump_entry"

	plain := &ir.Global{ContentType: types.I32}

	assert.True(t, gvarIsJumpLabel(jumpLabel))
	assert.False(t, gvarIsJumpLabel(plain))
}

func TestFunctionsDiffer_StripsDebugLocations(t *testing.T) {
	a := "define void @f() {\n  ret void, !dbg !1\n}"
	b := "define void @f() {\n  ret void, !dbg !2\n}"
	assert.Equal(t, dbgRe.ReplaceAllString(a, ""), dbgRe.ReplaceAllString(b, ""))
}
