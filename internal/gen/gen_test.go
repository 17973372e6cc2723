// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/llpatch/internal/command"
	"github.com/google/llpatch/internal/elftest"
)

func buildPatchObject(t *testing.T, funcNames ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patch.o")
	syms := make([]elftest.Sym, 0, len(funcNames))
	for _, n := range funcNames {
		syms = append(syms, elftest.Sym{Name: n, Shndx: 1})
	}
	elftest.WriteObject(t, path, []elftest.Section{
		{Name: ".text", Type: 1, Flags: elftest.ShfAlloc, Addralign: 16, Data: []byte{0x90}},
	}, syms)
	return path
}

func TestRun_NothingToPatch(t *testing.T) {
	path := buildPatchObject(t, "some_unrelated_symbol")

	err := Run(Params{
		KlpPatchFile: path,
		OutDir:       t.TempDir(),
		KernelDir:    "/kernel",
		KlpModName:   "test_klp",
	})
	var ce *command.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, command.NothingToPatch, ce.Code)
}

func TestRun_GeneratesWrapperLdsAndMakefile(t *testing.T) {
	path := buildPatchObject(t, "__livepatch_do_thing:drivers/x.c")
	outDir := t.TempDir()

	require.NoError(t, Run(Params{
		KlpPatchFile: path,
		OutDir:       outDir,
		KernelDir:    "/path/to/kernel",
		KlpModName:   "test_klp",
	}))

	wrapper, err := os.ReadFile(filepath.Join(outDir, "livepatch.c"))
	require.NoError(t, err)
	assert.Contains(t, string(wrapper), "void livepatch_do_thing(void);")
	assert.Contains(t, string(wrapper), `.old_name = "do_thing"`)
	assert.Contains(t, string(wrapper), ".new_func = livepatch_do_thing")

	lds, err := os.ReadFile(filepath.Join(outDir, "livepatch.lds"))
	require.NoError(t, err)
	assert.Contains(t, string(lds), "livepatch_do_thing = __livepatch_do_thing;")

	mk, err := os.ReadFile(filepath.Join(outDir, "Makefile"))
	require.NoError(t, err)
	assert.Contains(t, string(mk), "KDIR := /path/to/kernel")
	assert.Contains(t, string(mk), "KLP_NAME := test_klp")

	_, err = os.Stat(filepath.Join(outDir, "llpatch.h"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "llpatch-callbacks.c"))
	require.NoError(t, err)
}

func TestRun_InvalidKlpPrefix(t *testing.T) {
	path := buildPatchObject(t, "__livepatch___livepatch_do_thing:drivers/x.c")

	err := Run(Params{
		KlpPatchFile: path,
		OutDir:       t.TempDir(),
		KernelDir:    "/kernel",
		KlpModName:   "test_klp",
	})
	var ce *command.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, command.InvalidKlpPrefix, ce.Code)
}

func TestRun_CustomCallbacksCopied(t *testing.T) {
	path := buildPatchObject(t, "__livepatch_do_thing:drivers/x.c")
	outDir := t.TempDir()

	customCallbacks := filepath.Join(t.TempDir(), "llpatch-callbacks.c")
	require.NoError(t, os.WriteFile(customCallbacks, []byte("/* custom */\n"), 0o644))

	require.NoError(t, Run(Params{
		KlpPatchFile: path,
		OutDir:       outDir,
		KernelDir:    "/kernel",
		KlpModName:   "test_klp",
		Callbacks:    customCallbacks,
	}))

	got, err := os.ReadFile(filepath.Join(outDir, "llpatch-callbacks.c"))
	require.NoError(t, err)
	assert.Equal(t, "/* custom */\n", string(got))
}
