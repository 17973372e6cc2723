// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/llpatch/internal/command"
	"github.com/google/llpatch/internal/elfbin"
	"github.com/google/llpatch/internal/elftest"
)

func buildWithUndef(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patch.o")
	elftest.WriteObject(t, path, nil, []elftest.Sym{
		{Name: name, Shndx: 0},
	})
	return path
}

func TestRun_RenameKlpLocalSym(t *testing.T) {
	path := buildWithUndef(t, "klp.local.sym:shared_counter:drivers/x.c")

	require.NoError(t, Run(Params{KlpPatchFile: path}))

	bin, err := elfbin.Open(path)
	require.NoError(t, err)
	sym := bin.Symbols()[0]
	assert.Equal(t, ".klp.sym.vmlinux.shared_counter,0", sym.Name)
	assert.Equal(t, uint16(elfbin.SHN_LIVEPATCH), sym.Shndx)
}

func TestRun_SymbolMapResolution(t *testing.T) {
	path := buildWithUndef(t, "__llpatch_symbol_my_alias")

	mapPath := filepath.Join(t.TempDir(), "symbol_map.txt")
	require.NoError(t, os.WriteFile(mapPath, []byte("my_mod drivers/x.c real_sym my_alias\n"), 0o644))

	require.NoError(t, Run(Params{KlpPatchFile: path, SymbolMap: mapPath}))

	bin, err := elfbin.Open(path)
	require.NoError(t, err)
	sym := bin.Symbols()[0]
	assert.Equal(t, ".klp.sym.my_mod.real_sym,0", sym.Name)
	assert.Equal(t, uint16(elfbin.SHN_LIVEPATCH), sym.Shndx)
}

func TestRun_LLpatchSymbolWithoutSymbolMapFails(t *testing.T) {
	path := buildWithUndef(t, "__llpatch_symbol_my_alias")

	err := Run(Params{KlpPatchFile: path})
	var ce *command.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, command.NoSymMap, ce.Code)
}

func TestRun_ForeignExportLeftUnchanged(t *testing.T) {
	path := buildWithUndef(t, "printk")

	require.NoError(t, Run(Params{KlpPatchFile: path}))

	bin, err := elfbin.Open(path)
	require.NoError(t, err)
	sym := bin.Symbols()[0]
	assert.Equal(t, "printk", sym.Name)
	assert.True(t, sym.IsUndef())
}

func TestCreateKlpRela_SplitsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patch.o")
	relaData := make([]byte, 24*2)
	// entry 0 relocates against symbol index 1 (klp symbol), entry 1
	// against symbol index 2 (ordinary symbol) -- encoded via the same
	// layout CreateKlpRela/decodeRelas expect.
	putRela(relaData[0:24], 0, 1, 0)
	putRela(relaData[24:48], 8, 2, 0)

	// With two extra sections (.text, .rela.text) preceding the
	// builder's own .symtab/.strtab/.shstrtab, .text lands at index 1
	// and .symtab at index 3 -- see elftest.WriteObject's layout.
	idx := elftest.WriteObject(t, path, []elftest.Section{
		{Name: ".text", Type: 1, Flags: elftest.ShfAlloc, Addralign: 16, Data: []byte{0x90, 0x90}},
		{Name: ".rela.text", Type: 9, Link: 3, Info: 1, Addralign: 8, Entsize: 24, Data: relaData},
	}, []elftest.Sym{
		{Name: ".klp.sym.vmlinux.shared_counter,0", Shndx: 0},
		{Name: "printk", Shndx: 0},
	})
	require.Equal(t, []int{1, 2}, idx)

	require.NoError(t, Run(Params{KlpPatchFile: path, CreateRela: true}))
}

func putRela(buf []byte, off uint64, symIdx uint32, relType uint32) {
	le := func(v uint64) []byte {
		b := make([]byte, 8)
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
		return b
	}
	copy(buf[0:8], le(off))
	info := uint64(relType)<<32 | uint64(symIdx)
	copy(buf[8:16], le(info))
	copy(buf[16:24], le(0))
}
