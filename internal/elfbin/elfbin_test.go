// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfbin

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/llpatch/internal/elftest"
)

func TestOpen_SymbolsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.o")
	elftest.WriteObject(t, path, []elftest.Section{
		{Name: ".text", Type: 1, Flags: elftest.ShfAlloc, Addralign: 16, Data: []byte{0x90, 0x90}},
	}, []elftest.Sym{
		{Name: "foo", Info: 0x12, Shndx: 1}, // STT_FUNC | STB_GLOBAL<<4
		{Name: "bar", Shndx: 0},             // undefined
	})

	bin, err := Open(path)
	require.NoError(t, err)

	syms := bin.Symbols()
	require.Len(t, syms, 2)
	assert.Equal(t, "foo", syms[0].Name)
	assert.False(t, syms[0].IsUndef())
	assert.Equal(t, "bar", syms[1].Name)
	assert.True(t, syms[1].IsUndef())
}

func TestRename_UpdatesNameButNotIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.o")
	elftest.WriteObject(t, path, nil, []elftest.Sym{
		{Name: "old_name", Shndx: 0},
	})

	bin, err := Open(path)
	require.NoError(t, err)

	sym := bin.Symbols()[0]
	sym.SetSectionIndex(SHN_LIVEPATCH)

	nameBuf := []byte{0, 'n', 'e', 'w', '_', 'n', 'a', 'm', 'e', 0}
	sym.Rename(1, "new_name")

	assert.Equal(t, "new_name", sym.Name)
	assert.Equal(t, uint16(SHN_LIVEPATCH), sym.Shndx)
	bin.UpdateSection(bin.StringSectionIndex(), nameBuf)

	require.NoError(t, bin.Flush())

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Len(t, reopened.Symbols(), 1)
	assert.Equal(t, "new_name", reopened.Symbols()[0].Name)
	assert.Equal(t, uint16(SHN_LIVEPATCH), reopened.Symbols()[0].Shndx)
}

func TestModName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mod.o")
	elftest.WriteObject(t, path, []elftest.Section{
		{Name: ".modinfo", Type: 1, Data: append([]byte("name=test_mod\x00"), []byte("license=GPL\x00")...)},
	}, nil)

	bin, err := Open(path)
	require.NoError(t, err)

	name, err := bin.ModName()
	require.NoError(t, err)
	assert.Equal(t, "test_mod", name)
}

func TestDefinedSymbolSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.o")
	elftest.WriteObject(t, path, nil, []elftest.Sym{
		{Name: "defined_one", Shndx: 1},
		{Name: "undefined_one", Shndx: 0},
	})

	bin, err := Open(path)
	require.NoError(t, err)

	set := bin.DefinedSymbolSet()
	assert.True(t, set["defined_one"])
	assert.False(t, set["undefined_one"])
}
