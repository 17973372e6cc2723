// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elftest builds minimal ET_REL ELF64 little-endian objects on
// disk for exercising internal/elfbin, internal/fixup, and internal/gen
// without a real compiler or linker in the loop.
package elftest

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Sym is one symbol-table entry to bake into the object's .symtab.
type Sym struct {
	Name  string
	Info  uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// Section is one extra section to bake into the object, beyond the
// symtab/strtab/shstrtab triple WriteObject always creates.
type Section struct {
	Name      string
	Type      uint32
	Flags     uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
	Data      []byte
}

const (
	shtNull   = 0
	shtSymtab = 2
	shtStrtab = 3

	shfAlloc = 0x2
)

// WriteObject writes a relocatable x86-64 ELF64 object to path containing
// extra, a .symtab built from syms (entry 0 is the mandatory null symbol;
// syms are appended after it), a .strtab holding their names, and a
// .shstrtab holding every section's name. Returns the index assigned to
// each extra section, in the same order as extra.
func WriteObject(t *testing.T, path string, extra []Section, syms []Sym) []int {
	t.Helper()

	type built struct {
		name      string
		typ       uint32
		flags     uint64
		link      uint32
		info      uint32
		addralign uint64
		entsize   uint64
		data      []byte
	}

	var sections []built
	sections = append(sections, built{}) // SHT_NULL placeholder

	extraIdx := make([]int, len(extra))
	for i, s := range extra {
		extraIdx[i] = len(sections)
		sections = append(sections, built{
			name: s.Name, typ: s.Type, flags: s.Flags, link: s.Link,
			info: s.Info, addralign: s.Addralign, entsize: s.Entsize, data: s.Data,
		})
	}

	strtab := []byte{0}
	symtabData := make([]byte, 24) // entry 0: the null symbol
	for _, s := range syms {
		nameOff := uint32(len(strtab))
		strtab = append(strtab, []byte(s.Name)...)
		strtab = append(strtab, 0)

		entry := make([]byte, 24)
		binary.LittleEndian.PutUint32(entry[0:], nameOff)
		entry[4] = s.Info
		entry[5] = 0
		binary.LittleEndian.PutUint16(entry[6:], s.Shndx)
		binary.LittleEndian.PutUint64(entry[8:], s.Value)
		binary.LittleEndian.PutUint64(entry[16:], s.Size)
		symtabData = append(symtabData, entry...)
	}
	strtabIdx := len(sections) + 1 // placed right after .symtab below
	symtabIdx := len(sections)
	sections = append(sections, built{
		name: ".symtab", typ: shtSymtab, link: uint32(strtabIdx),
		info: uint32(len(syms) + 1), addralign: 8, entsize: 24, data: symtabData,
	})
	sections = append(sections, built{name: ".strtab", typ: shtStrtab, addralign: 1, data: strtab})

	shstrtab := []byte{0}
	nameOffsets := make([]uint32, len(sections))
	for i, s := range sections {
		if i == 0 {
			continue
		}
		nameOffsets[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(s.name)...)
		shstrtab = append(shstrtab, 0)
	}
	shstrtabIdx := len(sections)
	shstrtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab")...)
	shstrtab = append(shstrtab, 0)
	sections = append(sections, built{name: ".shstrtab", typ: shtStrtab, addralign: 1, data: shstrtab})
	nameOffsets = append(nameOffsets, shstrtabNameOff)

	const ehdrSize = 64
	const shdrSize = 64

	offset := uint64(ehdrSize)
	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		if i == 0 || len(s.data) == 0 {
			continue
		}
		align := s.addralign
		if align == 0 {
			align = 1
		}
		if rem := offset % align; rem != 0 {
			offset += align - rem
		}
		offsets[i] = offset
		offset += uint64(len(s.data))
	}
	shoff := offset
	if rem := shoff % 8; rem != 0 {
		shoff += 8 - rem
	}

	_ = symtabIdx

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	hdr := make([]byte, ehdrSize)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // ELFDATA2LSB
	hdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(hdr[16:], 1)  // ET_REL
	binary.LittleEndian.PutUint16(hdr[18:], 62) // EM_X86_64
	binary.LittleEndian.PutUint32(hdr[20:], 1)
	binary.LittleEndian.PutUint64(hdr[40:], shoff)
	binary.LittleEndian.PutUint16(hdr[52:], ehdrSize)
	binary.LittleEndian.PutUint16(hdr[58:], shdrSize)
	binary.LittleEndian.PutUint16(hdr[60:], uint16(len(sections)))
	binary.LittleEndian.PutUint16(hdr[62:], uint16(shstrtabIdx))
	_, err = f.Write(hdr)
	require.NoError(t, err)

	for i, s := range sections {
		if i == 0 || len(s.data) == 0 {
			continue
		}
		_, err = f.Seek(int64(offsets[i]), 0)
		require.NoError(t, err)
		_, err = f.Write(s.data)
		require.NoError(t, err)
	}

	_, err = f.Seek(int64(shoff), 0)
	require.NoError(t, err)
	for i, s := range sections {
		sh := make([]byte, shdrSize)
		binary.LittleEndian.PutUint32(sh[0:], nameOffsets[i])
		binary.LittleEndian.PutUint32(sh[4:], s.typ)
		binary.LittleEndian.PutUint64(sh[8:], s.flags)
		binary.LittleEndian.PutUint64(sh[24:], offsets[i])
		binary.LittleEndian.PutUint64(sh[32:], uint64(len(s.data)))
		binary.LittleEndian.PutUint32(sh[40:], s.link)
		binary.LittleEndian.PutUint32(sh[44:], s.info)
		binary.LittleEndian.PutUint64(sh[48:], s.addralign)
		binary.LittleEndian.PutUint64(sh[56:], s.entsize)
		_, err = f.Write(sh)
		require.NoError(t, err)
	}

	return extraIdx
}

const ShfAlloc = shfAlloc
