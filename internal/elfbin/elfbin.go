// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfbin is an adapter around a relocatable ELF64 object (a
// kernel .o) that abstracts away debug/elf's read-only view enough for the
// fixup and gen stages to rename symbols, move relocations into new
// sections, and flush the result back to disk. debug/elf has no write
// path, so section payloads are tracked in owned, in-memory buffers and
// the whole object is relaid out and rewritten on Flush, the same
// "rebuild owned buffers, write once" discipline the predecessor used
// around libelf/gelf.
package elfbin

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"strings"

	"github.com/google/llpatch/internal/command"
)

// Section indices with kernel-livepatch meaning, per the ELF constants table.
const (
	SHN_UNDEF     = 0
	SHN_LIVEPATCH = 0xff20
	SHN_ABS       = 0xfff1
)

// Section flags, including the KLP RELA marker.
const (
	SHF_ALLOC     = 0x2
	SHF_INFO_LINK = 0x40
	SHF_KLP_RELA  = 0x00100000
)

const sym64Size = 24 // sizeof(Elf64_Sym): matches elf.Sym64's Go layout exactly.
const rela64Size = 24 // sizeof(Elf64_Rela): matches elf.Rela64's Go layout exactly.

type section struct {
	name      string
	shType    elf.SectionType
	flags     elf.SectionFlag
	addr      uint64
	link      uint32
	info      uint32
	addralign uint64
	entsize   uint64
	data      []byte
	dirty     bool
}

// Bin is an open, mutable ELF64 little-endian relocatable object.
type Bin struct {
	path       string
	class      elf.Class
	osabi      elf.OSABI
	abiversion uint8
	typ        elf.Type
	machine    elf.Machine
	entry      uint64

	sections    []*section
	symtabIdx   int
	strtabIdx   int
	shstrtabIdx int

	symbols []*Symbol
}

// Open parses filename into a Bin, loading every section's bytes into an
// owned buffer so the original file handle need not stay open.
func Open(filename string) (*Bin, error) {
	ef, err := elf.Open(filename)
	if err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}
	defer ef.Close()

	b := &Bin{
		path:       filename,
		class:      ef.Class,
		osabi:      ef.OSABI,
		abiversion: ef.ABIVersion,
		typ:        ef.Type,
		machine:    ef.Machine,
		entry:      ef.Entry,
	}

	for i, s := range ef.Sections {
		data := []byte{}
		if s.Type != elf.SHT_NOBITS && s.Size > 0 {
			data, err = s.Data()
			if err != nil {
				return nil, command.Wrap(command.FileOpenFailed, err)
			}
		}
		b.sections = append(b.sections, &section{
			name:      s.Name,
			shType:    s.Type,
			flags:     s.Flags,
			addr:      s.Addr,
			link:      s.Link,
			info:      s.Info,
			addralign: s.Addralign,
			entsize:   s.Entsize,
			data:      data,
		})
		if s.Type == elf.SHT_SYMTAB {
			b.symtabIdx = i
		}
		if s.Name == ".shstrtab" {
			b.shstrtabIdx = i
		}
	}
	if b.symtabIdx == 0 {
		return nil, command.Wrap(command.NoSymtab, nil)
	}
	b.strtabIdx = int(b.sections[b.symtabIdx].link)

	if err := b.loadSymbols(); err != nil {
		return nil, err
	}
	return b, nil
}

// Symbol is one ELF64 symbol-table entry, excluding the mandatory leading
// null placeholder, which the iterators here never surface.
type Symbol struct {
	bin   *Bin
	Index int
	Name  string
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

func (b *Bin) loadSymbols() error {
	data := b.sections[b.symtabIdx].data
	n := len(data) / sym64Size
	strtab := b.sections[b.strtabIdx].data

	b.symbols = make([]*Symbol, 0, n-1)
	for i := 1; i < n; i++ {
		raw := data[i*sym64Size : (i+1)*sym64Size]
		var s elf.Sym64
		s.Name = binary.LittleEndian.Uint32(raw[0:4])
		s.Info = raw[4]
		s.Other = raw[5]
		s.Shndx = binary.LittleEndian.Uint16(raw[6:8])
		s.Value = binary.LittleEndian.Uint64(raw[8:16])
		s.Size = binary.LittleEndian.Uint64(raw[16:24])

		b.symbols = append(b.symbols, &Symbol{
			bin:   b,
			Index: i,
			Name:  cString(strtab, s.Name),
			Info:  s.Info,
			Other: s.Other,
			Shndx: s.Shndx,
			Value: s.Value,
			Size:  s.Size,
		})
	}
	return nil
}

func cString(buf []byte, offset uint32) string {
	if int(offset) >= len(buf) {
		return ""
	}
	end := bytes.IndexByte(buf[offset:], 0)
	if end < 0 {
		return string(buf[offset:])
	}
	return string(buf[offset : int(offset)+end])
}

// Symbols returns every symbol in the object, in symbol-table order,
// skipping the mandatory leading null entry.
func (b *Bin) Symbols() []*Symbol { return b.symbols }

// IsUndef reports whether the symbol's section index is SHN_UNDEF.
func (s *Symbol) IsUndef() bool { return s.Shndx == SHN_UNDEF }

// Type returns the symbol's ELF type (STT_*).
func (s *Symbol) Type() elf.SymType { return elf.SymType(s.Info & 0xf) }

// SetSectionIndex rewrites the symbol's st_shndx field, both in the
// in-memory Symbol and in the owned symtab section buffer.
func (s *Symbol) SetSectionIndex(idx uint16) {
	s.Shndx = idx
	data := s.bin.sections[s.bin.symtabIdx].data
	binary.LittleEndian.PutUint16(data[s.Index*sym64Size+6:], idx)
	s.bin.sections[s.bin.symtabIdx].dirty = true
}

// Rename points the symbol's st_name at nameOffset, the offset at which
// newName has already been appended to the buffer the caller will install
// via UpdateSection(bin.StringSectionIndex(), ...).
func (s *Symbol) Rename(nameOffset uint32, newName string) {
	s.Name = newName
	data := s.bin.sections[s.bin.symtabIdx].data
	binary.LittleEndian.PutUint32(data[s.Index*sym64Size:], nameOffset)
	s.bin.sections[s.bin.symtabIdx].dirty = true
}

// StringSectionIndex returns the section index of the symtab's string table.
func (b *Bin) StringSectionIndex() int { return b.strtabIdx }

// UpdateSection replaces the section at idx's contents wholesale.
func (b *Bin) UpdateSection(idx int, data []byte) {
	b.sections[idx].data = append([]byte(nil), data...)
	b.sections[idx].dirty = true
}

// SectionName returns the name of the section at idx.
func (b *Bin) SectionName(idx int) string { return b.sections[idx].name }

// GetSection returns a copy of the raw bytes backing the section at idx.
func (b *Bin) GetSection(idx int) []byte {
	return append([]byte(nil), b.sections[idx].data...)
}

// ModName extracts the kernel module name from the .modinfo section, whose
// payload is a sequence of NUL-terminated "key=value" strings.
func (b *Bin) ModName() (string, error) {
	for _, s := range b.sections {
		if s.name != ".modinfo" {
			continue
		}
		for _, field := range strings.Split(string(s.data), "\x00") {
			if v, ok := strings.CutPrefix(field, "name="); ok {
				return v, nil
			}
		}
	}
	return "", command.Wrap(command.FileOpenFailed, nil)
}

// DefinedSymbolSet returns the set of every symbol name whose section index
// is not SHN_UNDEF — the predecessor's mod_symbol_set.
func (b *Bin) DefinedSymbolSet() map[string]bool {
	set := make(map[string]bool)
	for _, s := range b.symbols {
		if !s.IsUndef() {
			set[s.Name] = true
		}
	}
	return set
}
