// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfbin

import (
	"debug/elf"
	"encoding/binary"
	"os"

	"github.com/google/llpatch/internal/command"
)

const (
	ehdrSize = 64
	shdrSize = 64
)

// AddSection appends a brand-new section with the given name and returns
// its index. Flush looks name up in the section-name string table, so it
// must have been appended there (see AppendSectionName) before Flush.
// Used by CreateKlpRela.
func (b *Bin) AddSection(name string, shType elf.SectionType, flags elf.SectionFlag, link, info uint32, addralign, entsize uint64, data []byte) int {
	b.sections = append(b.sections, &section{
		name:      name,
		shType:    shType,
		flags:     flags,
		link:      link,
		info:      info,
		addralign: addralign,
		entsize:   entsize,
		data:      data,
		dirty:     true,
	})
	return len(b.sections) - 1
}

// AppendSectionName appends name (plus a trailing NUL) to the section-name
// string table buffer, returning the offset the new section header should
// use for sh_name. The caller is expected to follow up with
// UpdateSection(bin.ShstrtabIndex(), buf) once every name has been appended.
func (b *Bin) AppendSectionName(buf []byte, name string) ([]byte, uint32) {
	offset := uint32(len(buf))
	buf = append(buf, []byte(name)...)
	buf = append(buf, 0)
	return buf, offset
}

// ShstrtabIndex returns the section index of the section-name string table.
func (b *Bin) ShstrtabIndex() int { return b.shstrtabIdx }

// Flush relays out every section sequentially after the ELF header and
// rewrites the file in place. There are no program headers to preserve:
// every object this adapter touches is ET_REL (a relocatable .o), which
// the kernel build always re-links before use. Failing to call Flush
// silently discards every pending mutation.
func (b *Bin) Flush() error {
	offset := uint64(ehdrSize)
	type laidOut struct {
		s      *section
		offset uint64
		size   uint64
	}
	laid := make([]laidOut, len(b.sections))

	for i, s := range b.sections {
		if i == 0 {
			laid[i] = laidOut{s: s, offset: 0, size: 0}
			continue
		}
		if s.shType == elf.SHT_NOBITS || len(s.data) == 0 {
			laid[i] = laidOut{s: s, offset: offset, size: uint64(len(s.data))}
			continue
		}
		align := s.addralign
		if align == 0 {
			align = 1
		}
		if rem := offset % align; rem != 0 {
			offset += align - rem
		}
		laid[i] = laidOut{s: s, offset: offset, size: uint64(len(s.data))}
		offset += uint64(len(s.data))
	}

	shoff := offset
	if rem := shoff % 8; rem != 0 {
		shoff += 8 - rem
	}

	f, err := os.Create(b.path)
	if err != nil {
		return command.Wrap(command.FileOpenFailed, err)
	}
	defer f.Close()

	hdr := make([]byte, ehdrSize)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = byte(b.class)
	hdr[5] = 1 // ELFDATA2LSB
	hdr[6] = 1 // EV_CURRENT
	hdr[7] = byte(b.osabi)
	hdr[8] = b.abiversion
	binary.LittleEndian.PutUint16(hdr[16:], uint16(b.typ))
	binary.LittleEndian.PutUint16(hdr[18:], uint16(b.machine))
	binary.LittleEndian.PutUint32(hdr[20:], 1) // EV_CURRENT
	binary.LittleEndian.PutUint64(hdr[24:], b.entry)
	binary.LittleEndian.PutUint64(hdr[32:], 0) // e_phoff: no program headers
	binary.LittleEndian.PutUint64(hdr[40:], shoff)
	binary.LittleEndian.PutUint16(hdr[52:], ehdrSize)
	binary.LittleEndian.PutUint16(hdr[54:], 0) // e_phentsize
	binary.LittleEndian.PutUint16(hdr[56:], 0) // e_phnum
	binary.LittleEndian.PutUint16(hdr[58:], shdrSize)
	binary.LittleEndian.PutUint16(hdr[60:], uint16(len(b.sections)))
	binary.LittleEndian.PutUint16(hdr[62:], uint16(b.shstrtabIdx))
	if _, err := f.Write(hdr); err != nil {
		return command.Wrap(command.FileOpenFailed, err)
	}

	for _, lo := range laid {
		if lo.s.shType == elf.SHT_NOBITS || len(lo.s.data) == 0 {
			continue
		}
		if _, err := f.Seek(int64(lo.offset), 0); err != nil {
			return command.Wrap(command.FileOpenFailed, err)
		}
		if _, err := f.Write(lo.s.data); err != nil {
			return command.Wrap(command.FileOpenFailed, err)
		}
	}

	if _, err := f.Seek(int64(shoff), 0); err != nil {
		return command.Wrap(command.FileOpenFailed, err)
	}
	for i, lo := range laid {
		sh := make([]byte, shdrSize)
		nameOff := uint32(0)
		if i != 0 {
			nameOff = b.sectionNameOffset(lo.s.name)
		}
		binary.LittleEndian.PutUint32(sh[0:], nameOff)
		binary.LittleEndian.PutUint32(sh[4:], uint32(lo.s.shType))
		binary.LittleEndian.PutUint64(sh[8:], uint64(lo.s.flags))
		binary.LittleEndian.PutUint64(sh[16:], lo.s.addr)
		binary.LittleEndian.PutUint64(sh[24:], lo.offset)
		binary.LittleEndian.PutUint64(sh[32:], uint64(len(lo.s.data)))
		binary.LittleEndian.PutUint32(sh[40:], lo.s.link)
		binary.LittleEndian.PutUint32(sh[44:], lo.s.info)
		binary.LittleEndian.PutUint64(sh[48:], lo.s.addralign)
		binary.LittleEndian.PutUint64(sh[56:], lo.s.entsize)
		if _, err := f.Write(sh); err != nil {
			return command.Wrap(command.FileOpenFailed, err)
		}
	}

	for _, s := range b.sections {
		s.dirty = false
	}
	return nil
}

// sectionNameOffset finds name's NUL-terminated offset inside the already
// (possibly just-updated) shstrtab buffer.
func (b *Bin) sectionNameOffset(name string) uint32 {
	buf := b.sections[b.shstrtabIdx].data
	needle := append([]byte(name), 0)
	for i := 0; i+len(needle) <= len(buf); i++ {
		if string(buf[i:i+len(needle)]) == string(needle) {
			if i == 0 || buf[i-1] == 0 {
				return uint32(i)
			}
		}
	}
	return 0
}

// Close releases resources. Flush must be called first for any mutation to
// survive; Close performs no implicit flush, mirroring the predecessor's
// explicit ElfUpdate-before-destruction discipline.
func (b *Bin) Close() error { return nil }
