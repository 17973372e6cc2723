// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfbin

import (
	"debug/elf"
	"encoding/binary"
)

// RelaEntry is one ELF64 relocation-with-addend entry.
type RelaEntry struct {
	Off    uint64
	Info   uint64
	Addend int64
}

func (e RelaEntry) symIndex() uint32 { return uint32(e.Info) }
func (e RelaEntry) relType() uint32  { return uint32(e.Info >> 32) }

// RelaSection is one SHT_RELA section whose target section carries
// SHF_ALLOC — the only kind the kernel loader preserves long enough for a
// KLP relocation to fire against.
type RelaSection struct {
	bin        *Bin
	Index      int
	SectionID  int // sh_info: the section this rela section relocates
	SymtabID   int // sh_link
	Entries    []RelaEntry
}

// RelaSections returns every alloc-targeted RELA section in the object.
func (b *Bin) RelaSections() []*RelaSection {
	var out []*RelaSection
	for i, s := range b.sections {
		if s.shType != elf.SHT_RELA {
			continue
		}
		target := b.sections[s.info]
		if target.flags&SHF_ALLOC == 0 {
			continue
		}
		out = append(out, &RelaSection{
			bin:       b,
			Index:     i,
			SectionID: int(s.info),
			SymtabID:  int(s.link),
			Entries:   decodeRelas(s.data),
		})
	}
	return out
}

func decodeRelas(data []byte) []RelaEntry {
	n := len(data) / rela64Size
	entries := make([]RelaEntry, n)
	for i := 0; i < n; i++ {
		raw := data[i*rela64Size : (i+1)*rela64Size]
		entries[i] = RelaEntry{
			Off:    binary.LittleEndian.Uint64(raw[0:8]),
			Info:   binary.LittleEndian.Uint64(raw[8:16]),
			Addend: int64(binary.LittleEndian.Uint64(raw[16:24])),
		}
	}
	return entries
}

func encodeRelas(entries []RelaEntry) []byte {
	buf := make([]byte, len(entries)*rela64Size)
	for i, e := range entries {
		off := i * rela64Size
		binary.LittleEndian.PutUint64(buf[off:], e.Off)
		binary.LittleEndian.PutUint64(buf[off+8:], e.Info)
		binary.LittleEndian.PutUint64(buf[off+16:], uint64(e.Addend))
	}
	return buf
}

// SymbolName returns the name of the symbol an entry relocates against.
func (b *Bin) SymbolName(e RelaEntry) string {
	idx := int(e.symIndex())
	if idx == 0 || idx > len(b.symbols) {
		return ""
	}
	// symbols[] is 0-indexed for symtab entry 1 (the dummy entry is never
	// surfaced), so symtab index idx maps to symbols[idx-1].
	return b.symbols[idx-1].Name
}

// UpdateRela replaces a RELA section's entries wholesale, used to rewrite
// a section in place once its livepatched entries have been pulled out.
func (b *Bin) UpdateRela(sectionIndex int, entries []RelaEntry) {
	b.UpdateSection(sectionIndex, encodeRelas(entries))
}

// CreateKlpRela appends a brand-new KLP relocation section targeting
// sectionID, linked to symtabID, named name (which must also be appended
// to the section-name string table before Flush), carrying entries.
func (b *Bin) CreateKlpRela(sectionID, symtabID int, name string, entries []RelaEntry) int {
	return b.AddSection(
		name,
		elf.SHT_RELA,
		SHF_ALLOC|SHF_INFO_LINK|SHF_KLP_RELA,
		uint32(symtabID),
		uint32(sectionID),
		8,
		rela64Size,
		encodeRelas(entries),
	)
}

// SetRelaSymbolSection sets the section index of the symbol an entry
// relocates against — used to mark a symbol LIVEPATCH once its relocation
// is pulled into a KLP rela section.
func (b *Bin) SetRelaSymbolSection(e RelaEntry, idx uint16) {
	symIdx := int(e.symIndex())
	if symIdx == 0 || symIdx > len(b.symbols) {
		return
	}
	b.symbols[symIdx-1].SetSectionIndex(idx)
}
