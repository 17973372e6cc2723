// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fixup implements the fixup pipeline stage's two mutually
// exclusive modes: renaming undefined symbols to their final KLP form, and
// splitting relocations against those symbols into dedicated KLP rela
// sections.
package fixup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/llpatch/internal/command"
	"github.com/google/llpatch/internal/elfbin"
	"github.com/google/llpatch/internal/logging"
	"github.com/google/llpatch/internal/symbolmap"
	"github.com/google/llpatch/internal/thinarchive"
)

const (
	klpPrefix     = ".klp.sym."
	klpRelaPrefix = ".klp.rela."
	objVmlinux    = "vmlinux."
	klpLocalSym   = "klp.local.sym"
	llpatchSymbol = "__llpatch_symbol_"
)

// Params are the parsed `fixup` subcommand flags.
type Params struct {
	KlpPatchFile string
	ModFile      string
	SymbolMap    string
	ThinArchive  string
	CreateRela   bool
	Quiet        bool
}

func Run(p Params) error {
	logging.SetQuiet(p.Quiet)

	bin, err := elfbin.Open(p.KlpPatchFile)
	if err != nil {
		return err
	}
	defer bin.Close()

	if p.CreateRela {
		if err := createKlpRela(bin); err != nil {
			return err
		}
	} else {
		if err := renameKlpSymbols(bin, p); err != nil {
			return err
		}
	}
	return bin.Flush()
}

// renameKlpSymbols is the rename-symbols mode (§4.4.1 plus the NEW §4.4.3
// symbol-map resolution branch), mirroring RenameKlpSymbols.
func renameKlpSymbols(bin *elfbin.Bin, p Params) error {
	modSymbolSet := map[string]bool{}
	modName := objVmlinux
	if p.ModFile != "" {
		modBin, err := elfbin.Open(p.ModFile)
		if err != nil {
			return err
		}
		defer modBin.Close()
		modSymbolSet = modBin.DefinedSymbolSet()
		name, err := modBin.ModName()
		if err != nil {
			return err
		}
		modName = name + "."
	}

	tar, err := thinarchive.Load(p.ThinArchive)
	if err != nil {
		return err
	}
	symMap, err := symbolmap.Load(p.SymbolMap)
	if err != nil {
		return err
	}

	// Symbol table entry 0 is the dummy symbol; the rebuilt string table
	// starts with its NUL the same way.
	nameBuf := []byte{0}

	rename := func(sym *elfbin.Symbol, newName string) {
		offset := uint32(len(nameBuf))
		nameBuf = append(nameBuf, []byte(newName)...)
		nameBuf = append(nameBuf, 0)
		sym.Rename(offset, newName)
	}

	for _, sym := range bin.Symbols() {
		if !sym.IsUndef() || sym.Name == "__fentry__" {
			rename(sym, sym.Name)
			continue
		}

		realName := sym.Name
		srcFile := ""

		switch {
		case symMap != nil:
			if !strings.HasPrefix(sym.Name, llpatchSymbol) {
				// With a symbol map given, only llpatch symbols may
				// become KLP symbols; anything else is a foreign export.
				rename(sym, realName)
				continue
			}
			alias := strings.TrimPrefix(sym.Name, llpatchSymbol)
			entry, err := symMap.QueryAlias(alias)
			if err != nil {
				return err
			}
			realName = entry.Symbol
			srcFile = entry.Path
			modName = entry.ModName + "."

		default:
			if strings.HasPrefix(sym.Name, llpatchSymbol) {
				return command.Wrap(command.NoSymMap, fmt.Errorf("symbol %q", sym.Name))
			}
			isLocal := strings.HasPrefix(sym.Name, klpLocalSym+":")
			if isLocal {
				parts := strings.SplitN(sym.Name, ":", 3)
				if len(parts) == 3 {
					realName = parts[1]
					srcFile = parts[2]
				}
			}
			if !isLocal && !modSymbolSet[realName] {
				// Not a klp.local.sym: reference and not defined by the
				// given kernel module (vmlinux has no defined-symbol set),
				// which means it's resolved by an EXPORTed symbol in some
				// other object. Leave it as a foreign reference.
				rename(sym, realName)
				continue
			}
		}

		sym.SetSectionIndex(elfbin.SHN_LIVEPATCH)

		pos := 0
		if tar != nil {
			filename := objectFileName(srcFile)
			pos = tar.QuerySymbol(realName, filename)
			if pos < 0 {
				return command.Wrap(command.SymFindFailed, fmt.Errorf("symbol %q, filename %q", realName, filename))
			}
		}

		newName := klpPrefix + modName + realName + "," + strconv.Itoa(pos)
		logging.Info("KLP Symbols:: %s --> %s", realName, newName)
		rename(sym, newName)
	}

	bin.UpdateSection(bin.StringSectionIndex(), nameBuf)
	return nil
}

// objectFileName derives the "<base>.o" thin-archive key from a source
// path like "drivers/x.c".
func objectFileName(srcFile string) string {
	base := srcFile
	if dot := strings.LastIndex(base, "."); dot >= 0 {
		base = base[:dot]
	}
	return base + ".o"
}

// createKlpRela is the create-KLP-rela mode (§4.4.2), mirroring CreateKlpRela.
func createKlpRela(bin *elfbin.Bin) error {
	type bucketKey struct {
		mod       string
		sectionID int
	}
	buckets := map[bucketKey][]elfbin.RelaEntry{}
	symtabOf := map[int]int{}

	for _, rs := range bin.RelaSections() {
		var kept []elfbin.RelaEntry
		for _, e := range rs.Entries {
			name := bin.SymbolName(e)
			if !strings.HasPrefix(name, klpPrefix) {
				kept = append(kept, e)
				continue
			}
			bin.SetRelaSymbolSection(e, elfbin.SHN_LIVEPATCH)

			modEnd := strings.Index(name[len(klpPrefix):], ".")
			mod := name[len(klpPrefix):]
			if modEnd >= 0 {
				mod = name[len(klpPrefix) : len(klpPrefix)+modEnd]
			}

			key := bucketKey{mod: mod, sectionID: rs.SectionID}
			buckets[key] = append(buckets[key], e)
			symtabOf[rs.SectionID] = rs.SymtabID
		}
		bin.UpdateRela(rs.Index, kept)
	}

	if err := bin.Flush(); err != nil {
		return err
	}

	strbuf := bin.GetSection(bin.ShstrtabIndex())
	for key, entries := range buckets {
		name := klpRelaPrefix + key.mod + "." + bin.SectionName(key.sectionID)
		var offset uint32
		strbuf, offset = bin.AppendSectionName(strbuf, name)
		_ = offset
		logging.Info("KLP rela section:: %s", name)
		bin.CreateKlpRela(key.sectionID, symtabOf[key.sectionID], name, entries)
	}
	bin.UpdateSection(bin.ShstrtabIndex(), strbuf)

	return nil
}
