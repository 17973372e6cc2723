// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package thinarchive parses `nm -f posix --defined-only` output taken
// over a kernel thin archive and answers (symbol, object-file) -> position
// queries that gen and fixup need to disambiguate duplicate symbol names.
package thinarchive

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/google/llpatch/internal/command"
)

// Index is the built symbol-position table for one thin archive.
type Index struct {
	uniqueSymbols     map[string]bool
	duplicatedSymbols map[string][]string
}

var filePathRe = regexp.MustCompile(`^.+\.a\[.+\.o\]:$`)

// Load builds an Index from filename, or returns (nil, nil) if filename is
// empty — callers treat a nil Index as "no thin archive given".
func Load(filename string) (*Index, error) {
	if filename == "" {
		return nil, nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}
	defer f.Close()

	idx := &Index{
		uniqueSymbols:     map[string]bool{},
		duplicatedSymbols: map[string][]string{},
	}

	dupSymbols := map[string]bool{}
	nonWeakSymbols := map[string]bool{}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, symType := parseSymbolLine(sc.Text())
		if !idx.uniqueSymbols[name] {
			idx.uniqueSymbols[name] = true
			if symType != 'W' {
				nonWeakSymbols[name] = true
			}
			continue
		}
		if symType == 'W' {
			continue
		}
		if nonWeakSymbols[name] {
			dupSymbols[name] = true
		}
		nonWeakSymbols[name] = true
	}
	if err := sc.Err(); err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}
	for name := range dupSymbols {
		delete(idx.uniqueSymbols, name)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}

	sameSymFile := map[string]bool{}
	currentFile := ""
	sc = bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if filePathRe.MatchString(line) {
			start := strings.Index(line, "[") + 1
			end := strings.Index(line, "]")
			currentFile = line[start:end]
			continue
		}

		name := line
		if sp := strings.IndexByte(line, ' '); sp >= 0 {
			name = line[:sp]
		}
		if idx.uniqueSymbols[name] {
			continue
		}

		key := name + currentFile
		if sameSymFile[key] {
			return nil, command.Wrap(command.SameSymbolFilename, nil)
		}
		sameSymFile[key] = true
		idx.duplicatedSymbols[name] = append(idx.duplicatedSymbols[name], currentFile)
	}
	if err := sc.Err(); err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}

	return idx, nil
}

// parseSymbolLine splits an `nm -f posix` line into its symbol name and
// uppercased type, folding weak-object 'V' to weak-symbol 'W'.
func parseSymbolLine(line string) (string, byte) {
	sp := strings.IndexByte(line, ' ')
	name := line
	if sp < 0 {
		return name, '?'
	}
	name = line[:sp]

	rest := strings.TrimLeft(line[sp:], " ")
	if rest == "" {
		return name, '?'
	}
	symType := rest[0]
	if symType >= 'a' && symType <= 'z' {
		symType -= 'a' - 'A'
	}
	if symType == 'V' {
		symType = 'W'
	}
	return name, symType
}

// QuerySymbol returns the 1-based duplicate position of (symbol, filename),
// 0 if symbol is unique in the archive, or -1 if no match was found.
func (idx *Index) QuerySymbol(symbol, filename string) int {
	if idx.uniqueSymbols[symbol] {
		return 0
	}
	if files, ok := idx.duplicatedSymbols[symbol]; ok {
		for i, fn := range files {
			if fn == filename {
				return i + 1
			}
		}
	}
	return -1
}
