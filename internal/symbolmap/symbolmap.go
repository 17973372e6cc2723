// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symbolmap parses the gen-symbol-map output format: lines of
// "<mod_name> <path> <symbol> <alias>" that let livepatch C code declare
// LLPATCH_SYMBOL aliases the fixup stage resolves back to the object's
// real symbols.
package symbolmap

import (
	"bufio"
	"os"
	"strings"

	"github.com/google/llpatch/internal/command"
)

// Entry is the (module, source path, symbol) a symbol-map alias resolves to.
type Entry struct {
	ModName string
	Path    string
	Symbol  string
}

// Map is a loaded symbol-alias table, keyed by alias.
type Map struct {
	entries map[string]Entry
}

// Load parses filename, or returns (nil, nil) if filename is empty —
// callers treat a nil Map as "no symbol map given".
func Load(filename string) (*Map, error) {
	if filename == "" {
		return nil, nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}
	defer f.Close()

	m := &Map{entries: map[string]Entry{}}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		tokens := strings.Fields(line)
		if len(tokens) != 4 {
			return nil, command.Wrap(command.InvalidSymMap, nil)
		}
		m.entries[tokens[3]] = Entry{
			ModName: tokens[0],
			Path:    tokens[1],
			Symbol:  tokens[2],
		}
	}
	if err := sc.Err(); err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}
	return m, nil
}

// QueryAlias resolves alias to its (module, path, symbol) entry.
func (m *Map) QueryAlias(alias string) (Entry, error) {
	e, ok := m.entries[alias]
	if !ok {
		return Entry{}, command.Wrap(command.AliasFindFailed, nil)
	}
	return e, nil
}
