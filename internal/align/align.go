// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package align implements the align pipeline stage: padding original and
// patched C sources with blank lines so __LINE__ expands identically in
// both compilations.
package align

import (
	"bufio"
	"io"
	"os"

	"github.com/google/llpatch/internal/command"
	"github.com/google/llpatch/internal/patchfile"
)

const DefaultSuffix = "__aligned"

// Params are the parsed `align` subcommand flags.
type Params struct {
	DiffedFile string
	Original   string
	Patched    string
	PatchFile  string
	Suffix     string
}

// Command runs the align stage for one (original, patched, patch) triple.
type Command struct {
	Params
}

func New(p Params) *Command {
	if p.Suffix == "" {
		p.Suffix = DefaultSuffix
	}
	return &Command{Params: p}
}

func (c *Command) Run() error {
	patch, err := patchfile.Parse(c.PatchFile, c.DiffedFile)
	if err != nil {
		return err
	}

	if err := alignFile(c.Original, c.Suffix, patch.Original, patch.Patched, patch.Context); err != nil {
		return err
	}
	return alignFile(c.Patched, c.Suffix, patch.Patched, patch.Original, patch.Context)
}

// alignFile writes filename+suffix, padding from's hunks so that wherever
// from has fewer changed lines than to, the gap is filled with blank lines
// right after the hunk's context.
func alignFile(filename, suffix string, from, to []patchfile.Hunk, context []int) error {
	in, err := os.Open(filename)
	if err != nil {
		return command.Wrap(command.FileOpenFailed, err)
	}
	defer in.Close()

	out, err := os.Create(filename + suffix)
	if err != nil {
		return command.Wrap(command.FileOpenFailed, err)
	}
	defer out.Close()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	w := bufio.NewWriter(out)
	defer w.Flush()

	for i := range from {
		if err := copyLines(sc, w, from[i].Offset); err != nil {
			return err
		}
		if from[i].Lines < to[i].Lines {
			if err := copyLines(sc, w, context[i]); err != nil {
				return err
			}
			addEmptyLines(w, to[i].Lines-from[i].Lines)
		}
	}
	if err := copyLines(sc, w, -1); err != nil {
		return err
	}
	return nil
}

// copyLines copies n lines from sc to w verbatim, or to EOF if n < 0.
func copyLines(sc *bufio.Scanner, w io.Writer, n int) error {
	for i := 0; n < 0 || i < n; i++ {
		if !sc.Scan() {
			return sc.Err()
		}
		if _, err := io.WriteString(w, sc.Text()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func addEmptyLines(w io.Writer, n int) {
	for i := 0; i < n; i++ {
		io.WriteString(w, "\n")
	}
}
