// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package patchfile parses the unified-diff hunk headers the align stage
// needs: the (offset, lines-changed) pair on each side of every hunk that
// touches a given filename, plus each hunk's leading context-line count.
package patchfile

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/llpatch/internal/command"
)

// Hunk is one side's (relative offset, lines changed) pair: offsets are
// stored relative to the end of the previous hunk on the same side; the
// first hunk's relative offset equals its absolute offset.
type Hunk struct {
	Offset int
	Lines  int
}

// Patch holds the parsed hunk pairs for both sides of a diffed file plus
// the per-hunk context-line count shared by both sides.
type Patch struct {
	Original []Hunk
	Patched  []Hunk
	Context  []int
}

var (
	diffHeadRe = regexp.MustCompile(`^diff -`)
	hunkRe     = regexp.MustCompile(`^@@`)
	pairRe     = regexp.MustCompile(`^[-+](\d+),(\d+)$`)
)

// Parse locates the diff section for diffedFile inside patchPath and
// returns its hunks. An empty Patch (no error) is returned when diffedFile
// never appears in the patch — an intentional no-op, e.g. a changed header
// pulled in by a C file.
func Parse(patchPath, diffedFile string) (*Patch, error) {
	f, err := os.Open(patchPath)
	if err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	fileHeadRe := regexp.MustCompile(`^diff -.*` + regexp.QuoteMeta(diffedFile) + `.*`)
	if !skipTo(sc, fileHeadRe, nil) {
		return &Patch{}, nil
	}

	patch := &Patch{}
	for {
		line, ok := skipToLine(sc, hunkRe, diffHeadRe)
		if !ok {
			break
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, command.Wrap(command.InvalidPatchFile, nil)
		}
		orig, err := parsePair(fields[1])
		if err != nil {
			return nil, err
		}
		pat, err := parsePair(fields[2])
		if err != nil {
			return nil, err
		}
		patch.Original = append(patch.Original, orig)
		patch.Patched = append(patch.Patched, pat)

		context := 0
		for sc.Scan() {
			l := sc.Text()
			if strings.HasPrefix(l, "-") || strings.HasPrefix(l, "+") {
				break
			}
			context++
		}
		if context > 0 {
			context--
		}
		patch.Context = append(patch.Context, context)
	}

	toRelative(patch.Original)
	toRelative(patch.Patched)
	return patch, nil
}

func parsePair(field string) (Hunk, error) {
	m := pairRe.FindStringSubmatch(field)
	if m == nil {
		return Hunk{}, command.Wrap(command.InvalidPatchFile, nil)
	}
	offset, err := strconv.Atoi(m[1])
	if err != nil {
		return Hunk{}, command.Wrap(command.InvalidPatchFile, err)
	}
	lines, err := strconv.Atoi(m[2])
	if err != nil {
		return Hunk{}, command.Wrap(command.InvalidPatchFile, err)
	}
	return Hunk{Offset: offset, Lines: lines}, nil
}

// toRelative converts each hunk's absolute offset into the count of lines
// since the previous hunk ended.
func toRelative(hunks []Hunk) {
	end := 0
	for i, h := range hunks {
		abs := h.Offset
		hunks[i].Offset = abs - end
		end = abs + h.Lines
	}
}

// skipTo advances sc until a line matches marker, returning true if found
// (leaving the matched line consumed) or false at EOF.
func skipTo(sc *bufio.Scanner, marker, stopper *regexp.Regexp) bool {
	_, ok := skipToLine(sc, marker, stopper)
	return ok
}

// skipToLine advances sc until a line matches marker, returning that line
// and true, or "" and false if stopper matches first or EOF is reached
// before marker does.
func skipToLine(sc *bufio.Scanner, marker, stopper *regexp.Regexp) (string, bool) {
	for sc.Scan() {
		line := sc.Text()
		if marker.MatchString(line) {
			return line, true
		}
		if stopper != nil && stopper.MatchString(line) {
			return "", false
		}
	}
	return "", false
}
