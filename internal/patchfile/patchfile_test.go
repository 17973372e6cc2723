// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patchfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePatch(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "change.patch")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParse_NoOpWhenFileNotMentioned(t *testing.T) {
	patch := writePatch(t, "diff --git a/other.c b/other.c\n@@ -1,1 +1,1 @@\n-a\n+b\n")
	p, err := Parse(patch, "target.c")
	require.NoError(t, err)
	assert.Empty(t, p.Original)
	assert.Empty(t, p.Patched)
}

func TestParse_SingleHunk(t *testing.T) {
	contents := "diff -u a/target.c b/target.c\n" +
		"@@ -10,2 +10,4 @@\n" +
		" context one\n" +
		" context two\n" +
		"-old line\n" +
		"+new line one\n" +
		"+new line two\n"
	patch := writePatch(t, contents)
	p, err := Parse(patch, "target.c")
	require.NoError(t, err)

	require.Len(t, p.Original, 1)
	require.Len(t, p.Patched, 1)
	assert.Equal(t, Hunk{Offset: 10, Lines: 2}, p.Original[0])
	assert.Equal(t, Hunk{Offset: 10, Lines: 4}, p.Patched[0])
	assert.Equal(t, []int{1}, p.Context)
}

func TestParse_SecondHunkOffsetIsRelativeToFirstHunkEnd(t *testing.T) {
	contents := "diff -u a/target.c b/target.c\n" +
		"@@ -10,2 +10,2 @@\n" +
		" ctx\n" +
		"-old\n" +
		"+new\n" +
		"@@ -20,1 +20,1 @@\n" +
		" ctx\n" +
		"-old2\n" +
		"+new2\n"
	patch := writePatch(t, contents)
	p, err := Parse(patch, "target.c")
	require.NoError(t, err)

	require.Len(t, p.Original, 2)
	assert.Equal(t, 10, p.Original[0].Offset)
	// second hunk's absolute offset is 20; first hunk ends at 10+2=12, so
	// the relative offset is 20-12=8.
	assert.Equal(t, 8, p.Original[1].Offset)
}
