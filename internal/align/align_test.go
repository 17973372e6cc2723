// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package align

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// TestRun_GrowOnRight exercises the padding algorithm when the patched side
// gains more lines than the original at one hunk: the original side should
// receive blank-line padding so later line numbers still agree.
func TestRun_GrowOnRight(t *testing.T) {
	dir := t.TempDir()

	original := writeFile(t, dir, "target.c", "line1\nline2\nold\nline4\nline5\n")
	patched := writeFile(t, t.TempDir(), "target.c", "line1\nline2\nnew1\nnew2\nnew3\nline4\nline5\n")
	patchContents := "diff -u a/target.c b/target.c\n" +
		"@@ -1,3 +1,5 @@\n" +
		" line1\n" +
		" line2\n" +
		"-old\n" +
		"+new1\n" +
		"+new2\n" +
		"+new3\n"
	patchFile := writeFile(t, dir, "change.patch", patchContents)

	cmd := New(Params{
		DiffedFile: "target.c",
		Original:   original,
		Patched:    patched,
		PatchFile:  patchFile,
	})
	require.NoError(t, cmd.Run())

	alignedOriginal, err := os.ReadFile(original + DefaultSuffix)
	require.NoError(t, err)
	alignedPatched, err := os.ReadFile(patched + DefaultSuffix)
	require.NoError(t, err)

	// The patched side has 2 more changed lines than the original
	// (5 vs 3), so the original side's padded output grows by 2 blank
	// lines right after the hunk's context, keeping "line4"/"line5" on
	// the same line numbers in both files.
	wantOriginal := "line1\nline2\n\n\nold\nline4\nline5\n"
	assert.Equal(t, wantOriginal, string(alignedOriginal))
	assert.Equal(t, "line1\nline2\nnew1\nnew2\nnew3\nline4\nline5\n", string(alignedPatched))
}

func TestRun_NoOpWhenDiffedFileNotMentioned(t *testing.T) {
	dir := t.TempDir()
	original := writeFile(t, dir, "target.c", "a\nb\nc\n")
	patched := writeFile(t, dir, "target.c", "a\nb\nc\n")
	patchFile := writeFile(t, dir, "change.patch", "diff -u a/other.c b/other.c\n@@ -1,1 +1,1 @@\n-x\n+y\n")

	cmd := New(Params{
		DiffedFile: "target.c",
		Original:   original,
		Patched:    patched,
		PatchFile:  patchFile,
	})
	require.NoError(t, cmd.Run())

	got, err := os.ReadFile(original + DefaultSuffix)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(got))
}
