// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbolmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/llpatch/internal/command"
)

func writeMap(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "symbol_map.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_EmptyFilename(t *testing.T) {
	m, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestQueryAlias_RoundTrip(t *testing.T) {
	path := writeMap(t, "test_mod drivers/test/attr.c fruit my_fruit\n")
	m, err := Load(path)
	require.NoError(t, err)

	entry, err := m.QueryAlias("my_fruit")
	require.NoError(t, err)
	assert.Equal(t, Entry{ModName: "test_mod", Path: "drivers/test/attr.c", Symbol: "fruit"}, entry)
}

func TestQueryAlias_Miss(t *testing.T) {
	path := writeMap(t, "test_mod drivers/test/attr.c fruit my_fruit\n")
	m, err := Load(path)
	require.NoError(t, err)

	_, err = m.QueryAlias("no_such_alias")
	var ce *command.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, command.AliasFindFailed, ce.Code)
}

func TestLoad_MalformedLine(t *testing.T) {
	path := writeMap(t, "only three tokens\n")
	_, err := Load(path)
	var ce *command.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, command.InvalidSymMap, ce.Code)
}
