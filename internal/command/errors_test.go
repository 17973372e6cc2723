// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, int(SymFindFailed), ExitCode(Wrap(SymFindFailed, nil)))
	assert.Equal(t, 1, ExitCode(errors.New("unrelated")))
}

func TestExitCode_UnwrapsWrappedError(t *testing.T) {
	wrapped := errors.New("root cause")
	err := Wrap(NoSymtab, wrapped)
	var outer error = errors.New("context: " + err.Error())
	assert.Equal(t, 1, ExitCode(outer)) // a plain string-wrapped error has no Code to recover

	assert.ErrorIs(t, err, wrapped)
	assert.Equal(t, int(NoSymtab), ExitCode(err))
}
