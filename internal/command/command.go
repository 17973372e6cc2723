// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package command

// Command is a stage that owns its own parsed parameters and does its work
// in Run. align.Command implements it; the diff, gen, and fixup stages
// expose package-level Run(Params) functions instead.
type Command interface {
	Run() error
}

const Usage = `llpatch — Linux kernel livepatch object generator

Usage:
  llpatch align -d DIFFED -p PATCH [-s SUFFIX] <original.c> <patched.c>
  llpatch diff  [-q] [-b BASE_DIR] <original.ll> <patched.ll>
  llpatch gen   -o ODIR -k KDIR -n KLPNAME [-m MOD] [-t THIN_ARCHIVE] [-c CALLBACKS] <klp_patch.o>
  llpatch fixup [-m MOD] [-s SYMBOL_MAP] [-t THIN_ARCHIVE] [-r] [-q] <klp_patch.o>
  llpatch help
`
