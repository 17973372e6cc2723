// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command llpatch drives the align/diff/gen/fixup pipeline that turns a
// unified diff of kernel C source into a buildable kernel livepatch
// module.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/google/llpatch/internal/align"
	"github.com/google/llpatch/internal/command"
	"github.com/google/llpatch/internal/fixup"
	"github.com/google/llpatch/internal/gen"
	"github.com/google/llpatch/internal/irdiff"
	"github.com/google/llpatch/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	err := root.Execute()
	return command.ExitCode(err)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "llpatch",
		Short:        "Generate a kernel livepatch module from a source diff",
		Long:         command.Usage,
		SilenceUsage: true,
	}
	root.AddCommand(
		newAlignCommand(),
		newDiffCommand(),
		newGenCommand(),
		newFixupCommand(),
	)
	return root
}

func newAlignCommand() *cobra.Command {
	var diffed, patch, suffix string
	cmd := &cobra.Command{
		Use:   "align -d DIFFED -p PATCH [-s SUFFIX] <original.c> <patched.c>",
		Short: "Pad original/patched C so shared __LINE__ values agree",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if diffed == "" || patch == "" {
				return command.Wrap(command.NotEnoughArgs, fmt.Errorf("-d and -p are required"))
			}
			return align.New(align.Params{
				DiffedFile: diffed,
				Original:   args[0],
				Patched:    args[1],
				PatchFile:  patch,
				Suffix:     suffix,
			}).Run()
		},
	}
	cmd.Flags().StringVarP(&diffed, "diffed-file", "d", "", "path as it appears in the diff header")
	cmd.Flags().StringVarP(&patch, "patch", "p", "", "unified diff file")
	cmd.Flags().StringVarP(&suffix, "suffix", "s", align.DefaultSuffix, "suffix appended to each aligned output file")
	return cmd
}

func newDiffCommand() *cobra.Command {
	var quiet bool
	var baseDir string
	cmd := &cobra.Command{
		Use:   "diff [-q] [-b BASE_DIR] <original.ll> <patched.ll>",
		Short: "Classify and rename functions/globals that differ between two IR modules",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			logging.SetQuiet(quiet)
			out, err := irdiff.Run(irdiff.Params{
				OriginalPath: args[0],
				PatchedPath:  args[1],
				BaseDir:      baseDir,
				Quiet:        quiet,
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational logging")
	cmd.Flags().StringVarP(&baseDir, "base-dir", "b", "", "directory source paths are relativized against")
	return cmd
}

func newGenCommand() *cobra.Command {
	var outDir, kernelDir, klpName, modFile, thinArchive, callbacks string
	cmd := &cobra.Command{
		Use:   "gen -o ODIR -k KDIR -n KLPNAME [-m MOD] [-t THIN_ARCHIVE] [-c CALLBACKS] <klp_patch.o>",
		Short: "Generate the livepatch wrapper, linker script, and Makefile",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if outDir == "" || kernelDir == "" || klpName == "" {
				return command.Wrap(command.NotEnoughArgs, fmt.Errorf("-o, -k, and -n are required"))
			}
			return gen.Run(gen.Params{
				KlpPatchFile: args[0],
				OutDir:       outDir,
				KernelDir:    kernelDir,
				KlpModName:   klpName,
				ModFile:      modFile,
				ThinArchive:  thinArchive,
				Callbacks:    callbacks,
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "outdir", "o", "", "output directory")
	cmd.Flags().StringVarP(&kernelDir, "kdir", "k", "", "path to the Linux kernel source tree")
	cmd.Flags().StringVarP(&klpName, "name", "n", "", "name of the generated livepatch module")
	cmd.Flags().StringVarP(&modFile, "mod", "m", "", "kernel module object the patch targets")
	cmd.Flags().StringVarP(&thinArchive, "thin-archive", "t", "", "nm -f posix output over the kernel's thin archive")
	cmd.Flags().StringVarP(&callbacks, "callbacks", "c", "", "custom llpatch-callbacks.c source")
	return cmd
}

func newFixupCommand() *cobra.Command {
	var modFile, symbolMap, thinArchive string
	var createRela, quiet bool
	cmd := &cobra.Command{
		Use:   "fixup [-m MOD] [-s SYMBOL_MAP] [-t THIN_ARCHIVE] [-r] [-q] <klp_patch.o>",
		Short: "Rename undefined symbols to KLP form, or split their relocations into .klp.rela sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return fixup.Run(fixup.Params{
				KlpPatchFile: args[0],
				ModFile:      modFile,
				SymbolMap:    symbolMap,
				ThinArchive:  thinArchive,
				CreateRela:   createRela,
				Quiet:        quiet,
			})
		},
	}
	cmd.Flags().StringVarP(&modFile, "mod", "m", "", "kernel module object the patch targets")
	cmd.Flags().StringVarP(&symbolMap, "symbol-map", "s", "", "gen-symbol-map output resolving __llpatch_symbol_ references")
	cmd.Flags().StringVarP(&thinArchive, "thin-archive", "t", "", "nm -f posix output over the kernel's thin archive")
	cmd.Flags().BoolVarP(&createRela, "create-rela", "r", false, "split relocations against KLP symbols into new .klp.rela sections")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational logging")
	return cmd
}
