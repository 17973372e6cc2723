// Copyright (c) 2024 Google LLC
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gen implements the gen pipeline stage: scanning a compiled
// livepatch object for livepatched functions, expanding the wrapper,
// linker-script, and Makefile templates, and stripping the source-file
// suffixes the diff stage introduced.
package gen

import (
	"bufio"
	"embed"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/google/llpatch/internal/command"
	"github.com/google/llpatch/internal/elfbin"
	"github.com/google/llpatch/internal/logging"
	"github.com/google/llpatch/internal/thinarchive"
)

//go:embed templates/*.tmpl
var embedded embed.FS

const (
	livepatchPrefixElf  = "__livepatch_"
	livepatchPrefixTmpl = "livepatch_"
)

// Params are the parsed `gen` subcommand flags.
type Params struct {
	KlpPatchFile string
	OutDir       string
	KernelDir    string
	KlpModName   string
	ModFile      string
	ThinArchive  string
	Callbacks    string
}

type klpFunc struct {
	Name    string
	SrcFile string
}

func Run(p Params) error {
	bin, err := elfbin.Open(p.KlpPatchFile)
	if err != nil {
		return err
	}
	defer bin.Close()

	var funcs []klpFunc
	for _, sym := range bin.Symbols() {
		if sym.Name == "" || !strings.HasPrefix(sym.Name, livepatchPrefixElf) {
			continue
		}
		rest := sym.Name[1:]
		if strings.Contains(rest, livepatchPrefixElf) {
			return command.Wrap(command.InvalidKlpPrefix, nil)
		}
		body := strings.TrimPrefix(sym.Name, livepatchPrefixElf)
		name, srcFile, _ := strings.Cut(body, ":")
		funcs = append(funcs, klpFunc{Name: name, SrcFile: srcFile})
	}
	if len(funcs) == 0 {
		logging.Info("There are no livepatched functions.")
		return command.Wrap(command.NothingToPatch, nil)
	}

	modName := ""
	if p.ModFile != "" {
		modBin, err := elfbin.Open(p.ModFile)
		if err != nil {
			return err
		}
		defer modBin.Close()
		modName, err = modBin.ModName()
		if err != nil {
			return err
		}
	}

	tar, err := thinarchive.Load(p.ThinArchive)
	if err != nil {
		return err
	}

	if err := generateWrapper(p, funcs, modName, tar); err != nil {
		return err
	}
	if err := generateLdScript(p, funcs); err != nil {
		return err
	}
	if err := generateMakefile(p); err != nil {
		return err
	}
	if err := copyCallbackSurface(p); err != nil {
		return err
	}
	if err := fixupKlpSymbols(bin); err != nil {
		return err
	}
	return bin.Flush()
}

// templateReader opens name, preferring a file system override next to the
// executable (the templates/ directory the predecessor resolved off
// /proc/self/exe) and falling back to the go:embed copy shipped in the
// binary.
func templateReader(name string) (io.ReadCloser, error) {
	if exe, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exe), "templates", name)
		if f, err := os.Open(path); err == nil {
			return f, nil
		}
	}
	f, err := embedded.Open("templates/" + name)
	if err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}
	return f, nil
}

func openOut(dir, name string) (*os.File, error) {
	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, command.Wrap(command.FileOpenFailed, err)
	}
	return out, nil
}

// dumpToMarker copies lines from sc to out until a line contains marker,
// returning that line (without writing it) or "" at EOF. An empty marker
// copies to EOF, mirroring the predecessor's DumpToMarker(""). Sequential
// calls sharing the same sc resume where the previous call left off, so a
// template with several markers is handled by one scanner across several
// calls.
func dumpToMarker(sc *bufio.Scanner, out io.Writer, marker string) (string, error) {
	for sc.Scan() {
		line := sc.Text()
		if marker != "" && strings.Contains(line, marker) {
			return line, nil
		}
		if _, err := io.WriteString(out, line+"\n"); err != nil {
			return "", err
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", nil
}

func generateWrapper(p Params, funcs []klpFunc, modName string, tar *thinarchive.Index) error {
	const (
		funcMarker   = "{{LIST_OF_LIVEPATCH_FUNCTIONS}}"
		structMarker = "{{LIST_FOR_KLP_FUNC_STRUCT}}"
		objMarker    = "{{NAME_OF_OBJECT}}"
	)

	tmpl, err := templateReader("livepatch.c.tmpl")
	if err != nil {
		return err
	}
	defer tmpl.Close()
	out, err := openOut(p.OutDir, "livepatch.c")
	if err != nil {
		return err
	}
	defer out.Close()

	sc := bufio.NewScanner(tmpl)

	if _, err := dumpToMarker(sc, out, funcMarker); err != nil {
		return err
	}
	for _, fn := range funcs {
		io.WriteString(out, "void "+livepatchPrefixTmpl+fn.Name+"(void);\n")
	}

	if _, err := dumpToMarker(sc, out, structMarker); err != nil {
		return err
	}
	for _, fn := range funcs {
		pos := 0
		if tar != nil {
			pos = tar.QuerySymbol(fn.Name, objectFileName(fn.SrcFile))
		}
		io.WriteString(out, "\t{\n")
		io.WriteString(out, "\t\t.old_name = \""+fn.Name+"\",\n")
		io.WriteString(out, "\t\t.new_func = "+livepatchPrefixTmpl+fn.Name+",\n")
		io.WriteString(out, "\t\t.old_sympos = "+strconv.Itoa(pos)+",\n")
		io.WriteString(out, "\t},\n")
	}

	if _, err := dumpToMarker(sc, out, objMarker); err != nil {
		return err
	}
	name := "NULL"
	if modName != "" {
		name = "\"" + modName + "\""
	}
	io.WriteString(out, "\t\t.name = "+name+",\n")

	_, err = dumpToMarker(sc, out, "")
	return err
}

func generateLdScript(p Params, funcs []klpFunc) error {
	tmpl, err := templateReader("livepatch.lds.tmpl")
	if err != nil {
		return err
	}
	defer tmpl.Close()
	out, err := openOut(p.OutDir, "livepatch.lds")
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := dumpToMarker(bufio.NewScanner(tmpl), out, ""); err != nil {
		return err
	}
	for _, fn := range funcs {
		io.WriteString(out, livepatchPrefixTmpl+fn.Name+" = "+livepatchPrefixElf+fn.Name+";\n")
	}
	return nil
}

func generateMakefile(p Params) error {
	const (
		kernelMarker = "{{PATH_TO_LINUX_KERNEL_SOURCE_TREE}}"
		nameMarker   = "{{NAME_OF_LIVEPATCH}}"
	)

	tmpl, err := templateReader("Makefile.tmpl")
	if err != nil {
		return err
	}
	defer tmpl.Close()
	out, err := openOut(p.OutDir, "Makefile")
	if err != nil {
		return err
	}
	defer out.Close()

	sc := bufio.NewScanner(tmpl)

	line, err := dumpToMarker(sc, out, kernelMarker)
	if err != nil {
		return err
	}
	io.WriteString(out, "# "+uuid.NewString()+"\n")
	io.WriteString(out, strings.Split(line, kernelMarker)[0]+p.KernelDir+"\n")

	line, err = dumpToMarker(sc, out, nameMarker)
	if err != nil {
		return err
	}
	io.WriteString(out, strings.ReplaceAll(line, nameMarker, p.KlpModName)+"\n")

	_, err = dumpToMarker(sc, out, "")
	return err
}

// copyCallbackSurface copies the caller-supplied pre/post-patch callback
// source (or the embedded default) and the llpatch.h macro header into the
// output directory unmodified, per SPEC_FULL §6 NEW.
func copyCallbackSurface(p Params) error {
	dst, err := openOut(p.OutDir, "llpatch-callbacks.c")
	if err != nil {
		return err
	}
	defer dst.Close()

	var src io.ReadCloser
	if p.Callbacks != "" {
		f, err := os.Open(p.Callbacks)
		if err != nil {
			return command.Wrap(command.FileOpenFailed, err)
		}
		src = f
	} else {
		src, err = templateReader("llpatch-callbacks.c.tmpl")
		if err != nil {
			return err
		}
	}
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return command.Wrap(command.FileOpenFailed, err)
	}

	hdr, err := templateReader("llpatch.h.tmpl")
	if err != nil {
		return err
	}
	defer hdr.Close()
	hdrOut, err := openOut(p.OutDir, "llpatch.h")
	if err != nil {
		return err
	}
	defer hdrOut.Close()
	_, err = io.Copy(hdrOut, hdr)
	return err
}

// fixupKlpSymbols truncates every symbol name at its first colon, undoing
// the diff stage's source-file-suffix annotation now that it has served
// its purpose of feeding sympos lookups.
func fixupKlpSymbols(bin *elfbin.Bin) error {
	nameBuf := []byte{0}
	for _, sym := range bin.Symbols() {
		name, _, _ := strings.Cut(sym.Name, ":")
		offset := uint32(len(nameBuf))
		nameBuf = append(nameBuf, []byte(name)...)
		nameBuf = append(nameBuf, 0)
		sym.Rename(offset, name)
	}
	bin.UpdateSection(bin.StringSectionIndex(), nameBuf)
	return nil
}

func objectFileName(srcFile string) string {
	base := srcFile
	if dot := strings.LastIndex(base, "."); dot >= 0 {
		base = base[:dot]
	}
	return base + ".o"
}
