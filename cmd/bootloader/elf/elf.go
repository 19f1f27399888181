// Package elf reads the two ELF images the boot loader consumes, \kernel and
// \userimg (spec.md §4.G steps 2-3), down to the narrow Image{EntryVA,
// Segments} contract the page-mapping step needs. No third-party ELF reader
// in the retrieval pack fits a read-only, freestanding use (the pack's
// elf_complete.go-style examples are writers for compiler backends, and
// lambdai-pprof's elfexec assumes a hosted filesystem); debug/elf is the
// standard library's own reader and is the one stdlib fallback this module
// takes deliberately (see DESIGN.md).
package elf

import (
	"bytes"
	"debug/elf"

	"teaos/kernel"
)

// ErrNotExecutable is returned when the image is not what spec.md §6 expects
// of \kernel or \userimg: a non-EXEC, non-AArch64, non-64-bit ELF.
var ErrNotExecutable = &kernel.Error{Module: "elf", Message: "not an AArch64 EXEC ELF64 image"}

// Segment is one PT_LOAD program header's data and placement, trimmed to
// what the boot loader's page-mapping step (spec.md §4.G step 4) needs.
type Segment struct {
	VA         uint64
	Data       []byte // file-backed bytes; len(Data) <= MemSize
	MemSize    uint64 // total bytes to reserve, including the zero-filled tail
	Writable   bool
	Executable bool
}

// Image is the parsed, closed-over form of an ELF file: an entry VA and its
// loadable segments in file order.
type Image struct {
	EntryVA  uint64
	Segments []Segment
}

// Parse reads raw as an ELF AArch64 executable and returns its entry point
// and PT_LOAD segments. raw must stay alive for the lifetime of the returned
// Image's Segment.Data slices, which alias into it.
func Parse(raw []byte) (Image, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return Image{}, ErrNotExecutable
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_AARCH64 || f.Type != elf.ET_EXEC {
		return Image{}, ErrNotExecutable
	}

	var segs []Segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, rerr := p.ReadAt(data, 0); rerr != nil {
			return Image{}, ErrNotExecutable
		}
		segs = append(segs, Segment{
			VA:         p.Vaddr,
			Data:       data,
			MemSize:    p.Memsz,
			Writable:   p.Flags&elf.PF_W != 0,
			Executable: p.Flags&elf.PF_X != 0,
		})
	}

	return Image{EntryVA: f.Entry, Segments: segs}, nil
}

// Symbol looks up name in the image's symbol table, returning its value
// (a VA). Used to resolve userimg_start and physmap_start out of \kernel,
// per spec.md §6: "Missing symbols are fatal."
func Symbol(raw []byte, name string) (uint64, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return 0, ErrNotExecutable
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return 0, &kernel.Error{Module: "elf", Message: "missing symbol table"}
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Value, nil
		}
	}
	return 0, &kernel.Error{Module: "elf", Message: "symbol not found: " + name}
}
