// Package elfx provides helpers for opening ELF binaries, locating sections, and mapping virtual addresses to file offsets.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"syscall"
)

type Image struct {
	Path     string
	File     *elf.File
	All      []byte
	Machine  elf.Machine
	Class    elf.Class
	Entry    uint64
	Loads    []Seg
	Sections []*Section
	Symbols  []*Symbol
	Text     *Section
	f        *os.File
	mapped   bool
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

// Section is an allocated section of an image. It keeps a back
// reference to the image it was loaded from.
type Section struct {
	Name          string
	VA, Off, Size uint64
	Flags         elf.SectionFlag
	owner         *Image
}

// Owner returns the image the section belongs to.
func (s *Section) Owner() *Image { return s.owner }

// Exec reports whether the section holds executable code.
func (s *Section) Exec() bool { return s.Flags&elf.SHF_EXECINSTR != 0 }

// End returns the first address past the section.
func (s *Section) End() uint64 { return s.VA + s.Size }

// Contains reports whether va lies inside the section.
func (s *Section) Contains(va uint64) bool { return va >= s.VA && va < s.End() }

// Bytes returns the section contents from the image mapping.
func (s *Section) Bytes() ([]byte, bool) { return s.owner.SliceVA(s.VA, s.Size) }

type SymKind uint8

const (
	SymOther SymKind = iota
	SymFunc
	SymObject
)

// Symbol is a defined symbol of an image.
type Symbol struct {
	Name    string
	Addr    uint64
	Size    uint64
	Kind    SymKind
	Dynamic bool
	Section *Section
	owner   *Image
}

// Owner returns the image the symbol belongs to.
func (s *Symbol) Owner() *Image { return s.owner }

// Bounds returns the address range covered by the symbol. Symbols
// without a size extend to the end of their section.
func (s *Symbol) Bounds() (start, end uint64) {
	if s.Size > 0 {
		return s.Addr, s.Addr + s.Size
	}
	if s.Section != nil && s.Section.Contains(s.Addr) {
		return s.Addr, s.Section.End()
	}
	return s.Addr, s.Addr
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{
		Path:    path,
		File:    f,
		All:     all,
		Machine: f.Machine,
		Class:   f.Class,
		Entry:   f.Entry,
		f:       of,
		mapped:  true,
	}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	byIndex := make(map[int]*Section)
	for i, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Type == elf.SHT_NOBITS || s.Size == 0 {
			continue
		}
		sec := &Section{Name: s.Name, VA: s.Addr, Off: s.Offset, Size: s.Size, Flags: s.Flags, owner: im}
		im.Sections = append(im.Sections, sec)
		byIndex[i] = sec
		if s.Name == ".text" {
			im.Text = sec
		}
	}

	im.loadSymbols(byIndex)

	// Fallback if stripped of section headers.
	if im.Text == nil {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = &Section{Name: "LOAD(exec)", VA: l.Vaddr, Off: l.Off, Size: l.Filesz, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, owner: im}
				break
			}
		}
	}
	return im, nil
}

// loadSymbols collects defined symbols from .symtab and .dynsym.
func (im *Image) loadSymbols(byIndex map[int]*Section) {
	type key struct {
		name string
		addr uint64
	}
	seen := make(map[key]bool)
	add := func(syms []elf.Symbol, dynamic bool) {
		for _, sym := range syms {
			// Skip undefined and absolute symbols
			if sym.Value == 0 || sym.Name == "" || sym.Section == elf.SHN_UNDEF || sym.Section >= elf.SHN_LORESERVE {
				continue
			}
			k := key{sym.Name, sym.Value}
			if seen[k] {
				continue
			}
			seen[k] = true

			s := &Symbol{
				Name:    sym.Name,
				Addr:    sym.Value,
				Size:    sym.Size,
				Dynamic: dynamic,
				Section: byIndex[int(sym.Section)],
				owner:   im,
			}
			switch elf.ST_TYPE(sym.Info) {
			case elf.STT_FUNC:
				s.Kind = SymFunc
			case elf.STT_OBJECT:
				s.Kind = SymObject
			}
			im.Symbols = append(im.Symbols, s)
		}
	}

	if syms, err := im.File.Symbols(); err == nil {
		add(syms, false)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms, true)
	}
	im.sortSymbols()
}

func (im *Image) sortSymbols() {
	sort.SliceStable(im.Symbols, func(i, j int) bool {
		return im.Symbols[i].Addr < im.Symbols[j].Addr
	})
}

// NewImage creates an empty in-memory image. Code is added with
// AddSection; it is used for raw blobs and tests.
func NewImage(machine elf.Machine, entry uint64) *Image {
	class := elf.ELFCLASS64
	if machine == elf.EM_386 || machine == elf.EM_ARM {
		class = elf.ELFCLASS32
	}
	return &Image{Path: "<memory>", Machine: machine, Class: class, Entry: entry}
}

// AddSection maps data at va as a new section backed by its own
// segment. The first executable section becomes the image's Text.
func (im *Image) AddSection(name string, va uint64, data []byte, exec bool) *Section {
	flags := elf.SHF_ALLOC
	pflags := elf.PF_R
	if exec {
		flags |= elf.SHF_EXECINSTR
		pflags |= elf.PF_X
	}
	off := uint64(len(im.All))
	im.All = append(im.All, data...)
	im.Loads = append(im.Loads, Seg{Vaddr: va, Off: off, Filesz: uint64(len(data)), Flags: pflags})

	sec := &Section{Name: name, VA: va, Off: off, Size: uint64(len(data)), Flags: flags, owner: im}
	im.Sections = append(im.Sections, sec)
	if exec && im.Text == nil {
		im.Text = sec
	}
	return sec
}

// AddSymbol defines a function symbol at addr. The symbol is attached
// to the section containing addr, if any.
func (im *Image) AddSymbol(name string, addr, size uint64) *Symbol {
	s := &Symbol{Name: name, Addr: addr, Size: size, Kind: SymFunc, Section: im.SectionAt(addr), owner: im}
	im.Symbols = append(im.Symbols, s)
	im.sortSymbols()
	return s
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil && im.mapped {
		err1 = syscall.Munmap(im.All)
	}
	im.All = nil
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// Mapped returns the number of mapped bytes available from va to the
// end of its segment.
func (im *Image) Mapped(va uint64) uint64 {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Vaddr + l.Filesz - va
		}
	}
	return 0
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// ReadBytesVA reads exactly size bytes from a virtual address.
// Returns false if VA is unmapped or size extends beyond file bounds.
func (im *Image) ReadBytesVA(va uint64, size int) ([]byte, bool) {
	if size <= 0 {
		return []byte{}, true
	}
	return im.SliceVA(va, uint64(size))
}

// SectionByName returns the first section called name.
func (im *Image) SectionByName(name string) (*Section, bool) {
	for _, s := range im.Sections {
		if s.Name == name {
			return s, true
		}
	}
	if im.Text != nil && im.Text.Name == name {
		return im.Text, true
	}
	return nil, false
}

// SectionAt returns the section containing va, or nil.
func (im *Image) SectionAt(va uint64) *Section {
	for _, s := range im.Sections {
		if s.Contains(va) {
			return s
		}
	}
	return nil
}

// SymbolByName searches the symbol table for name.
func (im *Image) SymbolByName(name string) (*Symbol, bool) {
	for _, s := range im.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// SymbolAt returns the symbol covering va. Exact matches win over
// symbols that merely contain the address.
func (im *Image) SymbolAt(va uint64) (*Symbol, bool) {
	i := sort.Search(len(im.Symbols), func(i int) bool { return im.Symbols[i].Addr > va })
	for j := i - 1; j >= 0; j-- {
		s := im.Symbols[j]
		if s.Addr == va {
			return s, true
		}
		if start, end := s.Bounds(); va >= start && va < end {
			return s, true
		}
		if s.Kind == SymFunc {
			break
		}
	}
	return nil, false
}

// FindFunctionByName searches for a function by name in the symbol tables.
func (im *Image) FindFunctionByName(name string) (uint64, bool) {
	for _, s := range im.Symbols {
		if s.Name == name && s.Kind == SymFunc {
			return s.Addr, true
		}
	}
	return 0, false
}

// Functions returns the function symbols in address order.
func (im *Image) Functions() []*Symbol {
	var out []*Symbol
	for _, s := range im.Symbols {
		if s.Kind == SymFunc {
			out = append(out, s)
		}
	}
	return out
}
