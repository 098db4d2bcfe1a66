package analysis

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"

	"opdis/internal/disasm"
	"opdis/internal/elfx"
)

// symbolCache provides thread-safe caching of demangled names.
type symbolCache struct {
	mu            sync.RWMutex
	demangleCache map[string]string
	hits          map[string]int
}

var cache = &symbolCache{
	demangleCache: make(map[string]string),
	hits:          make(map[string]int),
}

// CachedDemangle performs demangling with caching support.
func CachedDemangle(mangled string) string {
	cache.mu.RLock()
	cached, exists := cache.demangleCache[mangled]
	cache.mu.RUnlock()
	if exists {
		cache.mu.Lock()
		cache.hits[mangled]++
		cache.mu.Unlock()
		return cached
	}

	demangled := demangle.Filter(mangled, demangle.NoClones)

	cache.mu.Lock()
	cache.demangleCache[mangled] = demangled
	cache.mu.Unlock()
	return demangled
}

// DemangleCacheStats returns the number of cached names and cache hits.
func DemangleCacheStats() (entries, hits int) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	for _, n := range cache.hits {
		hits += n
	}
	return len(cache.demangleCache), hits
}

// SymbolEntry is one row of a SymbolTable.
type SymbolEntry struct {
	Addr      uint64
	Size      uint64
	Name      string
	Demangled string
	Kind      elfx.SymKind
	Symbol    *elfx.Symbol
}

// SymbolTable is an address ordered, demangled view of an image's
// symbols.
type SymbolTable struct {
	entries []SymbolEntry
}

// NewSymbolTable builds the table for im.
func NewSymbolTable(im *elfx.Image) *SymbolTable {
	st := &SymbolTable{}
	for _, s := range im.Symbols {
		st.entries = append(st.entries, SymbolEntry{
			Addr:      s.Addr,
			Size:      s.Size,
			Name:      s.Name,
			Demangled: CachedDemangle(s.Name),
			Kind:      s.Kind,
			Symbol:    s,
		})
	}
	slices.SortStableFunc(st.entries, func(a, b SymbolEntry) int { return cmp.Compare(a.Addr, b.Addr) })
	return st
}

// Symbolizer is an engine symbolizer that labels addresses with
// demangled names.
func Symbolizer(im *elfx.Image) disasm.SymLookup {
	return NewSymbolTable(im).Lookup
}

func (st *SymbolTable) Entries() []SymbolEntry { return st.entries }

func (st *SymbolTable) Len() int { return len(st.entries) }

// Functions returns the function entries.
func (st *SymbolTable) Functions() []SymbolEntry {
	var out []SymbolEntry
	for _, e := range st.entries {
		if e.Kind == elfx.SymFunc {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the demangled name and base address of the symbol
// containing addr. Sizeless symbols only match their exact address.
func (st *SymbolTable) Lookup(addr uint64) (string, uint64) {
	i, found := slices.BinarySearchFunc(st.entries, addr, func(e SymbolEntry, a uint64) int {
		return cmp.Compare(e.Addr, a)
	})
	if found {
		return st.entries[i].Demangled, st.entries[i].Addr
	}
	if i == 0 {
		return "", 0
	}
	e := st.entries[i-1]
	if e.Size > 0 && addr < e.Addr+e.Size {
		return e.Demangled, e.Addr
	}
	return "", 0
}

// Find returns the first entry whose mangled or demangled name equals
// name. A demangled name also matches without its parameter list.
func (st *SymbolTable) Find(name string) (SymbolEntry, bool) {
	for _, e := range st.entries {
		if e.Name == name || e.Demangled == name {
			return e, true
		}
	}
	for _, e := range st.entries {
		if base, _, ok := strings.Cut(e.Demangled, "("); ok && base == name {
			return e, true
		}
	}
	return SymbolEntry{}, false
}

// Filter returns the entries whose names contain substr, ignoring case.
func (st *SymbolTable) Filter(substr string) []SymbolEntry {
	substr = strings.ToLower(substr)
	var out []SymbolEntry
	for _, e := range st.entries {
		if strings.Contains(strings.ToLower(e.Name), substr) || strings.Contains(strings.ToLower(e.Demangled), substr) {
			out = append(out, e)
		}
	}
	return out
}
