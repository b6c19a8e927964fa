package domain

import (
	"regexp"
	"sort"
	"sync"
)

var symbolRegex = regexp.MustCompile(`^[A-Z]{1,10}$`)

// ValidSymbol reports whether s is 1 to 10 uppercase ASCII letters.
func ValidSymbol(s string) bool {
	return symbolRegex.MatchString(s)
}

// SymbolRegistry tracks the symbols listed on the venue in a thread-safe
// manner. Orders for symbols that are not listed are rejected at
// submission time.
type SymbolRegistry struct {
	mu      sync.RWMutex
	symbols map[string]bool
}

// NewSymbolRegistry creates a registry with the given symbols listed.
func NewSymbolRegistry(symbols ...string) *SymbolRegistry {
	r := &SymbolRegistry{
		symbols: make(map[string]bool, len(symbols)),
	}
	for _, s := range symbols {
		r.symbols[s] = true
	}
	return r
}

// Register lists a symbol. Safe for concurrent use.
func (r *SymbolRegistry) Register(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols[symbol] = true
}

// Exists returns true if the symbol is listed. Safe for concurrent use.
func (r *SymbolRegistry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.symbols[symbol]
}

// List returns the listed symbols in ascending order.
func (r *SymbolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
