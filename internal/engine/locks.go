package engine

import "sync"

// SymbolLocks hands out one mutex per symbol. Every read-then-write of a
// symbol's orders and holdings runs under that symbol's mutex, so passes
// on the same symbol never interleave while different symbols proceed in
// parallel.
type SymbolLocks struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

// NewSymbolLocks creates an empty SymbolLocks.
func NewSymbolLocks() *SymbolLocks {
	return &SymbolLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// get returns the mutex for symbol, creating it on first use.
func (l *SymbolLocks) get(symbol string) *sync.Mutex {
	l.mu.RLock()
	m, ok := l.locks[symbol]
	l.mu.RUnlock()
	if ok {
		return m
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock.
	if m, ok = l.locks[symbol]; ok {
		return m
	}
	m = &sync.Mutex{}
	l.locks[symbol] = m
	return m
}

// Lock acquires the symbol's mutex and returns the function releasing it.
func (l *SymbolLocks) Lock(symbol string) (unlock func()) {
	m := l.get(symbol)
	m.Lock()
	return m.Unlock
}
