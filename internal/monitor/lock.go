package monitor

import "sync"

// ledgerLocks serialises read-modify-write cycles per ledger identity so
// monitors sharing a store in one process cannot interleave.
var ledgerLocks = struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}{m: map[string]*sync.Mutex{}}

func lockFor(key string) *sync.Mutex {
	ledgerLocks.mu.Lock()
	defer ledgerLocks.mu.Unlock()

	if _, ok := ledgerLocks.m[key]; !ok {
		ledgerLocks.m[key] = &sync.Mutex{}
	}
	return ledgerLocks.m[key]
}
