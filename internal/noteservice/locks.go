package noteservice

import (
	"sort"
	"sync"
)

// pathLocks hands out one mutex per note path. Entries live only while
// someone holds or waits for them.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{m: make(map[string]*pathLock)}
}

// lock acquires every path in sorted order and returns the release func.
func (l *pathLocks) lock(paths ...string) func() {
	keys := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, dup := seen[p]; dup || p == "" {
			continue
		}
		seen[p] = struct{}{}
		keys = append(keys, p)
	}
	sort.Strings(keys)

	held := make([]*pathLock, len(keys))
	for i, k := range keys {
		l.mu.Lock()
		pl, ok := l.m[k]
		if !ok {
			pl = &pathLock{}
			l.m[k] = pl
		}
		pl.refs++
		l.mu.Unlock()

		pl.mu.Lock()
		held[i] = pl
	}

	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.m, keys[i])
			}
			l.mu.Unlock()
		}
	}
}

// size reports how many paths currently have a lock entry.
func (l *pathLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
