package hotreload

import (
	"sync"
	"time"
)

type lease struct {
	token   uint64
	expires time.Time
}

// Leases is a set of per-path locks with a bounded lifetime. An expired
// lease is treated as released, so a handler that never releases cannot
// block its path forever.
type Leases struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	leases map[string]lease
	seq    uint64
}

// NewLeases creates a lease table whose leases expire after ttl
func NewLeases(ttl time.Duration) *Leases {
	return &Leases{
		ttl:    ttl,
		now:    time.Now,
		leases: make(map[string]lease),
	}
}

// TryAcquire takes the lease for path if it is free or expired. The returned
// release function only releases the lease it was issued for; calling it
// after the lease expired and was reclaimed is a no-op.
func (l *Leases) TryAcquire(path string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, held := l.leases[path]; held && now.Before(current.expires) {
		return nil, false
	}

	l.seq++
	token := l.seq
	l.leases[path] = lease{token: token, expires: now.Add(l.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(path, token) })
	}, true
}

func (l *Leases) release(path string, token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.leases[path]; ok && current.token == token {
		delete(l.leases, path)
	}
}

// Held reports whether path has an unexpired lease
func (l *Leases) Held(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.leases[path]
	return ok && l.now().Before(current.expires)
}

// ReleaseAll drops every lease unconditionally
func (l *Leases) ReleaseAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leases = make(map[string]lease)
}
