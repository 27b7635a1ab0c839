package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Backend is a build-time plugin that can open a Store.
//
// Backends register themselves in init():
//
//	store.MustRegister(store.Backend{ ... })
//
// The binary must import the backend package for registration to occur.
type Backend struct {
	Name        string
	Description string
	// Schemes are the DSN prefixes (before ':') this backend accepts.
	Schemes []string
	// Open constructs the Store, applying any schema migrations.
	Open func(ctx context.Context, dsn string) (Store, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
	schemes  = map[string]string{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("store: backend name is required")
	}
	if len(b.Schemes) == 0 {
		return fmt.Errorf("store: backend %q missing Schemes", b.Name)
	}
	if b.Open == nil {
		return fmt.Errorf("store: backend %q missing Open", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("store: backend %q already registered", b.Name)
	}
	for _, s := range b.Schemes {
		if owner, taken := schemes[s]; taken {
			return fmt.Errorf("store: scheme %q already registered by %q", s, owner)
		}
	}
	backends[b.Name] = b
	for _, s := range b.Schemes {
		schemes[s] = b.Name
	}
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// Names returns registered backend names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends))
	for n := range backends {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Open selects a backend by the DSN scheme and opens it.
func Open(ctx context.Context, dsn string) (Store, error) {
	scheme, _, ok := strings.Cut(dsn, ":")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("store: dsn %q has no scheme", Redact(dsn))
	}
	mu.RLock()
	name, ok := schemes[strings.ToLower(scheme)]
	b := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: no backend for scheme %q (registered: %s)", scheme, strings.Join(Names(), ", "))
	}
	return b.Open(ctx, dsn)
}

// Redact drops userinfo so DSNs can appear in errors and logs.
func Redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return dsn
}
