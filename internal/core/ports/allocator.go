// Package ports assigns stable service ports to named endpoints.
//
// The Allocator is the only piece of shared mutable state in the compiler.
// A single instance is created per process and handed to every compilation
// so that both ends of a connection agree on a port no matter which one is
// compiled first.
package ports

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultBase is the first service port handed out.
const DefaultBase = 10000

var (
	ErrPortConflict = errors.New("service port already bound to another endpoint")
	ErrInvalidPort  = errors.New("invalid service port")
)

// Key identifies an endpoint: a capability or named endpoint of a node.
// Node ids are case-insensitive, so the NodeID is stored lower-cased.
type Key struct {
	NodeID   string `json:"node_id" db:"node_id"`
	Endpoint string `json:"endpoint" db:"endpoint"`
}

// NewKey builds a normalised key.
func NewKey(nodeID, endpoint string) Key {
	return Key{NodeID: strings.ToLower(nodeID), Endpoint: endpoint}
}

func (k Key) String() string {
	return k.NodeID + "/" + k.Endpoint
}

// Assignment binds a key to a service port.
type Assignment struct {
	Key
	Port int `json:"port" db:"port"`
}

// Observer is notified of every fresh allocation, while the allocator lock
// is held. It must not call back into the allocator.
type Observer func(Assignment)

// Allocator hands out service ports. Entries are never reassigned or
// removed; the next unseen key receives the next port above every port
// handed out so far.
type Allocator struct {
	mu       sync.Mutex
	base     int
	next     int
	table    map[Key]int
	observer Observer
}

// New creates an empty allocator starting at base. A non-positive base
// falls back to DefaultBase.
func New(base int) *Allocator {
	if base <= 0 {
		base = DefaultBase
	}
	return &Allocator{
		base:  base,
		next:  base,
		table: make(map[Key]int),
	}
}

// SetObserver installs the allocation observer.
func (a *Allocator) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = o
}

// Base returns the first port of the allocator.
func (a *Allocator) Base() int {
	return a.base
}

// Allocate returns the port bound to key, binding the next free port first
// if the key is new.
func (a *Allocator) Allocate(key Key) int {
	port, _ := a.Reserve(key)
	return port
}

// Reserve is Allocate that also reports whether the port was freshly bound.
func (a *Allocator) Reserve(key Key) (port int, fresh bool) {
	key = NewKey(key.NodeID, key.Endpoint)

	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.table[key]; ok {
		return p, false
	}

	port = a.next
	a.next++
	a.table[key] = port

	if a.observer != nil {
		a.observer(Assignment{Key: key, Port: port})
	}
	return port, true
}

// Lookup returns the port bound to key without allocating.
func (a *Allocator) Lookup(key Key) (int, bool) {
	key = NewKey(key.NodeID, key.Endpoint)

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.table[key]
	return p, ok
}

// Len returns the number of bound keys.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.table)
}

// Snapshot returns every assignment ordered by port.
func (a *Allocator) Snapshot() []Assignment {
	a.mu.Lock()
	result := make([]Assignment, 0, len(a.table))
	for k, p := range a.table {
		result = append(result, Assignment{Key: k, Port: p})
	}
	a.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Port < result[j].Port
	})
	return result
}

// Restore seeds the allocator with previously recorded assignments.
// Existing keys keep their port. The counter moves past the highest
// restored port. The observer is not notified.
func (a *Allocator) Restore(assignments []Assignment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	owners := make(map[int]Key, len(a.table)+len(assignments))
	for k, p := range a.table {
		owners[p] = k
	}

	pending := make(map[Key]int, len(assignments))
	for _, as := range assignments {
		key := NewKey(as.NodeID, as.Endpoint)
		if as.Port < a.base {
			return fmt.Errorf("%w: %d for %s is below base %d", ErrInvalidPort, as.Port, key, a.base)
		}
		if _, ok := a.table[key]; ok {
			continue
		}
		if prev, ok := pending[key]; ok && prev != as.Port {
			return fmt.Errorf("%w: %s restored as both %d and %d", ErrPortConflict, key, prev, as.Port)
		}
		if owner, taken := owners[as.Port]; taken && owner != key {
			return fmt.Errorf("%w: %d is bound to %s, cannot bind %s", ErrPortConflict, as.Port, owner, key)
		}
		owners[as.Port] = key
		pending[key] = as.Port
	}

	for k, p := range pending {
		a.table[k] = p
		if p >= a.next {
			a.next = p + 1
		}
	}
	return nil
}
