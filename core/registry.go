package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NodeID identifies a voting participant as "name:origin".
type NodeID string

// NewNodeID joins a declared name and its origin address.
func NewNodeID(name, origin string) NodeID {
	return NodeID(name + ":" + origin)
}

// parseNodeID splits on the first colon. Names never contain a colon, while
// origins (host:port, IPv6) may.
func parseNodeID(id string) (name, origin string, ok bool) {
	name, origin, ok = strings.Cut(id, ":")
	return name, origin, ok && name != ""
}

// Registry is the set of registered voters. A name is bound to exactly one
// origin and an origin to exactly one name.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]string
	byOrigin map[string]string
	store    Store
}

// NewRegistry loads the persisted node set.
func NewRegistry(store Store) (*Registry, error) {
	nodes, err := store.LoadNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %v", err)
	}
	r := &Registry{
		byName:   make(map[string]string),
		byOrigin: make(map[string]string),
		store:    store,
	}
	for _, id := range nodes {
		name, origin, ok := parseNodeID(id)
		if !ok {
			return nil, fmt.Errorf("malformed node id %q in snapshot", id)
		}
		r.byName[name] = origin
		r.byOrigin[origin] = name
	}
	return r, nil
}

// Register binds name to origin. Registering the exact same pair again is a
// no-op that returns the existing id.
func (r *Registry) Register(name, origin string) (NodeID, error) {
	if name == "" {
		return "", fmt.Errorf("node name required: %w", ErrInvalidArgument)
	}
	if strings.Contains(name, ":") {
		return "", fmt.Errorf("node name %q must not contain ':': %w", name, ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	boundOrigin, nameTaken := r.byName[name]
	boundName, originTaken := r.byOrigin[origin]
	switch {
	case nameTaken && boundOrigin == origin:
		return NewNodeID(name, origin), nil
	case nameTaken:
		return "", fmt.Errorf("node name %q already registered from another origin: %w", name, ErrConflict)
	case originTaken:
		return "", fmt.Errorf("origin %s already registered as %q: %w", origin, boundName, ErrConflict)
	}

	r.byName[name] = origin
	r.byOrigin[origin] = name
	if err := r.store.SaveNodes(r.idsLocked()); err != nil {
		delete(r.byName, name)
		delete(r.byOrigin, origin)
		return "", persistenceError("nodes", err)
	}
	return NewNodeID(name, origin), nil
}

// Contains reports whether id is a registered node.
func (r *Registry) Contains(id NodeID) bool {
	name, origin, ok := parseNodeID(string(id))
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	bound, exists := r.byName[name]
	return exists && bound == origin
}

// Count returns the number of registered nodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Nodes returns the registered ids in sorted order.
func (r *Registry) Nodes() []NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.idsLocked()
	out := make([]NodeID, len(ids))
	for i, id := range ids {
		out[i] = NodeID(id)
	}
	return out
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.byName))
	for name, origin := range r.byName {
		ids = append(ids, string(NewNodeID(name, origin)))
	}
	sort.Strings(ids)
	return ids
}

// RequiredVotes is the quorum for n registered nodes: a simple majority,
// floor(n/2)+1. At least one vote is always required.
func RequiredVotes(n int) int {
	if n < 0 {
		n = 0
	}
	return n/2 + 1
}
