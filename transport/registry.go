package transport

import (
	"net"
	"sort"
	"sync"
)

// Registry maps peer ids to connections and back. Both directions are
// kept in step: an id has at most one connection and a connection
// belongs to at most one id.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]net.Conn
	byConn map[net.Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]net.Conn),
		byConn: make(map[net.Conn]string),
	}
}

// Add binds id to conn, dropping any earlier binding of either side. It
// returns the connection id was bound to before, nil if none; the caller
// owns closing it.
func (r *Registry) Add(id string, conn net.Conn) net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[id]
	if ok {
		delete(r.byConn, old)
	}
	if oldID, ok := r.byConn[conn]; ok {
		delete(r.byID, oldID)
	}
	r.byID[id] = conn
	r.byConn[conn] = id
	if old == conn {
		return nil
	}
	return old
}

// Remove forgets conn. It reports whether conn was bound.
func (r *Registry) Remove(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[conn]
	if !ok {
		return false
	}
	delete(r.byConn, conn)
	delete(r.byID, id)
	return true
}

func (r *Registry) Conn(id string) (net.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

func (r *Registry) ID(conn net.Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[conn]
	return id, ok
}

// IDs returns the bound peer ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
