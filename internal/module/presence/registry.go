package presence

import "sync"

// Registry tracks live connections partitioned by workspace. Workspaces with
// no remaining connections are pruned so the map never leaks empty rooms.
type Registry struct {
	mu         sync.RWMutex
	workspaces map[string]map[*Conn]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workspaces: make(map[string]map[*Conn]struct{})}
}

// Register adds a connection to its workspace's set.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.workspaces[c.WorkspaceID()]
	if !ok {
		set = make(map[*Conn]struct{})
		r.workspaces[c.WorkspaceID()] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a connection and reports whether it was present. A
// second call for the same connection is a no-op, which keeps eviction
// idempotent across the read loop and the sweeper.
func (r *Registry) Unregister(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.workspaces[c.WorkspaceID()]
	if !ok {
		return false
	}
	if _, present := set[c]; !present {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.workspaces, c.WorkspaceID())
	}
	return true
}

// ConnectionsFor returns a snapshot of the workspace's connections.
func (r *Registry) ConnectionsFor(workspaceID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.workspaces[workspaceID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Workspaces returns the ids of all workspaces with at least one connection.
func (r *Registry) Workspaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workspaces))
	for id := range r.workspaces {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of connections in one workspace.
func (r *Registry) Count(workspaceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces[workspaceID])
}

// All returns a snapshot of every connection across workspaces.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []*Conn
	for _, set := range r.workspaces {
		for c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}
