// Package presence tracks which users currently hold a live connection.
package presence

import "sync"

// Registry maps user ids to their live connection and back. The most recent
// registration for a user wins. It is safe for concurrent use.
type Registry[C comparable] struct {
	mu     sync.RWMutex
	byUser map[string]C
	byConn map[C]string
}

// New returns an empty Registry.
func New[C comparable]() *Registry[C] {
	return &Registry[C]{
		byUser: make(map[string]C),
		byConn: make(map[C]string),
	}
}

// Register associates userID with conn. If the user was registered with a
// different connection, that connection is returned so the caller can close
// it.
func (r *Registry[C]) Register(userID string, conn C) (replaced C, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, found := r.byConn[conn]; found && prevUser != userID {
		if r.byUser[prevUser] == conn {
			delete(r.byUser, prevUser)
		}
	}
	if prev, found := r.byUser[userID]; found && prev != conn {
		delete(r.byConn, prev)
		replaced, ok = prev, true
	}
	r.byUser[userID] = conn
	r.byConn[conn] = userID
	return replaced, ok
}

// Unregister removes conn. A connection that has since been replaced by a
// newer one for the same user leaves the newer entry untouched. It reports
// whether conn was registered.
func (r *Registry[C]) Unregister(conn C) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return false
	}
	delete(r.byConn, conn)
	if r.byUser[userID] == conn {
		delete(r.byUser, userID)
	}
	return true
}

// Lookup returns the live connection of userID.
func (r *Registry[C]) Lookup(userID string) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// Len returns the number of users with a live connection.
func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
