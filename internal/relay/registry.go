package relay

import (
	"sync"
	"time"

	"github.com/npezzotti/go-chat-relay/internal/types"
)

type presenceEntry struct {
	userName string
	client   *Client
	online   bool
	lastSeen time.Time
}

// Registry is the bidirectional mapping between user ids and live
// connections. It is the single shared-mutable hotspot of the relay:
// every component resolves routing targets through it, so all access
// is serialized behind one mutex. User entries are never removed, only
// marked offline, so last-seen data survives disconnects.
type Registry struct {
	mu    sync.Mutex
	users map[string]*presenceEntry
	conns map[*Client]string
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*presenceEntry),
		conns: make(map[*Client]string),
		now:   Now,
	}
}

// Authenticate binds c to userId, displacing any previous binding for
// the same user. It always succeeds. The superseded connection, if
// any, is returned so the caller can retire it; wentOffline names the
// user the connection abandoned when rebinding to a new identity, so
// that offline transition can be announced; newlyOnline reports
// whether userId transitioned from offline to online.
func (r *Registry) Authenticate(c *Client, userId, userName string) (prev *Client, wentOffline string, newlyOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The connection may already be bound to another user; unbind it
	// first so the reverse mapping stays consistent.
	if oldId, ok := r.conns[c]; ok && oldId != userId {
		if entry, ok := r.users[oldId]; ok && entry.client == c {
			entry.client = nil
			entry.online = false
			entry.lastSeen = r.now()
			wentOffline = oldId
		}
		delete(r.conns, c)
	}

	entry, ok := r.users[userId]
	if !ok {
		entry = &presenceEntry{}
		r.users[userId] = entry
	}

	if entry.client != nil && entry.client != c {
		prev = entry.client
		delete(r.conns, prev)
	}

	newlyOnline = !entry.online
	entry.userName = userName
	entry.client = c
	entry.online = true
	entry.lastSeen = r.now()
	r.conns[c] = userId

	return prev, wentOffline, newlyOnline
}

// ResolveConn returns the live connection for userId, or nil if the
// user is not currently reachable.
func (r *Registry) ResolveConn(userId string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.users[userId]; ok && entry.online {
		return entry.client
	}

	return nil
}

// ResolveUser is the reverse lookup: the user id a connection
// authenticated as.
func (r *Registry) ResolveUser(c *Client) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userId, ok := r.conns[c]
	return userId, ok
}

// Disconnect removes the binding for c and marks its user offline,
// stamping lastSeen. Calling it for a connection that never
// authenticated, or a second time for the same connection, is a no-op.
func (r *Registry) Disconnect(c *Client) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userId, ok := r.conns[c]
	if !ok {
		return "", false
	}

	delete(r.conns, c)
	if entry, ok := r.users[userId]; ok && entry.client == c {
		entry.client = nil
		entry.online = false
		entry.lastSeen = r.now()
	}

	return userId, true
}

// Users returns a snapshot of every user the registry has ever seen.
func (r *Registry) Users() []types.UserPresence {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]types.UserPresence, 0, len(r.users))
	for userId, entry := range r.users {
		users = append(users, types.UserPresence{
			UserId:   userId,
			UserName: entry.userName,
			Online:   entry.online,
			LastSeen: entry.lastSeen,
		})
	}

	return users
}

func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}
