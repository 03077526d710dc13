package connection

// Registry is the broker's table of live connections, indexed both by
// client ID (for duplicate-login detection and targeted lookups) and
// by a slot/generation-tagged numeric ID (for the connio send/receive
// workers, which pass a Connection's ID around instead of a raw
// pointer across goroutine boundaries).
//
// Slots are reused once freed; the generation counter on each slot is
// bumped every time it's handed to a new Connection, so a stale ID
// captured before a disconnect can never be mistaken for the
// unrelated connection that later reuses its slot.
//
// Registry has no lock of its own: all access runs on the broker's
// single writer goroutine, exactly like subscription.Index and
// retained.Store.
type Registry struct {
	slots      []slot
	free       []int
	byClientID map[string]uint64
}

type slot struct {
	conn       *Connection
	generation uint32
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byClientID: make(map[string]uint64)}
}

func encodeID(slotIndex int, generation uint32) uint64 {
	return uint64(generation)<<32 | uint64(uint32(slotIndex))
}

func decodeID(id uint64) (slotIndex int, generation uint32) {
	return int(uint32(id)), uint32(id >> 32)
}

// Register assigns conn a registry ID, reusing a freed slot when one
// is available.
func (r *Registry) Register(conn *Connection) uint64 {
	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = len(r.slots)
		r.slots = append(r.slots, slot{})
	}
	r.slots[idx].conn = conn
	r.slots[idx].generation++
	id := encodeID(idx, r.slots[idx].generation)
	conn.ID = id
	return id
}

// Unregister frees id's slot, reporting whether it was still live
// (false means id was already stale or never registered).
func (r *Registry) Unregister(id uint64) bool {
	idx, generation := decodeID(id)
	if idx < 0 || idx >= len(r.slots) || r.slots[idx].generation != generation || r.slots[idx].conn == nil {
		return false
	}
	r.slots[idx].conn = nil
	r.free = append(r.free, idx)
	return true
}

// Get resolves id to its live Connection. A stale or unknown ID
// reports false.
func (r *Registry) Get(id uint64) (*Connection, bool) {
	idx, generation := decodeID(id)
	if idx < 0 || idx >= len(r.slots) || r.slots[idx].generation != generation {
		return nil, false
	}
	conn := r.slots[idx].conn
	return conn, conn != nil
}

// BindClientID associates clientID with id, replacing whatever
// connection previously claimed that client ID. Callers must
// separately evict the old connection (§4.4 step 3: a new CONNECT with
// the same client ID logs out the connection holding it).
func (r *Registry) BindClientID(clientID string, id uint64) {
	r.byClientID[clientID] = id
}

// ByClientID returns the registry ID currently bound to clientID.
func (r *Registry) ByClientID(clientID string) (uint64, bool) {
	id, ok := r.byClientID[clientID]
	return id, ok
}

// UnbindClientID removes clientID's binding, if it still points at
// id — a stale unbind (the client already reconnected and rebound)
// is a no-op.
func (r *Registry) UnbindClientID(clientID string, id uint64) {
	if current, ok := r.byClientID[clientID]; ok && current == id {
		delete(r.byClientID, clientID)
	}
}

// All returns every currently registered connection, used by the
// periodic keepalive sweep.
func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.slots)-len(r.free))
	for _, s := range r.slots {
		if s.conn != nil {
			out = append(out, s.conn)
		}
	}
	return out
}
