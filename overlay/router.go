package overlay

import (
	"container/list"
	"sync"

	"teapotnet/identity"
	"teapotnet/wire"
)

// MaxHops bounds how many times a message may be forwarded before
// being dropped (spec.md §9 Open Question, fixed here to the value
// spec.md §6.2 itself suggests as an example).
const MaxHops = 16

// RouteTableCapacity bounds the number of route-table entries kept,
// evicted LRU with refresh-on-use — spec.md §9's resolution of the
// route-table eviction Open Question.
const RouteTableCapacity = 4096

// NeighborSender is the minimal capability the router needs from a
// per-peer handler: send a message on the wire, and report the remote
// identifier it is authenticated as.
type NeighborSender interface {
	SendMessage(msg wire.Message) error
	RemoteIdentifier() identity.Identifier
}

// RouteListener is notified the first time a previously-unreachable
// identifier becomes reachable (spec.md §4.6: "seen(id) callback fires
// exactly once per transition").
type RouteListener interface {
	Seen(id identity.Identifier)
}

// Router implements spec.md §4.6: Forward/Broadcast/Lookup dispatch
// plus a next-hop route table with LRU eviction.
type Router struct {
	mu        sync.Mutex
	neighbors map[identity.Identifier]NeighborSender
	routes    map[identity.Identifier]*list.Element // value: *routeEntry
	order     *list.List                             // front = most recently used
	listeners map[identity.Identifier][]RouteListener
}

type routeEntry struct {
	destination identity.Identifier
	nextHop     identity.Identifier
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		neighbors: make(map[identity.Identifier]NeighborSender),
		routes:    make(map[identity.Identifier]*list.Element),
		order:     list.New(),
		listeners: make(map[identity.Identifier][]RouteListener),
	}
}

// AddNeighbor registers a directly-connected handler.
func (r *Router) AddNeighbor(id identity.Identifier, sender NeighborSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, wasNeighbor := r.neighbors[id]
	_, hadRoute := r.routes[id]
	r.neighbors[id] = sender
	if !wasNeighbor && !hadRoute {
		r.noteReachableLocked(id)
	}
}

// RemoveNeighbor drops a direct connection, e.g. on handler shutdown.
// It does not evict any route-table entries that happened to point
// through it; those stay until LRU eviction or until NoteSource
// records a new next hop. Meanwhile Route falls back to broadcast for
// them because the next hop is no longer a neighbor.
func (r *Router) RemoveNeighbor(id identity.Identifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.neighbors, id)
}

// Watch registers listener to be notified when id transitions from
// unreachable to reachable.
func (r *Router) Watch(id identity.Identifier, listener RouteListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[id] = append(r.listeners[id], listener)
}

// NoteSource updates the route table from an observed message: its
// source is now known to be reachable via incoming. Must be called
// before the message's content is dispatched locally (spec.md §5's
// ordering guarantee).
func (r *Router) NoteSource(source, incoming identity.Identifier) {
	if source.IsNull() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, hadRoute := r.routes[source]
	_, isNeighbor := r.neighbors[source]
	r.putRouteLocked(source, incoming)
	if !hadRoute && !isNeighbor {
		r.noteReachableLocked(source)
	}
}

func (r *Router) noteReachableLocked(id identity.Identifier) {
	for _, listener := range r.listeners[id] {
		listener.Seen(id)
	}
}

func (r *Router) putRouteLocked(destination, nextHop identity.Identifier) {
	if elem, ok := r.routes[destination]; ok {
		elem.Value.(*routeEntry).nextHop = nextHop
		r.order.MoveToFront(elem)
		return
	}
	entry := &routeEntry{destination: destination, nextHop: nextHop}
	elem := r.order.PushFront(entry)
	r.routes[destination] = elem
	r.evictLocked()
}

func (r *Router) evictLocked() {
	for len(r.routes) > RouteTableCapacity {
		back := r.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*routeEntry)
		delete(r.routes, entry.destination)
		r.order.Remove(back)
	}
}

// Route implements spec.md §4.6's route(msg, incoming_link) algorithm.
// incoming is the null identifier when the message originated locally.
func (r *Router) Route(msg wire.Message, incoming identity.Identifier) {
	r.mu.Lock()

	if sender, ok := r.neighbors[msg.Destination]; ok {
		r.mu.Unlock()
		_ = sender.SendMessage(msg)
		return
	}

	if elem, ok := r.routes[msg.Destination]; ok {
		entry := elem.Value.(*routeEntry)
		r.order.MoveToFront(elem)
		nextHop := entry.nextHop
		sender, ok := r.neighbors[nextHop]
		r.mu.Unlock()
		if ok {
			_ = sender.SendMessage(msg)
			return
		}
		// Next hop no longer connected: fall through to broadcast.
	} else {
		r.mu.Unlock()
	}

	r.broadcastExcept(msg, incoming)
}

func (r *Router) broadcastExcept(msg wire.Message, incoming identity.Identifier) {
	r.mu.Lock()
	targets := make([]NeighborSender, 0, len(r.neighbors))
	for id, sender := range r.neighbors {
		if id == incoming {
			continue
		}
		targets = append(targets, sender)
	}
	r.mu.Unlock()

	for _, sender := range targets {
		_ = sender.SendMessage(msg)
	}
}

// Forward increments hops and routes msg, dropping it silently if
// MaxHops would be exceeded (spec.md §4.6 loop prevention).
func (r *Router) Forward(msg wire.Message, incoming identity.Identifier) {
	if msg.Hops >= MaxHops {
		return
	}
	msg.Hops++
	r.Route(msg, incoming)
}

// HasNeighbor reports whether id is a direct neighbor.
func (r *Router) HasNeighbor(id identity.Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.neighbors[id]
	return ok
}

// NeighborCount reports the number of direct neighbors, for diagnostics.
func (r *Router) NeighborCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.neighbors)
}
