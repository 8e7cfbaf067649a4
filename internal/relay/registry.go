package relay

import (
	"container/heap"
	"net"
)

// Registry is the live-client table. It keeps an exact upper bound of the
// active handles so that scans stop at the highest slot in use.
//
// Registry is not safe for concurrent use; it belongs to the event loop.
type Registry struct {
	clients  map[Handle]*Client
	free     handleHeap
	max      Handle
	capacity int
}

// NewRegistry creates an empty registry accepting at most capacity clients.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 1
	}
	return &Registry{
		clients:  make(map[Handle]*Client, capacity),
		max:      NoHandle,
		capacity: capacity,
	}
}

// Add registers conn under the lowest available handle.
func (r *Registry) Add(conn net.Conn, opts ClientOptions) (*Client, error) {
	if r.Full() {
		return nil, ErrRegistryFull
	}
	h := r.allocate()
	c := newClient(h, conn, opts)
	r.clients[h] = c
	if h > r.max {
		r.max = h
	}
	return c, nil
}

// Remove releases h and closes its connection. Removing an unknown handle is a no-op.
func (r *Registry) Remove(h Handle) bool {
	c, ok := r.clients[h]
	if !ok {
		return false
	}
	delete(r.clients, h)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	heap.Push(&r.free, h)

	if h == r.max {
		r.max = NoHandle
		for j := h - 1; j >= 1; j-- {
			if _, ok := r.clients[j]; ok {
				r.max = j
				break
			}
		}
	}
	return true
}

// Get returns the client registered under h.
func (r *Registry) Get(h Handle) (*Client, bool) {
	c, ok := r.clients[h]
	return c, ok
}

// Len returns the number of active clients.
func (r *Registry) Len() int {
	return len(r.clients)
}

// Cap returns the maximum number of concurrent clients.
func (r *Registry) Cap() int {
	return r.capacity
}

// Full reports whether the registry is at capacity.
func (r *Registry) Full() bool {
	return len(r.clients) >= r.capacity
}

// Max returns the highest active handle, or NoHandle when empty.
func (r *Registry) Max() Handle {
	return r.max
}

// Each calls fn for every active client in ascending handle order until fn
// returns false. fn may remove clients, including the one it is called with.
func (r *Registry) Each(fn func(c *Client) bool) {
	for h := Handle(1); h <= r.max; h++ {
		c, ok := r.clients[h]
		if !ok {
			continue
		}
		if !fn(c) {
			return
		}
	}
}

// allocate returns the lowest handle not in use, the way a descriptor table does.
func (r *Registry) allocate() Handle {
	if r.free.Len() > 0 && r.free[0] <= r.max {
		return heap.Pop(&r.free).(Handle)
	}
	// whatever was released above the bound is reachable through max+1 again
	r.free = r.free[:0]
	if r.max == NoHandle {
		return 1
	}
	return r.max + 1
}

type handleHeap []Handle

func (h handleHeap) Len() int           { return len(h) }
func (h handleHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h handleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *handleHeap) Push(x any) { *h = append(*h, x.(Handle)) }

func (h *handleHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
