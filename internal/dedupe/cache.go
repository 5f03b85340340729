// ABOUTME: Replay guard for client request ids, scoped per owner
// ABOUTME: Rejects a resubmitted request id inside the replay window; failed asks release their claim

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultWindow is how long a claimed request id stays claimed.
const DefaultWindow = 5 * time.Minute

// DefaultMaxEntries bounds memory when clients send many distinct ids.
const DefaultMaxEntries = 10000

type claim struct {
	key     string
	claimed time.Time
}

// Guard remembers (owner, request id) pairs for a fixed window.
// Claims are kept in claim order so the oldest can be evicted in O(1).
type Guard struct {
	mu         sync.Mutex
	claims     map[string]*list.Element
	order      *list.List // oldest at front
	window     time.Duration
	maxEntries int
	now        func() time.Time
}

// New creates a guard. Non-positive arguments fall back to the defaults.
func New(window time.Duration, maxEntries int) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Guard{
		claims:     make(map[string]*list.Element),
		order:      list.New(),
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func key(ownerID, requestID string) string {
	return ownerID + "\x00" + requestID
}

// Claim marks the request id as in use for the owner. It returns false if the
// same owner already claimed it within the window. Check and mark happen under
// one lock so two concurrent submissions cannot both win.
func (g *Guard) Claim(ownerID, requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expireLocked(now)

	k := key(ownerID, requestID)
	if _, ok := g.claims[k]; ok {
		return false
	}

	if g.order.Len() >= g.maxEntries {
		g.removeLocked(g.order.Front())
	}
	g.claims[k] = g.order.PushBack(&claim{key: k, claimed: now})
	return true
}

// Release forgets a claim so the client may retry the same request id.
func (g *Guard) Release(ownerID, requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if elem, ok := g.claims[key(ownerID, requestID)]; ok {
		g.removeLocked(elem)
	}
}

// Len returns the number of live claims.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.expireLocked(g.now())
	return g.order.Len()
}

// expireLocked drops claims older than the window. Must be called with mu held.
func (g *Guard) expireLocked(now time.Time) {
	for front := g.order.Front(); front != nil; front = g.order.Front() {
		c, _ := front.Value.(*claim)
		if now.Sub(c.claimed) < g.window {
			return
		}
		g.removeLocked(front)
	}
}

func (g *Guard) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c, _ := elem.Value.(*claim)
	g.order.Remove(elem)
	delete(g.claims, c.key)
}
