// Package state implements a dotted-path key/value store with synchronous
// change notification. It is the backing structure for the cart engine: values
// live in a nested tree addressed by paths such as "cart.items" or
// "user.email", and subscribers observe writes to a path, any of its
// descendants, or the whole tree via the wildcard path.
package state

import (
	"sort"
	"strings"
	"sync"
)

// Wildcard subscribes to every write in the store.
const Wildcard = "*"

// Logger receives diagnostics for recovered subscriber panics.
type Logger func(event string, fields map[string]any)

// Callback observes the current value at the subscribed path.
type Callback func(value any)

type subscription struct {
	id   uint64
	path string
	fn   Callback
}

// Store is a concurrency-safe nested tree with path subscriptions. Writes are
// last-write-wins; there is no versioning beyond the mutex serialisation.
type Store struct {
	mu     sync.Mutex
	tree   map[string]any
	subs   map[string][]*subscription
	nextID uint64
	logger Logger
}

// NewStore constructs an empty store. A nil logger disables diagnostics.
func NewStore(logger Logger) *Store {
	if logger == nil {
		logger = func(string, map[string]any) {}
	}
	return &Store{
		tree:   map[string]any{},
		subs:   map[string][]*subscription{},
		logger: logger,
	}
}

// Get returns the value at the dotted path. An empty path or the wildcard
// returns a shallow copy of the whole tree.
func (s *Store) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(path)
}

func (s *Store) lookup(path string) (any, bool) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == Wildcard {
		return copyTree(s.tree), true
	}

	var node any = s.tree
	for _, segment := range strings.Split(trimmed, ".") {
		container, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = container[segment]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// Set writes the value at the dotted path, creating intermediate containers as
// needed. When notify is true, subscribers on the written path, every ancestor
// path, and the wildcard are invoked with the current value at their own path.
func (s *Store) Set(path string, value any, notify bool) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == Wildcard {
		return
	}

	s.mu.Lock()
	segments := strings.Split(trimmed, ".")
	node := s.tree
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[segment] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value

	var pending []notification
	if notify {
		pending = s.collect(trimmed)
	}
	s.mu.Unlock()

	s.dispatch(pending)
}

// Delete removes the value at the dotted path if present and notifies as Set
// does.
func (s *Store) Delete(path string, notify bool) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == Wildcard {
		return
	}

	s.mu.Lock()
	segments := strings.Split(trimmed, ".")
	node := s.tree
	ok := true
	for _, segment := range segments[:len(segments)-1] {
		node, ok = node[segment].(map[string]any)
		if !ok {
			break
		}
	}
	var pending []notification
	if ok {
		if _, exists := node[segments[len(segments)-1]]; exists {
			delete(node, segments[len(segments)-1])
			if notify {
				pending = s.collect(trimmed)
			}
		}
	}
	s.mu.Unlock()

	s.dispatch(pending)
}

// Subscribe registers a callback on the dotted path (or the wildcard) and
// invokes it once immediately with the current value. Panics raised by that
// first invocation are recovered and logged, not propagated. The returned
// function removes the subscription.
func (s *Store) Subscribe(path string, fn Callback) func() {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = Wildcard
	}
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	sub := &subscription{id: s.nextID, path: trimmed, fn: fn}
	s.subs[trimmed] = append(s.subs[trimmed], sub)
	value, _ := s.lookup(trimmed)
	s.mu.Unlock()

	s.invoke(sub, value)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.subs[trimmed]
		for i, candidate := range entries {
			if candidate.id == sub.id {
				s.subs[trimmed] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(s.subs[trimmed]) == 0 {
			delete(s.subs, trimmed)
		}
	}
}

// Snapshot returns a copy of the whole tree.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTree(s.tree)
}

type notification struct {
	sub   *subscription
	value any
}

// collect gathers subscriber invocations for a write at path; caller holds the
// lock.
func (s *Store) collect(path string) []notification {
	paths := notifyPaths(path)
	var pending []notification
	for _, candidate := range paths {
		for _, sub := range s.subs[candidate] {
			value, _ := s.lookup(candidate)
			pending = append(pending, notification{sub: sub, value: value})
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].sub.id < pending[j].sub.id
	})
	return pending
}

func (s *Store) dispatch(pending []notification) {
	for _, entry := range pending {
		s.invoke(entry.sub, entry.value)
	}
}

func (s *Store) invoke(sub *subscription, value any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger("state.subscriber_panic", map[string]any{
				"path":  sub.path,
				"panic": r,
			})
		}
	}()
	sub.fn(value)
}

// notifyPaths returns the written path, each ancestor, and the wildcard.
func notifyPaths(path string) []string {
	segments := strings.Split(path, ".")
	paths := make([]string, 0, len(segments)+1)
	for i := len(segments); i > 0; i-- {
		paths = append(paths, strings.Join(segments[:i], "."))
	}
	paths = append(paths, Wildcard)
	return paths
}

func copyTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for key, value := range tree {
		if child, ok := value.(map[string]any); ok {
			out[key] = copyTree(child)
			continue
		}
		out[key] = value
	}
	return out
}
