package odbxuv

import "sync"

// Token identifies an anchored value in a Registry. The zero Token is
// never handed out.
type Token int

// NoToken is the absent anchor.
const NoToken Token = 0

// Registry maps small integer tokens to strongly held values. Anchoring a
// value keeps it reachable for the garbage collector until the token is
// released, which is how wrappers and execution contexts survive while
// native work is outstanding.
type Registry struct {
	mu     sync.Mutex
	values []any // index 0 unused
	used   []bool
	free   []Token
	count  int
}

func NewRegistry() *Registry {
	return &Registry{values: make([]any, 1), used: make([]bool, 1)}
}

// Anchor stores v and returns a fresh token. Tokens of released entries
// are reused.
func (r *Registry) Anchor(v any) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t Token
	if n := len(r.free); n > 0 {
		t = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		t = Token(len(r.values))
		r.values = append(r.values, nil)
		r.used = append(r.used, false)
	}
	r.values[t] = v
	r.used[t] = true
	r.count++
	return t
}

// Resolve returns the value anchored under t.
func (r *Registry) Resolve(t Token) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid(t) {
		return nil, false
	}
	return r.values[t], true
}

// Release drops the anchor. Releasing an unknown token is an invariant
// violation.
func (r *Registry) Release(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid(t) {
		invariant("release of unknown registry token %d", t)
	}
	r.values[t] = nil
	r.used[t] = false
	r.free = append(r.free, t)
	r.count--
}

// Len reports the number of live anchors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Each calls fn for every live anchor in token order.
func (r *Registry) Each(fn func(t Token, v any)) {
	r.mu.Lock()
	type entry struct {
		t Token
		v any
	}
	entries := make([]entry, 0, r.count)
	for i := 1; i < len(r.values); i++ {
		if r.used[i] {
			entries = append(entries, entry{Token(i), r.values[i]})
		}
	}
	r.mu.Unlock()
	for _, e := range entries {
		fn(e.t, e.v)
	}
}

func (r *Registry) valid(t Token) bool {
	return t > 0 && int(t) < len(r.values) && r.used[t]
}
