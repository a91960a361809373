// Package pending keeps the bookkeeping of in-flight calls on a multiplexed connection.
//
// Each call is registered under its correlation id before its request is sent. The router
// later resolves, rejects, ends or feeds chunks to the entry by id:
//
//	Register(id) ──► DispatchChunk(id)* ──► Resolve | End | Reject ──► removed
//	                         └─────────────────── Cancel ────────────► removed (no callback)
//
// An entry is terminal at most once. After removal any envelope for that id is stale.
package pending

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrStale means no entry exists for the id: it completed, was cancelled, or never existed.
	ErrStale = errors.New("stale response")
	// ErrDuplicateID means an entry is already registered under the id.
	ErrDuplicateID = errors.New("duplicate correlation id")
	// ErrStreaming means a single-value outcome was addressed to a streaming call.
	ErrStreaming = errors.New("call is streaming")
	// ErrNotStreaming means a stream-only outcome was addressed to a unary call.
	ErrNotStreaming = errors.New("call is not streaming")
	// ErrInvalidHandlers means a completion continuation is missing.
	ErrInvalidHandlers = errors.New("success and failure handlers are required")
)

// Handlers are the continuations of one call. OnSuccess and OnFailure are mutually exclusive
// and each runs at most once. OnChunk is set only for streaming calls; its presence is what
// makes a call streaming.
type Handlers struct {
	OnSuccess func(payload json.RawMessage)
	OnFailure func(err error)
	OnChunk   func(payload json.RawMessage)
}

type entry struct {
	Handlers

	mu         sync.Mutex // Never held while a handler runs
	terminal   bool
	delivering bool   // OnChunk is running
	deferred   func() // Completion that arrived during delivery
}

func (e *entry) streaming() bool {
	return e.OnChunk != nil
}

// settle marks e terminal and runs fn. If a chunk is being delivered, fn runs on the delivering
// goroutine right after OnChunk returns, so a completion never overtakes a chunk. It reports
// false if e was already terminal.
func (e *entry) settle(fn func()) bool {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return false
	}
	e.terminal = true
	if e.delivering {
		e.deferred = fn
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// deliver runs OnChunk unless e is terminal. No chunk starts once e has been settled.
func (e *entry) deliver(payload json.RawMessage) bool {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return false
	}
	e.delivering = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.delivering = false
		fn := e.deferred
		e.deferred = nil
		e.mu.Unlock()
		if fn != nil {
			fn()
		}
	}()
	e.OnChunk(payload)
	return true
}

// Registry maps correlation ids to pending calls. It is safe for concurrent use; handlers are
// always invoked without the registry lock held so they may call back into the registry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an entry for id.
func (r *Registry) Register(id string, h Handlers) error {
	if h.OnSuccess == nil || h.OnFailure == nil {
		return ErrInvalidHandlers
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return ErrDuplicateID
	}
	r.entries[id] = &entry{Handlers: h}
	return nil
}

// Lookup reports whether id is pending and whether it is a streaming call.
func (r *Registry) Lookup(id string) (streaming, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false, false
	}
	return e.streaming(), true
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Resolve completes a unary call with its value.
func (r *Registry) Resolve(id string, payload json.RawMessage) error {
	e, err := r.take(id, func(e *entry) error {
		if e.streaming() {
			return ErrStreaming
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !e.settle(func() { e.OnSuccess(payload) }) {
		return ErrStale
	}
	return nil
}

// End completes a streaming call after its end marker.
func (r *Registry) End(id string) error {
	e, err := r.take(id, func(e *entry) error {
		if !e.streaming() {
			return ErrNotStreaming
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !e.settle(func() { e.OnSuccess(nil) }) {
		return ErrStale
	}
	return nil
}

// Reject fails a call of either kind.
func (r *Registry) Reject(id string, cause error) error {
	e, err := r.take(id, nil)
	if err != nil {
		return err
	}
	if !e.settle(func() { e.OnFailure(cause) }) {
		return ErrStale
	}
	return nil
}

// DispatchChunk hands one stream item to a streaming call. The entry stays pending.
func (r *Registry) DispatchChunk(id string, payload json.RawMessage) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return ErrStale
	}
	if !e.streaming() {
		return ErrNotStreaming
	}
	// Cancelled or completed between lookup and here.
	if !e.deliver(payload) {
		return ErrStale
	}
	return nil
}

// Cancel removes id without invoking any handler. A chunk already being delivered finishes;
// no chunk starts afterwards.
func (r *Registry) Cancel(id string) error {
	e, err := r.take(id, nil)
	if err != nil {
		return err
	}
	if !e.settle(nil) {
		return ErrStale
	}
	return nil
}

// RejectAll fails every pending call with cause and leaves the registry empty. It returns the
// number of calls rejected. drained, when non-nil, runs once every failure has been delivered,
// including failures held back behind a chunk that was being delivered.
func (r *Registry) RejectAll(cause error, drained func()) int {
	r.mu.Lock()
	victims := make([]*entry, 0, len(r.entries))
	for id, e := range r.entries {
		victims = append(victims, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	var outstanding atomic.Int64
	outstanding.Store(1)
	release := func() {
		if outstanding.Add(-1) == 0 && drained != nil {
			drained()
		}
	}

	n := 0
	for _, e := range victims {
		e := e
		outstanding.Add(1)
		if e.settle(func() {
			defer release()
			e.OnFailure(cause)
		}) {
			n++
		} else {
			release()
		}
	}
	release()
	return n
}

// Clear drops every entry without invoking handlers and returns how many were dropped.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		e.settle(nil)
		delete(r.entries, id)
		n++
	}
	return n
}

// take removes id if check allows it. Whoever then settles the entry owns the only right to
// invoke its completion.
func (r *Registry) take(id string, check func(*entry) error) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrStale
	}
	if check != nil {
		if err := check(e); err != nil {
			return nil, err
		}
	}
	delete(r.entries, id)
	return e, nil
}
