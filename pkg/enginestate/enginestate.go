// Package enginestate implements EngineStateCarry (spec.md §4.I): within a
// single long-running host process, it retains the previous invocation's
// in-memory context -- path table, string/symbol/qualifier tables, pip
// table, pip graph, and mount expander -- keyed by a per-graph identifier,
// so a matching next invocation can reuse it instead of reconstructing
// everything from a bundle on disk.
//
// Ownership of a Context is exclusive and transfers explicitly: a live
// schedule hands it to Carry on completion, and Carry hands it back (or
// disposes of it) on the next invocation's entry. pkg/state's TrackingLock
// and Marker -- carried from mutagen's session-state bookkeeping -- guard
// that single-owner invariant and its invalidation signal.
package enginestate

import (
	"errors"

	"github.com/buildcore/pipcache/pkg/graph"
	"github.com/buildcore/pipcache/pkg/ledger"
	"github.com/buildcore/pipcache/pkg/mount"
	"github.com/buildcore/pipcache/pkg/state"
)

// ErrContextInvalidated is returned by a Context accessor once the context
// has been disposed (spec.md §9 "context invalidation": "new allocations
// against it must fail" rather than silently reading stale state).
var ErrContextInvalidated = errors.New("in-memory context has been invalidated")

// Context is one retained in-memory invocation state, keyed by GraphID (a
// graph-bundle identifier minted by pkg/identifier with PrefixGraphBundle).
type Context struct {
	GraphID string
	Graph   *graph.PipGraph
	Mounts  *mount.Expander
	History graph.HistoricTableSizes

	invalidated state.Marker
}

// Snapshot returns the context's graph and mount expander, or
// ErrContextInvalidated if this context has already been disposed. Callers
// must use this accessor rather than reading the Graph/Mounts fields
// directly once a Context may have been handed off to Carry, since Carry
// can invalidate it concurrently from another invocation's entry.
func (c *Context) Snapshot() (*graph.PipGraph, *mount.Expander, error) {
	if c.invalidated.Marked() {
		return nil, nil, ErrContextInvalidated
	}
	return c.Graph, c.Mounts, nil
}

// invalidate marks c permanently unusable and bumps the generation counter
// of its path table, so any identifier captured against it before disposal
// is now attributable to a stale generation (spec.md §9).
func (c *Context) invalidate() {
	c.invalidated.Mark()
	if c.Graph != nil && c.Graph.Paths != nil {
		c.Graph.Paths.Invalidate()
	}
}

// Carry holds at most one live Context, implementing the "only one instance
// is live at a time; ownership transfers from the schedule to the carry and
// back" rule of spec.md §4.I.
type Carry struct {
	current *Context
	tracker *state.Tracker
	lock    *state.TrackingLock
}

// NewCarry creates an empty carry with no retained context.
func NewCarry() *Carry {
	tracker := state.NewTracker()
	return &Carry{
		tracker: tracker,
		lock:    state.NewTrackingLock(tracker),
	}
}

// Retain stores ctx as the carry's current context, disposing of and
// invalidating whatever context was previously retained (if any). The
// caller is transferring ownership of ctx to the carry and must not touch
// it again directly.
func (c *Carry) Retain(ctx *Context) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.current != nil {
		c.current.invalidate()
	}
	c.current = ctx
}

// Reload implements the entry-point decision of spec.md §4.I: if
// graphIDToReload matches the retained context's GraphID, ownership
// transfers to the caller and the carry is left empty (reuse is
// single-shot: a reused Context must be Retain()-ed again by its new owner
// if it should survive to the invocation after this one). Otherwise the
// retained context (if any) is invalidated and disposed, and Reload reports
// no match.
func (c *Carry) Reload(graphIDToReload string) (*Context, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.current == nil {
		return nil, false
	}
	if c.current.GraphID != graphIDToReload {
		c.current.invalidate()
		c.current = nil
		return nil, false
	}

	reused := c.current
	c.current = nil
	return reused, true
}

// Dispose invalidates and discards the currently retained context, if any,
// without regard to its GraphID. Used on clean shutdown.
func (c *Carry) Dispose() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.current != nil {
		c.current.invalidate()
		c.current = nil
	}
}

// HasExpensivePips reports whether any pip in c's graph has a recorded
// running-time sample at or above threshold, per table (spec.md §5
// supplemented feature 1). cmd/pipcache logs the result; Carry.Retain does
// not consult it, so a context is retained whatever this reports.
func (c *Context) HasExpensivePips(table *ledger.RunningTimeTable, threshold uint64) bool {
	if c.Graph == nil || c.Graph.Pips == nil {
		return false
	}
	for _, pip := range c.Graph.Pips.All() {
		if elapsed, ok := table.Lookup(pip.StaticFingerprint); ok && elapsed >= threshold {
			return true
		}
	}
	return false
}

// PermitsReuse reports whether ctx's own recorded table-size history
// clears the historic-size heuristic (spec.md §3) that gates both plain
// context reuse and handoff to PartialReuseCoordinator (spec.md §4.G).
func (c *Context) PermitsReuse() bool {
	return graph.PermitsContextReuse(c.History)
}
