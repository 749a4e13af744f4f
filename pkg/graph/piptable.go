package graph

import "fmt"

// PipTable owns every Pip in a graph and indexes them by identifier and by
// static fingerprint. The fingerprint index is what lets
// PartialReuseCoordinator find, in a reloaded graph, the pip that
// corresponds to a pip in the new graph without walking the whole table
// (spec.md §4.G).
type PipTable struct {
	pips          []*Pip
	byFingerprint map[[32]byte][]PipID
}

// NewPipTable creates an empty pip table. Identifier 0 (InvalidPip) is
// reserved.
func NewPipTable() *PipTable {
	return &PipTable{
		pips:          make([]*Pip, 1),
		byFingerprint: make(map[[32]byte][]PipID),
	}
}

// Add inserts pip into the table, assigning it a fresh identifier. The
// caller must not have set pip.ID; Add sets it.
func (t *PipTable) Add(pip *Pip) PipID {
	id := PipID(len(t.pips))
	pip.ID = id
	t.pips = append(t.pips, pip)
	t.byFingerprint[pip.StaticFingerprint] = append(t.byFingerprint[pip.StaticFingerprint], id)
	return id
}

// AddAt inserts pip under a pre-existing identifier rather than minting a
// fresh one, extending the table if necessary. PartialReuseCoordinator uses
// this to carry a reused pip's identifier forward unchanged across a reload,
// so that any not-yet-rebuilt edge referencing the old identifier remains
// valid (spec.md §4.G: "reuse the pip-id and preserve outgoing edges").
func (t *PipTable) AddAt(id PipID, pip *Pip) error {
	if id == InvalidPip {
		return fmt.Errorf("cannot insert at the reserved invalid pip identifier")
	}
	for PipID(len(t.pips)) <= id {
		t.pips = append(t.pips, nil)
	}
	if t.pips[id] != nil {
		return fmt.Errorf("pip identifier %d is already occupied", id)
	}
	pip.ID = id
	t.pips[id] = pip
	t.byFingerprint[pip.StaticFingerprint] = append(t.byFingerprint[pip.StaticFingerprint], id)
	return nil
}

// Get returns the pip with the given identifier.
func (t *PipTable) Get(id PipID) (*Pip, error) {
	if id == InvalidPip || int(id) >= len(t.pips) || t.pips[id] == nil {
		return nil, fmt.Errorf("invalid pip identifier: %d", id)
	}
	return t.pips[id], nil
}

// Len returns the number of occupied pip slots in the table, excluding the
// reserved sentinel entry and any gap AddAt left unfilled.
func (t *PipTable) Len() int {
	count := 0
	for _, p := range t.pips[1:] {
		if p != nil {
			count++
		}
	}
	return count
}

// ByFingerprint returns every pip identifier sharing the given static
// fingerprint. Most fingerprints map to exactly one pip; collisions are
// possible when two pips are declared identically (e.g. a fan-out pattern)
// and are resolved by PartialReuseCoordinator using graph position.
func (t *PipTable) ByFingerprint(fingerprint [32]byte) []PipID {
	return t.byFingerprint[fingerprint]
}

// All returns every occupied pip in the table, in identifier order, skipping
// any gap AddAt left unfilled.
func (t *PipTable) All() []*Pip {
	pips := make([]*Pip, 0, len(t.pips)-1)
	for _, p := range t.pips[1:] {
		if p != nil {
			pips = append(pips, p)
		}
	}
	return pips
}
