package pathid

import "fmt"

// Remapper translates identifiers minted by an old Table into the
// equivalent identifiers of a new Table, per spec.md §3: "identifiers from
// different tables must never be mixed; a PathRemapper translates
// identifiers between an old and a new table when a reloaded table replaces
// a live one." Translation is lazy and memoized: each old identifier is
// expanded to a path string once and interned into the new table once.
type Remapper struct {
	old   *Table
	new   *Table
	cache map[ID]ID
}

// NewRemapper constructs a remapper from the old table to the new one.
func NewRemapper(old, new *Table) *Remapper {
	return &Remapper{
		old:   old,
		new:   new,
		cache: make(map[ID]ID),
	}
}

// Translate converts an identifier from the old table's namespace into the
// new table's namespace, interning any path components not already present
// in the new table.
func (r *Remapper) Translate(oldID ID) (ID, error) {
	if oldID == Invalid {
		return Invalid, nil
	}
	if newID, ok := r.cache[oldID]; ok {
		return newID, nil
	}
	path, err := r.old.Expand(oldID)
	if err != nil {
		return Invalid, fmt.Errorf("unable to expand old identifier %d: %w", oldID, err)
	}
	newID, err := r.new.Intern(path)
	if err != nil {
		return Invalid, fmt.Errorf("unable to intern %q into new table: %w", path, err)
	}
	r.cache[oldID] = newID
	return newID, nil
}

// TranslateAll translates a slice of old-table identifiers in place order,
// returning a freshly allocated slice (the input is never mutated).
func (r *Remapper) TranslateAll(oldIDs []ID) ([]ID, error) {
	result := make([]ID, len(oldIDs))
	for i, id := range oldIDs {
		translated, err := r.Translate(id)
		if err != nil {
			return nil, err
		}
		result[i] = translated
	}
	return result, nil
}
