// Package graph holds the supporting data model shared by every component
// of the core: the path/string/symbol/qualifier tables, the pip table, and
// the directed pip graph itself (spec.md §3). It is deliberately a plain
// data package with no I/O — serialization lives in pkg/graphbundle, and
// construction/patching live in pkg/partialreuse.
package graph

// InternTable is a flat string-interning table: it assigns each distinct
// string a dense, stable index on first insertion and returns the same
// index on every subsequent insertion of an equal string. StringTable,
// SymbolTable, and QualifierTable are all instances of this same structure,
// distinguished only by the bundle file tag they serialize under (spec.md
// §3 "SerializedGraphBundle... {pathTable, stringTable, symbolTable,
// qualifierTable, ...}").
type InternTable struct {
	values  []string
	indices map[string]uint32
}

// NewInternTable creates an empty intern table.
func NewInternTable() *InternTable {
	return &InternTable{indices: make(map[string]uint32)}
}

// Intern returns the dense index for value, assigning a new one if it has
// not been seen before.
func (t *InternTable) Intern(value string) uint32 {
	if index, ok := t.indices[value]; ok {
		return index
	}
	index := uint32(len(t.values))
	t.values = append(t.values, value)
	t.indices[value] = index
	return index
}

// Lookup returns the index for value without inserting it.
func (t *InternTable) Lookup(value string) (uint32, bool) {
	index, ok := t.indices[value]
	return index, ok
}

// Value returns the string stored at index.
func (t *InternTable) Value(index uint32) (string, bool) {
	if int(index) >= len(t.values) {
		return "", false
	}
	return t.values[index], true
}

// Len returns the number of interned entries.
func (t *InternTable) Len() int {
	return len(t.values)
}

// Entries returns all interned values in index order. The returned slice
// must not be mutated by the caller.
func (t *InternTable) Entries() []string {
	return t.values
}

// FromEntries rebuilds an intern table from a snapshot produced by Entries,
// for use by pkg/graphbundle when loading a previously written table.
func FromEntries(values []string) *InternTable {
	t := &InternTable{
		values:  append([]string(nil), values...),
		indices: make(map[string]uint32, len(values)),
	}
	for i, v := range t.values {
		t.indices[v] = uint32(i)
	}
	return t
}

// StringTable interns miscellaneous free-form strings referenced by pips
// (command-line arguments, environment variable values consumed by pips,
// tool descriptions).
type StringTable struct{ *InternTable }

// NewStringTable creates an empty StringTable.
func NewStringTable() *StringTable { return &StringTable{NewInternTable()} }

// SymbolTable interns pip "value" symbols -- the named build targets that
// spec files declare pips under.
type SymbolTable struct{ *InternTable }

// NewSymbolTable creates an empty SymbolTable.
func NewSymbolTable() *SymbolTable { return &SymbolTable{NewInternTable()} }

// QualifierTable interns qualifier key/value pairs (e.g. "configuration=debug")
// in their canonical "key=value" string form.
type QualifierTable struct{ *InternTable }

// NewQualifierTable creates an empty QualifierTable.
func NewQualifierTable() *QualifierTable { return &QualifierTable{NewInternTable()} }
