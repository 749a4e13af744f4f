package graph

import "github.com/buildcore/pipcache/pkg/pathid"

// PipID identifies a single pip (unit of scheduled work) within a PipGraph.
// Like pathid.ID, PipID is only meaningful relative to the PipTable that
// minted it.
type PipID uint32

// InvalidPip is the identifier for "no pip."
const InvalidPip PipID = 0

// PipKind distinguishes the handful of pip shapes the core cares about. The
// full build engine has many more pip kinds; everything this core doesn't
// need to reason about (ad-hoc pips, IPC pips used only for scheduling
// ordering, module pips) is folded into PipKindOther.
type PipKind uint8

const (
	// PipKindOther covers scheduling-only or unrecognized pip kinds that
	// carry no filesystem side effects this core needs to track.
	PipKindOther PipKind = iota
	// PipKindProcess is a process invocation: the dominant pip kind, and the
	// only kind that can own shared-opaque-directory outputs (spec.md §4.H).
	PipKindProcess
	// PipKindCopyFile copies one file to another path.
	PipKindCopyFile
	// PipKindWriteFile writes literal content to a path.
	PipKindWriteFile
	// PipKindSealDirectory seals a set of inputs into a named directory
	// cone, making them consumable as a single dependency by downstream
	// pips without each of them listing every member file.
	PipKindSealDirectory
)

func (k PipKind) String() string {
	switch k {
	case PipKindProcess:
		return "Process"
	case PipKindCopyFile:
		return "CopyFile"
	case PipKindWriteFile:
		return "WriteFile"
	case PipKindSealDirectory:
		return "SealDirectory"
	default:
		return "Other"
	}
}

// Pip is a single scheduled unit of work. Every path-valued field stores a
// pathid.ID from the graph's shared path table, never a string (spec.md
// §3).
type Pip struct {
	ID   PipID
	Kind PipKind

	// ModuleSymbol and ValueSymbol index into the graph's SymbolTable and
	// identify which build-file value declared this pip.
	ModuleSymbol uint32
	ValueSymbol  uint32

	// QualifierIndex indexes into the graph's QualifierTable.
	QualifierIndex uint32

	// StaticFingerprint is the content hash of everything about this pip's
	// declaration that is knowable without running it: its kind-specific
	// fields, its declared dependencies' identities (not their content), and
	// its qualifier. PartialReuseCoordinator keys pip reuse off this value
	// (spec.md §4.G).
	StaticFingerprint [32]byte

	// Dependencies lists the pips that must run before this one, in
	// declaration order.
	Dependencies []PipID

	// FileDependencies and DirectoryDependencies list declared input paths.
	FileDependencies      []pathid.ID
	DirectoryDependencies []pathid.ID

	// FileOutputs lists declared output file paths.
	FileOutputs []pathid.ID

	// SharedOpaqueOutputs lists shared-opaque output directory roots owned
	// by this pip. Only process pips may populate this (spec.md §4.H:
	// SidebandExaminer only examines process pips with shared opaque
	// outputs).
	SharedOpaqueOutputs []pathid.ID

	// ExclusiveOpaqueOutputs lists exclusive-opaque output directory roots:
	// directories this pip fully owns and whose entire contents are
	// considered its output (no sideband tracking needed, since nothing
	// else can write there).
	ExclusiveOpaqueOutputs []pathid.ID
}

// HasSharedOpaqueOutputs reports whether this pip owns at least one shared
// opaque output directory and is therefore a candidate for sideband
// examination.
func (p *Pip) HasSharedOpaqueOutputs() bool {
	return p.Kind == PipKindProcess && len(p.SharedOpaqueOutputs) > 0
}
