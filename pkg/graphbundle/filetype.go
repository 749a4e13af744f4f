package graphbundle

// FileType identifies one of the ordered typed files making up a
// SerializedGraphBundle (spec.md §4.D).
type FileType uint8

const (
	FileTypePathTable FileType = iota
	FileTypeStringTable
	FileTypeSymbolTable
	FileTypeQualifierTable
	FileTypePipTable
	FileTypeDirectedGraph
	FileTypePipGraphID
	FileTypeMountPathExpander
	FileTypeHistoricTableSizes
	FileTypeConfigState
	FileTypePreviousInputs
	FileTypePreviousInputsJournalCheckpoint
)

// fileNames gives each FileType its on-disk base name, in the order the
// bundle's files are listed in spec.md §4.D.
var fileNames = map[FileType]string{
	FileTypePathTable:                       "pathTable",
	FileTypeStringTable:                     "stringTable",
	FileTypeSymbolTable:                     "symbolTable",
	FileTypeQualifierTable:                  "qualifierTable",
	FileTypePipTable:                        "pipTable",
	FileTypeDirectedGraph:                   "pipGraph",
	FileTypePipGraphID:                      "pipGraphId",
	FileTypeMountPathExpander:               "mountPathExpander",
	FileTypeHistoricTableSizes:              "historicTableSizes",
	FileTypeConfigState:                     "configState",
	FileTypePreviousInputs:                  "previousInputs",
	FileTypePreviousInputsJournalCheckpoint: "previousInputsJournalCheckpoint",
}

// AllFileTypes lists the graph-bundle file types in a fixed order. It omits
// FileTypePreviousInputs and FileTypePreviousInputsJournalCheckpoint;
// WritePipGraph and BuildDescriptor do not iterate over it.
var AllFileTypes = []FileType{
	FileTypePathTable,
	FileTypeStringTable,
	FileTypeSymbolTable,
	FileTypeQualifierTable,
	FileTypePipTable,
	FileTypeDirectedGraph,
	FileTypePipGraphID,
	FileTypeMountPathExpander,
	FileTypeHistoricTableSizes,
	FileTypeConfigState,
}

func (f FileType) String() string {
	if name, ok := fileNames[f]; ok {
		return name
	}
	return "unknown"
}

// bundleVersion is the envelope version written for every bundle file
// belonging to this release; bumping it invalidates every existing bundle on
// read (ReadEnvelope rejects any other version).
const bundleVersion uint32 = 1

// previousInputsVersion is the envelope version for the PreviousInputs file
// specifically (spec.md's "v5" body layout); it is tracked separately from
// bundleVersion because PreviousInputs evolves on its own cadence as
// InputTracker's recorded fields grow.
const previousInputsVersion uint32 = 5
