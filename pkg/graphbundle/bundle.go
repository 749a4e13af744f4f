package graphbundle

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/buildcore/pipcache/pkg/graph"
	"github.com/buildcore/pipcache/pkg/pathid"
)

// pathTableBody, stringTableBody, symbolTableBody, and so on are the
// gob-encoded shapes written for each table file. None of these need a
// bespoke binary layout -- spec.md only fixes the wire format for the
// envelope itself and for PreviousInputs (see previousinputs.go) -- so
// encoding/gob carries the rest, the same justified choice already made for
// InputTracker's Record (no protoc toolchain is available to generate a
// proto message, and gob is stdlib's schema-free binary codec).
type pathTableBody struct{ Entries []pathid.Entry }
type stringTableBody struct{ Values []string }
type pipTableBody struct{ Pips []*graph.Pip }
type directedGraphBody struct {
	Nodes []graph.PipID
	Edges []graph.Edge
}
type mountExpanderBody struct{ Snapshot graph.MountMapSnapshot }
type historicTableSizesBody struct{ Sizes graph.HistoricTableSizes }

// WritePipGraph writes the table files of a PipGraph (path, string, symbol,
// qualifier and pip tables, the pip graph, the mount expander snapshot, and
// the historic table sizes; not pipGraphId, configState or the previous-inputs
// files) into dir, one file per FileType, in parallel -- spec.md §4.D:
// "table files are written concurrently; the bundle is only considered
// durable once every write has completed." atomicToken is stamped into
// every file's envelope so a reader can confirm all files in a directory
// belong to the same save.
func WritePipGraph(dir string, g *graph.PipGraph, history graph.HistoricTableSizes, atomicToken [16]byte, compress bool) error {
	bodies := map[FileType]interface{}{
		FileTypePathTable:          pathTableBody{Entries: g.Paths.Entries()},
		FileTypeStringTable:        stringTableBody{Values: g.Strings.Entries()},
		FileTypeSymbolTable:        stringTableBody{Values: g.Symbols.Entries()},
		FileTypeQualifierTable:     stringTableBody{Values: g.Qualifiers.Entries()},
		FileTypePipTable:           pipTableBody{Pips: g.Pips.All()},
		FileTypeDirectedGraph:      directedGraphBody{Nodes: g.Edges.Nodes(), Edges: g.Edges.Edges()},
		FileTypeMountPathExpander:  mountExpanderBody{Snapshot: g.Mounts},
		FileTypeHistoricTableSizes: historicTableSizesBody{Sizes: history},
	}

	tasks := make([]FileType, 0, len(bodies))
	for ft := range bodies {
		tasks = append(tasks, ft)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, ft := range tasks {
		wg.Add(1)
		go func(i int, ft FileType) {
			defer wg.Done()
			errs[i] = writeFile(dir, ft, bodies[ft], atomicToken, compress)
		}(i, ft)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadPipGraph reads back every table file WritePipGraph produces and
// reassembles a *graph.PipGraph. All files must carry a matching
// atomicToken, confirming they were written by the same save.
func ReadPipGraph(dir string) (*graph.PipGraph, [16]byte, error) {
	var pathBody pathTableBody
	var stringsBody, symbolsBody, qualifiersBody stringTableBody
	var pipsBody pipTableBody
	var edgesBody directedGraphBody
	var mountsBody mountExpanderBody

	var token [16]byte
	readOne := func(ft FileType, out interface{}) error {
		env, err := readFile(dir, ft, out)
		if err != nil {
			return fmt.Errorf("reading %s: %w", ft, err)
		}
		if token == ([16]byte{}) {
			token = env.AtomicToken
		} else if token != env.AtomicToken {
			return fmt.Errorf("%s belongs to a different save (atomic token mismatch)", ft)
		}
		return nil
	}

	if err := readOne(FileTypePathTable, &pathBody); err != nil {
		return nil, token, err
	}
	if err := readOne(FileTypeStringTable, &stringsBody); err != nil {
		return nil, token, err
	}
	if err := readOne(FileTypeSymbolTable, &symbolsBody); err != nil {
		return nil, token, err
	}
	if err := readOne(FileTypeQualifierTable, &qualifiersBody); err != nil {
		return nil, token, err
	}
	if err := readOne(FileTypePipTable, &pipsBody); err != nil {
		return nil, token, err
	}
	if err := readOne(FileTypeDirectedGraph, &edgesBody); err != nil {
		return nil, token, err
	}
	if err := readOne(FileTypeMountPathExpander, &mountsBody); err != nil {
		return nil, token, err
	}

	paths, err := pathid.FromEntries(pathBody.Entries)
	if err != nil {
		return nil, token, fmt.Errorf("rebuilding path table: %w", err)
	}

	pips := graph.NewPipTable()
	for _, p := range pipsBody.Pips {
		p.ID = 0 // Add reassigns identifiers; the original ordering is preserved.
		pips.Add(p)
	}

	edges, err := graph.FromNodesAndEdges(edgesBody.Nodes, edgesBody.Edges)
	if err != nil {
		return nil, token, fmt.Errorf("rebuilding pip graph edges: %w", err)
	}

	g := &graph.PipGraph{
		Paths:      paths,
		Strings:    &graph.StringTable{InternTable: graph.FromEntries(stringsBody.Values)},
		Symbols:    &graph.SymbolTable{InternTable: graph.FromEntries(symbolsBody.Values)},
		Qualifiers: &graph.QualifierTable{InternTable: graph.FromEntries(qualifiersBody.Values)},
		Pips:       pips,
		Edges:      edges,
		Mounts:     mountsBody.Snapshot,
	}
	return g, token, nil
}

// ReadHistoricTableSizes reads back the historic-size samples written
// alongside a graph, for EngineStateCarry's allocation heuristic.
func ReadHistoricTableSizes(dir string) (graph.HistoricTableSizes, error) {
	var body historicTableSizesBody
	_, err := readFile(dir, FileTypeHistoricTableSizes, &body)
	return body.Sizes, err
}

func writeFile(dir string, ft FileType, body interface{}, token [16]byte, compress bool) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("encoding %s: %w", ft, err)
	}

	f, err := os.Create(filepath.Join(dir, ft.String()))
	if err != nil {
		return err
	}
	defer f.Close()

	env := Envelope{Name: ft.String(), Version: bundleVersion, AtomicToken: token, Compressed: compress}
	return WriteEnvelope(f, env, buf.Bytes())
}

func readFile(dir string, ft FileType, out interface{}) (Envelope, error) {
	f, err := os.Open(filepath.Join(dir, ft.String()))
	if err != nil {
		return Envelope{}, err
	}
	defer f.Close()

	env, body, err := ReadEnvelope(f, bundleVersion)
	if err != nil {
		return Envelope{}, err
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return Envelope{}, fmt.Errorf("decoding %s: %w", ft, err)
	}
	return env, nil
}

// NewAtomicSaveToken mints a fresh 16-byte token stamped into every file of
// one bundle save, correlating them with the InputTracker record written
// alongside (spec.md §3's atomic-save-token).
func NewAtomicSaveToken() ([16]byte, error) {
	var token [16]byte
	if _, err := rand.Read(token[:]); err != nil {
		return token, err
	}
	return token, nil
}
