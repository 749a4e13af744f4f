package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildcore/pipcache/cmd"
	"github.com/buildcore/pipcache/pkg/cachefacade"
	"github.com/buildcore/pipcache/pkg/contentcache"
	"github.com/buildcore/pipcache/pkg/engine"
	"github.com/buildcore/pipcache/pkg/enginestate"
	"github.com/buildcore/pipcache/pkg/fingerprint"
	"github.com/buildcore/pipcache/pkg/folderlock"
	"github.com/buildcore/pipcache/pkg/graph"
	"github.com/buildcore/pipcache/pkg/graphbundle"
	"github.com/buildcore/pipcache/pkg/graphcache"
	"github.com/buildcore/pipcache/pkg/graphcache/peer"
	"github.com/buildcore/pipcache/pkg/identifier"
	"github.com/buildcore/pipcache/pkg/inputtracker"
	"github.com/buildcore/pipcache/pkg/inputtracker/journal"
	"github.com/buildcore/pipcache/pkg/ledger"
	"github.com/buildcore/pipcache/pkg/logging"
	"github.com/buildcore/pipcache/pkg/mount"
	"github.com/buildcore/pipcache/pkg/must"
	"github.com/buildcore/pipcache/pkg/partialreuse"
	"github.com/buildcore/pipcache/pkg/pathid"
	"github.com/buildcore/pipcache/pkg/sideband"
)

// runningTimeThresholdMillis is the threshold passed to
// enginestate.Context.HasExpensivePips (SPEC_FULL.md §5 supplemented
// feature 1). The result is only logged; the finished context is retained
// whether or not any pip reaches this duration.
const runningTimeThresholdMillis = 500

var (
	engineCacheDirFlag string
	primaryConfigFile  string
	logsFolder         string
	moduleName         string
	distributedBuild   bool
	workerRole         bool
	noLazySideband     bool
	sidebandDirFlag    string
	mountFlags         []string
	peerTarget         string
)

var buildCommand = &cobra.Command{
	Use:   "build",
	Short: "run one invocation of the graph reuse and input tracking core",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(runBuild),
}

func init() {
	flags := buildCommand.Flags()
	flags.StringVar(&engineCacheDirFlag, "engine-cache-dir", defaultEngineCacheDir(), "directory holding the engine cache, invocation ledger, and sideband files")
	flags.StringVar(&primaryConfigFile, "config", "", "path to the primary configuration file for this invocation")
	flags.StringVar(&logsFolder, "logs-folder", "", "directory this invocation's logs are written to")
	flags.StringVar(&moduleName, "module", "", "module name this invocation is building, used for peer queries")
	flags.BoolVar(&distributedBuild, "distributed", false, "run as part of a distributed build, disabling the local engine-cache tier")
	flags.BoolVar(&workerRole, "worker", false, "run with the distributed worker role, which skips the engine and content-cache tiers in favor of a peer query")
	flags.BoolVar(&noLazySideband, "no-lazy-sideband", false, "eagerly delete every shared-opaque output directory instead of verifying sideband files")
	flags.StringVar(&sidebandDirFlag, "sideband-dir", "", "directory sideband files are read from and written to (defaults to <engine-cache-dir>/sideband)")
	flags.StringArrayVar(&mountFlags, "mount", nil, "a name=path mount binding; may be specified multiple times")
	flags.StringVar(&peerTarget, "peer", "", "address of an orchestrator to query for peer-tier cache lookups (distributed workers only)")
}

func defaultEngineCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".pipcache")
	}
	return ".pipcache"
}

// runBuild drives the control flow a schedule runs before (and immediately
// after) the spec-language front-end does its own work: lock, ledger, graph
// fingerprint, cache lookup, input verification, partial reuse or rebuild,
// sideband reconciliation, and in-memory context retention. The front-end
// and scheduler themselves are out of this core's scope, so a full miss
// below produces an empty graph rather than one populated by evaluating real
// specifications.
func runBuild(command *cobra.Command, _ []string) error {
	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.RootLogger.Sublogger("build")

	graphDir := filepath.Join(engineCacheDirFlag, "graph")
	recordPath := filepath.Join(engineCacheDirFlag, "inputs.record")
	sidebandDir := sidebandDirFlag
	if sidebandDir == "" {
		sidebandDir = filepath.Join(engineCacheDirFlag, "sideband")
	}

	// Step 1: FolderLock (J) and InvocationLedger (K).
	lock, err := folderlock.Acquire(ctx, engineCacheDirFlag, folderlock.DefaultPolicy, logger)
	if err != nil {
		return fmt.Errorf("acquire folder lock: %w", err)
	}
	defer must.Release(lock, logger)

	sessionID, err := identifier.New(identifier.PrefixInvocation)
	if err != nil {
		return fmt.Errorf("mint invocation identifier: %w", err)
	}
	binFolder, err := engine.DeploymentDirectory()
	if err != nil {
		logger.Warnf("determine deployment directory: %s", err)
	}

	invocationLedger := ledger.New(engineCacheDirFlag, logger)
	startTime := time.Now()
	invocationLedger.Append(lock, ledger.Entry{
		SessionID:         sessionID,
		StartTimeUTC:      startTime.UTC(),
		PrimaryConfigFile: primaryConfigFile,
		LogsFolder:        logsFolder,
		EngineVersion:     engine.Version,
		EngineBinFolder:   binFolder,
	})

	// Path table and mount expander (A), populated from --mount flags.
	paths := pathid.NewTable()
	expander := mount.New(paths)
	mountRoots := make(map[string]string, len(mountFlags))
	for _, raw := range mountFlags {
		name, path, ok := splitMountFlag(raw)
		if !ok {
			logger.Warnf("ignoring malformed --mount value %q", raw)
			continue
		}
		id, err := paths.Intern(path)
		if err != nil {
			logger.Warnf("intern mount root %q: %s", path, err)
			continue
		}
		if err := expander.AddMount(name, id, false); err != nil {
			logger.Warnf("register mount %q: %s", name, err)
			continue
		}
		mountRoots[name] = path
	}

	// Step 2: GraphFingerprinter (C).
	builder := fingerprint.NewBuilder()
	builder.HostEnvironment(false)
	builder.AddString("PrimaryConfigFile", primaryConfigFile)
	builder.AddStrings("MountNames", expander.Names())
	builder.AdditionalSalts()
	composite := builder.Build()

	// CacheFacade (E), backed by an in-process content-addressed store for
	// this invocation; a long-running host process would instead keep one
	// Facade alive across invocations.
	store := contentcache.NewMemory()
	facade := cachefacade.New(store, logger)
	defer facade.CloseAll()
	session, err := facade.CreateForContext(ctx)
	if err != nil {
		return fmt.Errorf("create cache session: %w", err)
	}

	// Load any previous invocation's InputTracker record (B) for verification.
	var previousRecord *inputtracker.Record
	if f, err := os.Open(recordPath); err == nil {
		previousRecord, err = inputtracker.ReadFromFile(f)
		must.Close(f, logger)
		if err != nil {
			logger.Warnf("read previous input record: %s", err)
			previousRecord = nil
		}
	}

	var peerClient *peer.Client
	if peerTarget != "" {
		peerClient, err = peer.Dial(ctx, peerTarget)
		if err != nil {
			logger.Warnf("dial peer %s: %s", peerTarget, err)
		} else {
			defer must.Close(peerClient, logger)
		}
	}

	role := graphcache.RoleStandalone
	if workerRole {
		role = graphcache.RoleWorker
	} else if distributedBuild {
		role = graphcache.RoleOrchestrator
	}

	verifyOpts := inputtracker.VerifyOptions{
		CurrentEnv:       environmentMap(os.Environ()),
		CurrentMounts:    mountRoots,
		CurrentComposite: composite,
		ChangeJournal:    journal.None{},
		HashFile:         hashFileContent,
		ListDirectory:    listDirectoryEntries,
		Reporter:         func(message string) { logger.Infof("input tracker: %s", message) },
	}

	// Steps 3-4: GraphCacheProtocol (F), consuming InputTracker (B).
	protocol := graphcache.New(session, peerClient, logger)
	lookupOpts := graphcache.Options{
		Role:             role,
		DistributedBuild: distributedBuild,
		Module:           moduleName,
	}
	result := protocol.Lookup(ctx, graphDir, previousRecord, verifyOpts, composite.Exact, lookupOpts)

	var finalGraph *graph.PipGraph
	var history graph.HistoricTableSizes
	if existing, err := graphbundle.ReadHistoricTableSizes(engineCacheDirFlag); err == nil {
		history = existing
	}

	switch {
	case result.Hit():
		// Full hit: install the cached graph directly, skipping the
		// front-end entirely (spec.md §2 step 4).
		logger.Infof("graph cache hit via %s tier", result.Tier)
		finalGraph = result.Graph

	case result.Reason == inputtracker.MissReasonSpecFileChanges && graph.PermitsContextReuse(history):
		// Partial hit (spec.md §2 step 5): only spec files changed, and the
		// historic-size heuristic still permits reuse. Reload the graph and
		// hand it to PartialReuseCoordinator (G); the front-end that would
		// re-declare every pip against the patchable builder is out of this
		// core's scope, so the reloaded graph is sealed unchanged.
		reloaded, _, err := graphbundle.ReadPipGraph(graphDir)
		if err != nil {
			logger.Warnf("partial reuse: read reloaded graph: %s", err)
			finalGraph = freshGraph(paths, expander)
		} else {
			coordinator, err := partialreuse.New(reloaded, history, logger)
			if err != nil {
				logger.Warnf("partial reuse: %s", err)
				finalGraph = reloaded
			} else {
				finalGraph = coordinator.Seal()
			}
		}

	default:
		// Full miss (spec.md §2 step 6): the front-end would build a new
		// graph here; this core has no front-end, so it records an empty one
		// as the result of this invocation.
		logger.Infof("graph cache miss: %s", result.Reason)
		finalGraph = freshGraph(paths, expander)
	}

	tracker := inputtracker.New(paths, journal.None{})
	if primaryConfigFile != "" {
		if err := tracker.RegisterFileAccessFromPath(mustIntern(paths, primaryConfigFile), primaryConfigFile); err != nil {
			logger.Warnf("register primary config file access: %s", err)
		}
	}

	record, err := tracker.Snapshot(environmentMap(os.Environ()), mountRoots, "", composite.Exact, composite.Compatible, nil, nil, nil)
	if err != nil {
		logger.Warnf("snapshot input tracker record: %s", err)
	} else if f, err := os.Create(recordPath); err != nil {
		logger.Warnf("create input record file: %s", err)
	} else {
		if err := inputtracker.WriteToFile(f, record); err != nil {
			logger.Warnf("write input record: %s", err)
		}
		must.Close(f, logger)
	}

	// Persist the rebuilt or patched graph (D) and record its descriptor in
	// this invocation's CacheFacade session (E). Only the descriptor is
	// stored; the table files themselves are not put into the content store.
	history.Pips = graph.Record(history.Pips, graph.TableSizeSample{EntryCount: len(finalGraph.Pips.All())})
	atomicToken, err := graphbundle.NewAtomicSaveToken()
	if err != nil {
		logger.Warnf("mint atomic save token: %s", err)
	} else if err := graphbundle.WritePipGraph(graphDir, finalGraph, history, atomicToken, true); err != nil {
		logger.Warnf("write graph bundle: %s", err)
	} else if descriptor, err := graphbundle.BuildDescriptor(finalGraph); err != nil {
		logger.Warnf("build cache descriptor: %s", err)
	} else if !session.TryStoreTwoPhase(ctx, composite.Exact, descriptor.ContentFingerprint(), descriptor) {
		logger.Warnf("store graph descriptor in content cache")
	}

	// Step 7: SidebandExaminer (H), run before anything would be scheduled
	// against finalGraph's shared-opaque output directories.
	examiner := sideband.New(logger)
	examiner.Reconcile(ctx, finalGraph, sideband.Options{
		LazyDeletionEnabled: !noLazySideband,
		SidebandDir:         sidebandDir,
	})

	// EngineStateCarry (I): retain the finished context for the next
	// invocation in this process, and record per-pip running times (spec.md
	// §5 supplemented feature 1), which HasExpensivePips reads back; its
	// result is logged and does not change whether the context is retained.
	runningTimes := ledger.NewRunningTimeTable(engineCacheDirFlag, logger)

	graphID, err := identifier.New(identifier.PrefixGraphBundle)
	if err != nil {
		logger.Warnf("mint graph identifier: %s", err)
	} else {
		retained := &enginestate.Context{
			GraphID: graphID,
			Graph:   finalGraph,
			Mounts:  expander,
			History: history,
		}
		if retained.HasExpensivePips(runningTimes, runningTimeThresholdMillis) {
			logger.Infof("retained context %s carries at least one expensive pip; worth keeping warm", graphID)
		}
		carry := enginestate.NewCarry()
		carry.Retain(retained)
	}

	elapsedMillis := uint64(time.Since(startTime).Milliseconds())
	for _, pip := range finalGraph.Pips.All() {
		if pip.Kind == graph.PipKindProcess {
			runningTimes.Record(pip.StaticFingerprint, elapsedMillis)
		}
	}

	logger.Infof("invocation %s finished in %s", sessionID, time.Since(startTime))
	return nil
}

func freshGraph(paths *pathid.Table, expander *mount.Expander) *graph.PipGraph {
	g := graph.NewPipGraph()
	g.Paths = paths
	g.Mounts = mountSnapshot(expander)
	return g
}

func mountSnapshot(expander *mount.Expander) graph.MountMapSnapshot {
	names := expander.Names()
	snapshot := graph.MountMapSnapshot{Names: names, Roots: make([]pathid.ID, 0, len(names))}
	for _, name := range names {
		roots, ok := expander.Roots(name)
		if !ok || len(roots) == 0 {
			snapshot.Roots = append(snapshot.Roots, pathid.Invalid)
			continue
		}
		snapshot.Roots = append(snapshot.Roots, roots[0])
	}
	return snapshot
}

func mustIntern(paths *pathid.Table, path string) pathid.ID {
	id, err := paths.Intern(path)
	if err != nil {
		return pathid.Invalid
	}
	return id
}

func splitMountFlag(raw string) (name, path string, ok bool) {
	parts := strings.SplitN(raw, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func environmentMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			out[kv[:idx]] = kv[idx+1:]
		}
	}
	return out
}

func hashFileContent(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum, nil
}

func listDirectoryEntries(path string) ([]inputtracker.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]inputtracker.DirEntry, len(entries))
	for i, entry := range entries {
		out[i] = inputtracker.DirEntry{Name: entry.Name(), IsDir: entry.IsDir()}
	}
	return out, nil
}
