// Package graphcache implements GraphCacheProtocol (spec.md §4.F): the
// ordered, role-gated sequence of lookups a schedule runs before concluding
// it must rebuild a graph from scratch. Three tiers are tried in order, each
// skipped outright when the current role or configuration rules it out:
//
//  1. Engine cache -- the graph this same host wrote to local disk on a
//     previous invocation, verified via InputTracker.
//  2. Content cache -- a graph some other invocation (anywhere) produced
//     with byte-identical content, looked up by input fingerprint through
//     CacheFacade and materialized onto disk.
//  3. Peer query -- for a worker in a distributed build, ask the
//     orchestrator what it built and run the content-cache lookup against
//     that answer.
package graphcache

import (
	"context"

	"github.com/buildcore/pipcache/pkg/cachefacade"
	"github.com/buildcore/pipcache/pkg/graph"
	"github.com/buildcore/pipcache/pkg/graphbundle"
	"github.com/buildcore/pipcache/pkg/graphcache/peer"
	"github.com/buildcore/pipcache/pkg/inputtracker"
	"github.com/buildcore/pipcache/pkg/logging"
)

// Role identifies how this process participates in a (possibly distributed)
// build, gating which lookup tiers apply.
type Role uint8

const (
	// RoleStandalone runs every tier except the peer query.
	RoleStandalone Role = iota
	// RoleOrchestrator runs the engine and content-cache tiers, and answers
	// peer queries from workers, but never issues one itself.
	RoleOrchestrator
	// RoleWorker skips the engine-cache tier (it has no local history worth
	// trusting) and the content-cache tier, and goes straight to the peer tier.
	RoleWorker
)

// Tier identifies which lookup produced a Result.
type Tier uint8

const (
	TierNone Tier = iota
	TierEngineCache
	TierContentCache
	TierPeer
)

func (t Tier) String() string {
	switch t {
	case TierEngineCache:
		return "engine-cache"
	case TierContentCache:
		return "content-cache"
	case TierPeer:
		return "peer"
	default:
		return "none"
	}
}

// Options configures which tiers Lookup may try.
type Options struct {
	Role Role

	// GraphPathOverride, DistributedBuild, and ForceUseCached each
	// independently disable the engine-cache tier (spec.md §4.F).
	GraphPathOverride string
	DistributedBuild  bool
	ForceUseCached    bool

	// Module names the graph being looked up, for peer queries.
	Module string
}

// Result is the outcome of a Lookup call.
type Result struct {
	Tier   Tier
	Graph  *graph.PipGraph
	Reason inputtracker.MissReason
}

// Hit reports whether Lookup found a usable graph.
func (r Result) Hit() bool {
	return r.Tier != TierNone
}

// Protocol runs the three-tier lookup against one CacheFacade session and an
// optional peer connection (nil outside a distributed build).
type Protocol struct {
	session *cachefacade.Session
	peer    *peer.Client
	logger  *logging.Logger
}

// New creates a Protocol. peerClient may be nil for a standalone or
// orchestrator role.
func New(session *cachefacade.Session, peerClient *peer.Client, logger *logging.Logger) *Protocol {
	return &Protocol{session: session, peer: peerClient, logger: logger}
}

// Lookup runs the ordered tiers and returns the first hit, or a miss
// carrying the most specific reason any tier determined. graphDir is the
// directory a hit's bundle is read from (and a content-cache/peer hit is
// materialized into).
func (p *Protocol) Lookup(ctx context.Context, graphDir string, record *inputtracker.Record, verifyOpts inputtracker.VerifyOptions, inputFingerprint [32]byte, opts Options) Result {
	if result, ok := p.tryEngineCache(ctx, graphDir, record, verifyOpts, opts); ok {
		return result
	} else if result.Reason != inputtracker.MissReasonNone {
		// Fall through to the other tiers, but remember this reason in case
		// nothing else hits.
		if final, ok := p.tryContentAndPeer(ctx, graphDir, inputFingerprint, opts); ok {
			return final
		}
		return result
	}

	if final, ok := p.tryContentAndPeer(ctx, graphDir, inputFingerprint, opts); ok {
		return final
	}
	return Result{Reason: inputtracker.MissReasonNone}
}

func (p *Protocol) tryContentAndPeer(ctx context.Context, graphDir string, inputFingerprint [32]byte, opts Options) (Result, bool) {
	if result, ok := p.tryContentCache(ctx, graphDir, inputFingerprint, opts); ok {
		return result, true
	}
	if opts.Role == RoleWorker {
		if result, ok := p.tryPeer(ctx, graphDir, opts); ok {
			return result, true
		}
	}
	return Result{}, false
}

// tryEngineCache is lookup tier 1. Its second return value is true only on
// a confirmed hit; a false return with MissReasonNone means the tier was
// skipped outright (not attempted), while any other reason means the tier
// ran and missed.
func (p *Protocol) tryEngineCache(ctx context.Context, graphDir string, record *inputtracker.Record, verifyOpts inputtracker.VerifyOptions, opts Options) (Result, bool) {
	if opts.GraphPathOverride != "" || opts.DistributedBuild || opts.ForceUseCached {
		return Result{}, false
	}
	if opts.Role == RoleWorker {
		return Result{}, false
	}
	if record == nil {
		// No previous invocation recorded anything to verify against yet.
		return Result{Tier: TierNone, Reason: inputtracker.MissReasonNone}, false
	}

	verification := inputtracker.Verify(ctx, record, verifyOpts)
	if !verification.Hit {
		return Result{Tier: TierNone, Reason: verification.Reason}, false
	}

	g, _, err := graphbundle.ReadPipGraph(graphDir)
	if err != nil {
		p.logger.Warnf("engine cache: read graph bundle at %s: %s", graphDir, err)
		return Result{Tier: TierNone, Reason: inputtracker.MissReasonCheckFailed}, false
	}
	return Result{Tier: TierEngineCache, Graph: g}, true
}

// tryContentCache is lookup tier 2, skipped entirely for workers (spec.md
// §4.F: "skip for workers" -- a worker only trusts what its orchestrator
// tells it to look up, via tryPeer).
func (p *Protocol) tryContentCache(ctx context.Context, graphDir string, inputFingerprint [32]byte, opts Options) (Result, bool) {
	if p.session == nil || opts.Role == RoleWorker {
		return Result{}, false
	}
	return p.lookupAndMaterialize(ctx, graphDir, inputFingerprint)
}

// tryPeer is lookup tier 3: ask the orchestrator what it built, then run
// the same content-cache lookup against the fingerprint it reports.
func (p *Protocol) tryPeer(ctx context.Context, graphDir string, opts Options) (Result, bool) {
	if p.peer == nil {
		return Result{}, false
	}

	contentFingerprint, err := p.peer.QueryFingerprint(ctx, opts.Module)
	if err != nil {
		p.logger.Warnf("peer query: %s", err)
		return Result{}, false
	}

	result, ok := p.lookupAndMaterialize(ctx, graphDir, contentFingerprint)
	if !ok {
		return result, false
	}

	manifest, err := p.peer.FetchSymlinkManifest(ctx, contentFingerprint)
	if err != nil {
		p.logger.Warnf("peer symlink manifest: %s", err)
		return result, false
	}
	if err := writeSymlinkManifest(graphDir, manifest); err != nil {
		p.logger.Warnf("peer symlink manifest: write: %s", err)
		return result, false
	}

	result.Tier = TierPeer
	return result, true
}

// lookupAndMaterialize looks a descriptor up by fingerprint, materializes
// every file it names into graphDir, and rebuilds the graph from them.
func (p *Protocol) lookupAndMaterialize(ctx context.Context, graphDir string, fingerprint [32]byte) (Result, bool) {
	if p.session == nil {
		return Result{}, false
	}

	descriptor, ok := p.session.TryLookupTwoPhase(ctx, fingerprint)
	if !ok {
		return Result{}, false
	}

	for fileType, hash := range descriptor.Entries {
		destination := graphbundle.FilePath(graphDir, fileType)
		if !p.session.TryMaterialize(ctx, destination, hash) {
			p.logger.Warnf("content cache: failed to materialize %s", destination)
			return Result{}, false
		}
	}

	g, _, err := graphbundle.ReadPipGraph(graphDir)
	if err != nil {
		p.logger.Warnf("content cache: read materialized graph: %s", err)
		return Result{}, false
	}

	return Result{Tier: TierContentCache, Graph: g}, true
}

// writeSymlinkManifest persists an orchestrator-supplied symlink manifest
// file into graphDir alongside the rest of the materialized bundle.
func writeSymlinkManifest(graphDir string, manifest []byte) error {
	path := graphbundle.FilePath(graphDir, graphbundle.FileTypeConfigState)
	return graphbundle.WriteRawFile(path, manifest)
}
