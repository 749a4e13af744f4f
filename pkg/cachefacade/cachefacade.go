// Package cachefacade implements CacheFacade (spec.md §4.E): the single
// gateway a schedule uses to talk to the content-addressed store for the
// lifetime of one engine-schedule invocation. Facade owns one ContentCache
// connection; each call to CreateForContext mints a fresh session-scoped view
// over it, and sessions are closed in the reverse of their acquisition order,
// mirroring the nested-acquisition discipline pkg/folderlock uses for
// directory locks.
package cachefacade

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/buildcore/pipcache/pkg/contentcache"
	"github.com/buildcore/pipcache/pkg/graphbundle"
	"github.com/buildcore/pipcache/pkg/identifier"
	"github.com/buildcore/pipcache/pkg/logging"
	"github.com/buildcore/pipcache/pkg/state"
	"github.com/buildcore/pipcache/pkg/timeutil"
)

// watchdogInterval is the period of the "still initializing" log line
// CreateForContext installs while a session is coming up (spec.md §5:
// "cache-initialization installs a 5-second periodic watchdog that logs
// 'still initializing'; it does not abort").
const watchdogInterval = 5 * time.Second

// descriptorMemoEntries bounds the in-process descriptor memoization cache
// shared by every session a Facade opens.
const descriptorMemoEntries = 4096

// Facade owns a single ContentCache connection and tracks every session
// opened against it so they can be closed in reverse-acquisition order.
type Facade struct {
	store  contentcache.ContentCache
	logger *logging.Logger

	mu                sync.Mutex
	stack             []*Session
	firstWaitLatency  time.Duration
	firstWaitRecorded bool

	descriptors *lru.Cache
}

// New creates a Facade backed by store. A nil logger is valid and silently
// discards output (pkg/logging's nil-receiver convention).
func New(store contentcache.ContentCache, logger *logging.Logger) *Facade {
	return &Facade{
		store:       store,
		logger:      logger,
		descriptors: lru.New(descriptorMemoEntries),
	}
}

// FirstWaitLatency reports how long the very first CreateForContext call
// took to come up, or zero if no session has been created yet. Used for
// startup diagnostics; later sessions aren't expected to stall the same way
// since the underlying connection is already live.
func (f *Facade) FirstWaitLatency() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firstWaitLatency
}

// CreateForContext opens a new session-scoped view over the facade's
// content-addressed store. Session has no exported Close: Facade tracks the
// session, and it stays open until CloseAll unwinds every still-open session
// in reverse order on shutdown.
func (f *Facade) CreateForContext(ctx context.Context) (*Session, error) {
	start := time.Now()

	id, err := identifier.New(identifier.PrefixCacheSession)
	if err != nil {
		return nil, fmt.Errorf("mint cache session identifier: %w", err)
	}

	logger := f.logger.Sublogger(id)
	watchdog := time.NewTimer(watchdogInterval)
	ready := make(chan struct{})
	go func() {
		for {
			select {
			case <-ready:
				timeutil.StopAndDrainTimer(watchdog)
				return
			case <-watchdog.C:
				logger.Infof("cache session %s still initializing", id)
				watchdog.Reset(watchdogInterval)
			}
		}
	}()

	session := &Session{
		id:              id,
		facade:          f,
		store:           f.store,
		logger:          logger,
		descriptorCache: f.descriptors,
	}
	close(ready)

	f.mu.Lock()
	if !f.firstWaitRecorded {
		f.firstWaitLatency = time.Since(start)
		f.firstWaitRecorded = true
	}
	f.stack = append(f.stack, session)
	f.mu.Unlock()

	return session, nil
}

// CloseAll closes every session still tracked by the facade, most-recently
// opened first, and discards the stack.
func (f *Facade) CloseAll() {
	f.mu.Lock()
	stack := f.stack
	f.stack = nil
	f.mu.Unlock()

	for i := len(stack) - 1; i >= 0; i-- {
		stack[i].close()
	}
}

// Session is a single schedule's view onto a Facade's content-addressed
// store. Every capability is a "try" method: failures are logged and
// swallowed rather than propagated, per spec.md §7's "cache-layer
// recoverable" classification -- a cache miss or store outage degrades the
// build to recomputation, it never fails it.
type Session struct {
	id     string
	facade *Facade
	store  contentcache.ContentCache
	logger *logging.Logger

	lock   state.TrackingLock
	closed state.Marker

	descriptorCache *lru.Cache

	// twoPhase maps an input fingerprint to the content fingerprint it was
	// last associated with, implementing the two-phase (input fingerprint ->
	// content fingerprint -> descriptor) lookup of spec.md §4.E.
	twoPhaseMu sync.Mutex
	twoPhase   map[[32]byte][32]byte
}

// ID returns the session's identifier, minted with identifier.PrefixCacheSession.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed.Mark()
}

// TryStoreContent streams r into the store and returns its content hash. A
// failure is logged and reported via ok=false; the caller falls back to
// whatever it would have done without a cache.
func (s *Session) TryStoreContent(ctx context.Context, r io.Reader) (hash [32]byte, ok bool) {
	if s.closed.Marked() {
		return [32]byte{}, false
	}
	hash, err := s.store.StoreContent(ctx, r)
	if err != nil {
		s.logger.Warnf("store content: %s", err)
		return [32]byte{}, false
	}
	return hash, true
}

// TryLoadContent reports which of the expected hashes are available in the
// store. A store failure is logged and treated as "nothing available" rather
// than propagated.
func (s *Session) TryLoadContent(ctx context.Context, expected [][32]byte) (map[[32]byte]bool, bool) {
	if s.closed.Marked() {
		return nil, false
	}
	available, err := s.store.HasContent(ctx, expected)
	if err != nil {
		s.logger.Warnf("query content availability: %s", err)
		return nil, false
	}
	return available, true
}

// TryMaterialize writes the content addressed by hash to path.
func (s *Session) TryMaterialize(ctx context.Context, path string, hash [32]byte) bool {
	if s.closed.Marked() {
		return false
	}
	if err := s.store.Materialize(ctx, path, hash); err != nil {
		s.logger.Warnf("materialize %s: %s", path, err)
		return false
	}
	return true
}

// TryStoreDescriptor records descriptor under fingerprint, both in the
// store and in the session's in-process memoization cache.
func (s *Session) TryStoreDescriptor(ctx context.Context, fingerprint [32]byte, descriptor graphbundle.PipGraphCacheDescriptor) bool {
	if s.closed.Marked() {
		return false
	}
	encoded, err := encodeDescriptor(descriptor)
	if err != nil {
		s.logger.Warnf("encode descriptor: %s", err)
		return false
	}
	if err := s.store.StoreDescriptor(ctx, fingerprint, encoded); err != nil {
		s.logger.Warnf("store descriptor for %x: %s", fingerprint, err)
		return false
	}
	s.descriptorCache.Add(fingerprint, descriptor)
	return true
}

// TryLookupDescriptor returns the descriptor stored under fingerprint, if
// any, checking the in-process memoization cache before the store.
func (s *Session) TryLookupDescriptor(ctx context.Context, fingerprint [32]byte) (graphbundle.PipGraphCacheDescriptor, bool) {
	if s.closed.Marked() {
		return graphbundle.PipGraphCacheDescriptor{}, false
	}
	if cached, ok := s.descriptorCache.Get(fingerprint); ok {
		return cached.(graphbundle.PipGraphCacheDescriptor), true
	}

	encoded, ok, err := s.store.LookupDescriptor(ctx, fingerprint)
	if err != nil {
		s.logger.Warnf("lookup descriptor for %x: %s", fingerprint, err)
		return graphbundle.PipGraphCacheDescriptor{}, false
	}
	if !ok {
		return graphbundle.PipGraphCacheDescriptor{}, false
	}

	descriptor, err := decodeDescriptor(encoded)
	if err != nil {
		s.logger.Warnf("decode descriptor for %x: %s", fingerprint, err)
		return graphbundle.PipGraphCacheDescriptor{}, false
	}
	s.descriptorCache.Add(fingerprint, descriptor)
	return descriptor, true
}

// TryStoreTwoPhase associates inputFingerprint with contentFingerprint and
// stores descriptor under contentFingerprint, so a later build with the same
// inputs can be routed straight to the (already shared, content-addressed)
// descriptor without recomputing it (spec.md §4.E).
func (s *Session) TryStoreTwoPhase(ctx context.Context, inputFingerprint, contentFingerprint [32]byte, descriptor graphbundle.PipGraphCacheDescriptor) bool {
	if !s.TryStoreDescriptor(ctx, contentFingerprint, descriptor) {
		return false
	}

	s.twoPhaseMu.Lock()
	if s.twoPhase == nil {
		s.twoPhase = make(map[[32]byte][32]byte)
	}
	s.twoPhase[inputFingerprint] = contentFingerprint
	s.twoPhaseMu.Unlock()

	linkDescriptor := graphbundle.PipGraphCacheDescriptor{Entries: map[graphbundle.FileType][32]byte{
		linkFileType: contentFingerprint,
	}}
	return s.TryStoreDescriptor(ctx, inputFingerprint, linkDescriptor)
}

// TryLookupTwoPhase is the symmetric read: it resolves inputFingerprint to a
// content fingerprint (first from the session's own cache, falling back to
// the store's persisted link), then looks up the descriptor stored under
// that content fingerprint.
func (s *Session) TryLookupTwoPhase(ctx context.Context, inputFingerprint [32]byte) (graphbundle.PipGraphCacheDescriptor, bool) {
	s.twoPhaseMu.Lock()
	contentFingerprint, ok := s.twoPhase[inputFingerprint]
	s.twoPhaseMu.Unlock()

	if !ok {
		link, linkOK := s.TryLookupDescriptor(ctx, inputFingerprint)
		if !linkOK {
			return graphbundle.PipGraphCacheDescriptor{}, false
		}
		contentFingerprint, ok = link.Entries[linkFileType]
		if !ok {
			return graphbundle.PipGraphCacheDescriptor{}, false
		}
	}

	return s.TryLookupDescriptor(ctx, contentFingerprint)
}

// linkFileType is a sentinel FileType used only within the two-phase link
// descriptor this package stores; it never appears in a real bundle.
const linkFileType = graphbundle.FileType(255)

// encodeDescriptor gob-encodes a descriptor for storage through the
// ContentCache boundary, which deals only in opaque bytes so that
// pkg/contentcache has no dependency on pkg/graphbundle.
func encodeDescriptor(descriptor graphbundle.PipGraphCacheDescriptor) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(descriptor.Entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDescriptor(encoded []byte) (graphbundle.PipGraphCacheDescriptor, error) {
	var entries map[graphbundle.FileType][32]byte
	if err := gob.NewDecoder(bytes.NewReader(encoded)).Decode(&entries); err != nil {
		return graphbundle.PipGraphCacheDescriptor{}, err
	}
	return graphbundle.PipGraphCacheDescriptor{Entries: entries}, nil
}
