//go:build darwin && cgo

// Package journal's FSEventsJournal continues mutagen's own use of
// github.com/mutagen-io/fsevents for recursive native filesystem watching
// (pkg/filesystem/watching/watch_native_recursive_fsevents.go), repurposed
// from live watch-and-forward to accumulate-and-query: rather than pushing
// every event to a consumer, it appends observed paths to an in-memory log
// and hands out the log's current length as an opaque token, so Scan can
// report exactly what changed between two tokens.
package journal

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mutagen-io/fsevents"
)

const coalescingLatency = 10 * time.Millisecond

// FSEventsJournal watches a fixed set of volume roots via FSEvents and
// answers Scan queries from an accumulated, append-only event log.
type FSEventsJournal struct {
	mu      sync.Mutex
	streams map[string]*fsevents.EventStream
	log     []string
}

// NewFSEventsJournal creates a journal with no active watches. Watches are
// established lazily the first time a volume root is scanned, since the set
// of volumes an InputTracker record covers is only known at verification
// time.
func NewFSEventsJournal() *FSEventsJournal {
	return &FSEventsJournal{streams: make(map[string]*fsevents.EventStream)}
}

// Available reports true unconditionally on darwin+cgo builds; FSEvents is
// always present on macOS.
func (j *FSEventsJournal) Available(ctx context.Context) bool {
	return true
}

// CurrentToken returns the current length of the accumulated event log as a
// decimal string.
func (j *FSEventsJournal) CurrentToken(ctx context.Context) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return strconv.Itoa(len(j.log)), nil
}

// Scan ensures a watch exists for each volume, then reports every path
// logged after sinceToken's position. The result is always Complete: once a
// watch is established for a volume, every change is captured (subject to
// the process having stayed alive and watching continuously).
func (j *FSEventsJournal) Scan(ctx context.Context, volumes []string, sinceToken string) (ScanResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, volume := range volumes {
		if _, ok := j.streams[volume]; !ok {
			stream, err := j.watch(volume)
			if err != nil {
				return ScanResult{}, fmt.Errorf("unable to watch volume %q: %w", volume, err)
			}
			j.streams[volume] = stream
		}
	}

	start := 0
	if sinceToken != "" {
		parsed, err := strconv.Atoi(sinceToken)
		if err != nil {
			return ScanResult{}, fmt.Errorf("malformed journal token: %q", sinceToken)
		}
		start = parsed
	}

	if start >= len(j.log) {
		return ScanResult{NoChanges: true, Complete: true}, nil
	}

	changed := append([]string(nil), j.log[start:]...)
	return ScanResult{PossiblyChangedPaths: changed, Complete: true}, nil
}

func (j *FSEventsJournal) watch(root string) (*fsevents.EventStream, error) {
	rawEvents := make(chan []fsevents.Event, 64)
	stream := &fsevents.EventStream{
		Events:  rawEvents,
		Paths:   []string{root},
		Latency: coalescingLatency,
		Flags:   fsevents.WatchRoot | fsevents.FileEvents,
	}
	go func() {
		for events := range rawEvents {
			j.mu.Lock()
			for _, e := range events {
				j.log = append(j.log, e.Path)
			}
			j.mu.Unlock()
		}
	}()
	stream.Start()
	return stream, nil
}

// Close stops every active watch.
func (j *FSEventsJournal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, stream := range j.streams {
		stream.Stop()
	}
}
