// Package ledger implements InvocationLedger (spec.md §4.K): an append-only,
// tab-separated, version-prefixed record of recent builds at a well-known
// per-user location, guarded by a folder lock so that concurrent invocations
// never interleave partial lines. Retention is bounded by rewriting the tail
// once the record count exceeds a cap, continuing the bounded-rewrite
// approach mutagen's pkg/housekeeping uses to prune old session/agent state
// on a schedule.
package ledger

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/buildcore/pipcache/pkg/folderlock"
	"github.com/buildcore/pipcache/pkg/logging"
	"github.com/dustin/go-humanize"
)

// fileName is the ledger's file name within the engine-cache directory.
const fileName = "builds.tsv"

// MaxEntries bounds the ledger's retention; once appending would exceed it,
// the oldest entries are dropped by rewriting the whole file.
const MaxEntries = 256

// CurrentVersion is the version this package writes. Readers must remain
// forward-compatible with later versions they don't recognize (spec.md §4.K:
// "unknown version lines are skipped").
const CurrentVersion = 0

// Entry is one version-0 invocation record.
type Entry struct {
	SessionID         string
	StartTimeUTC      time.Time
	PrimaryConfigFile string
	LogsFolder        string
	EngineVersion     string
	EngineBinFolder   string
	EngineCommitID    string
}

// fieldCount is the number of tab-separated fields a version-0 line carries,
// including the leading version field.
const fieldCount = 8

// Ledger appends to and reads builds.tsv within a directory. It takes no lock
// of its own: Append is handed the caller's held FolderLock, and that lock is
// what keeps concurrent invocations against the same engine-cache directory
// from interleaving writes (spec.md §5: "Invocation
// ledger is shared across processes; use an OS-level named mutex with
// bounded wait and always release").
type Ledger struct {
	directory string
	logger    *logging.Logger
}

// New creates a Ledger rooted at directory, which must already exist (it is
// ordinarily the same engine-cache directory FolderLock guards).
func New(directory string, logger *logging.Logger) *Ledger {
	return &Ledger{directory: directory, logger: logger}
}

func (l *Ledger) path() string {
	return filepath.Join(l.directory, fileName)
}

// Append adds entry as a new line, pruning the oldest entries first if doing
// so would exceed MaxEntries. Failure to append is logged and swallowed
// (spec.md §7: storage failures during bundle save emit a warning, never an
// error -- the ledger is diagnostic, not load-bearing).
func (l *Ledger) Append(lock *folderlock.Lock, entry Entry) {
	entries, err := l.readAll()
	if err != nil {
		l.logger.Warnf("ledger: read %s: %s", l.path(), err)
		entries = nil
	}

	entries = append(entries, entry)
	if len(entries) > MaxEntries {
		entries = entries[len(entries)-MaxEntries:]
	}

	if err := l.writeAll(entries); err != nil {
		l.logger.Warnf("ledger: write %s: %s", l.path(), err)
		return
	}
	l.logger.Debugf("ledger: appended entry for session %s (%s on disk)", entry.SessionID, humanize.Bytes(uint64(len(entries)*128)))
}

// ReadAll returns every entry currently in the ledger, oldest first, skipping
// any line whose version this package doesn't recognize.
func (l *Ledger) ReadAll() ([]Entry, error) {
	return l.readAll()
}

func (l *Ledger) readAll() ([]Entry, error) {
	f, err := os.Open(l.path())
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, ok := parseLine(line)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *Ledger) writeAll(entries []Entry) error {
	if err := os.MkdirAll(l.directory, 0o755); err != nil {
		return err
	}

	tmp := l.path() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, entry := range entries {
		if _, err := w.WriteString(formatLine(entry)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, l.path())
}

func formatLine(e Entry) string {
	fields := []string{
		strconv.Itoa(CurrentVersion),
		e.SessionID,
		e.StartTimeUTC.UTC().Format(time.RFC3339),
		e.PrimaryConfigFile,
		e.LogsFolder,
		e.EngineVersion,
		e.EngineBinFolder,
		e.EngineCommitID,
	}
	return strings.Join(fields, "\t") + "\n"
}

func parseLine(line string) (Entry, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) == 0 {
		return Entry{}, false
	}
	version, err := strconv.Atoi(fields[0])
	if err != nil {
		return Entry{}, false
	}
	if version != CurrentVersion {
		// A future version this build doesn't understand; skip it rather
		// than fail the whole read (spec.md §4.K forward compatibility).
		return Entry{}, false
	}
	if len(fields) != fieldCount {
		return Entry{}, false
	}

	startTime, err := time.Parse(time.RFC3339, fields[2])
	if err != nil {
		return Entry{}, false
	}

	return Entry{
		SessionID:         fields[1],
		StartTimeUTC:      startTime,
		PrimaryConfigFile: fields[3],
		LogsFolder:        fields[4],
		EngineVersion:     fields[5],
		EngineBinFolder:   fields[6],
		EngineCommitID:    fields[7],
	}, true
}
