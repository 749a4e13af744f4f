package ledger

import (
	"bufio"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/buildcore/pipcache/pkg/logging"
)

// runningTimeFileName is the well-known RunningTimeTable path named (but not
// specified) in spec.md §6; this package supplements it with a bounded ring
// of recent per-pip durations (spec.md §5 supplemented feature 1).
const runningTimeFileName = "RunningTimeTable"

// MaxRunningTimeSamples bounds the ring's retention, mirroring MaxEntries'
// bounded-rewrite approach for the main ledger.
const MaxRunningTimeSamples = 256

// RunningTimeSample records how long one pip took to execute, the last time
// it ran, keyed by its static fingerprint so EngineStateCarry can look it up
// regardless of the pip's identifier in the current graph.
type RunningTimeSample struct {
	PipStaticFingerprint [32]byte
	ElapsedMilliseconds  uint64
}

// RunningTimeTable is a bounded ring of RunningTimeSample, persisted
// alongside the invocation ledger.
type RunningTimeTable struct {
	directory string
	logger    *logging.Logger
}

// NewRunningTimeTable creates a RunningTimeTable rooted at directory.
func NewRunningTimeTable(directory string, logger *logging.Logger) *RunningTimeTable {
	return &RunningTimeTable{directory: directory, logger: logger}
}

func (t *RunningTimeTable) path() string {
	return filepath.Join(t.directory, runningTimeFileName)
}

// Record appends (or updates, if already present) a sample for fingerprint,
// trimming the oldest samples if the table would otherwise exceed
// MaxRunningTimeSamples. Failure is logged and swallowed -- EngineStateCarry
// treats a missing or corrupt table as "no history", never a build failure.
func (t *RunningTimeTable) Record(fingerprint [32]byte, elapsedMilliseconds uint64) {
	samples, err := t.readAll()
	if err != nil {
		t.logger.Warnf("running-time table: read %s: %s", t.path(), err)
		samples = nil
	}

	filtered := samples[:0]
	for _, s := range samples {
		if s.PipStaticFingerprint != fingerprint {
			filtered = append(filtered, s)
		}
	}
	filtered = append(filtered, RunningTimeSample{PipStaticFingerprint: fingerprint, ElapsedMilliseconds: elapsedMilliseconds})

	if len(filtered) > MaxRunningTimeSamples {
		filtered = filtered[len(filtered)-MaxRunningTimeSamples:]
	}

	if err := t.writeAll(filtered); err != nil {
		t.logger.Warnf("running-time table: write %s: %s", t.path(), err)
	}
}

// Lookup returns the most recently recorded elapsed time for fingerprint, if
// any sample for it exists.
func (t *RunningTimeTable) Lookup(fingerprint [32]byte) (uint64, bool) {
	samples, err := t.readAll()
	if err != nil {
		t.logger.Warnf("running-time table: read %s: %s", t.path(), err)
		return 0, false
	}
	for _, s := range samples {
		if s.PipStaticFingerprint == fingerprint {
			return s.ElapsedMilliseconds, true
		}
	}
	return 0, false
}

func (t *RunningTimeTable) readAll() ([]RunningTimeSample, error) {
	f, err := os.Open(t.path())
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []RunningTimeSample
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			continue
		}
		raw, err := hex.DecodeString(fields[0])
		if err != nil || len(raw) != 32 {
			continue
		}
		elapsed, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		var fingerprint [32]byte
		copy(fingerprint[:], raw)
		samples = append(samples, RunningTimeSample{PipStaticFingerprint: fingerprint, ElapsedMilliseconds: elapsed})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

func (t *RunningTimeTable) writeAll(samples []RunningTimeSample) error {
	if err := os.MkdirAll(t.directory, 0o755); err != nil {
		return err
	}

	tmp := t.path() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, s := range samples {
		if _, err := w.WriteString(hex.EncodeToString(s.PipStaticFingerprint[:]) + "\t" + strconv.FormatUint(s.ElapsedMilliseconds, 10) + "\n"); err != nil {
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

	return os.Rename(tmp, t.path())
}
