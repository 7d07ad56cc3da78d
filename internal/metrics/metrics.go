// Package metrics keeps the per-dictionary download counters.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/reader-dict/website/internal/platform/atomicfile"
	"github.com/reader-dict/website/internal/platform/filelock"
)

const lockName = "metrics"

// Counters maps dictionary -> format -> etymology variant -> downloads.
type Counters map[string]map[string]map[string]int

func (c Counters) Get(dictionary, format, etym string) int {
	return c[dictionary][format][etym]
}

// Recorder persists Counters as a single JSON file.
type Recorder struct {
	path   string
	locker *filelock.Locker
	logger *slog.Logger
}

func New(path string, locker *filelock.Locker, logger *slog.Logger) *Recorder {
	return &Recorder{path: path, locker: locker, logger: logger}
}

// PlusOne counts one download.
func (r *Recorder) PlusOne(ctx context.Context, dictionary, format, etym string) error {
	return r.locker.With(ctx, lockName, func() error {
		counters := r.Read()
		if counters[dictionary] == nil {
			counters[dictionary] = map[string]map[string]int{}
		}
		if counters[dictionary][format] == nil {
			counters[dictionary][format] = map[string]int{}
		}
		counters[dictionary][format][etym]++
		return r.write(counters)
	})
}

// Read returns the current counters. A missing or corrupt file reads as
// empty.
func (r *Recorder) Read() Counters {
	counters := Counters{}
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return counters
	}
	if err != nil {
		r.logger.Warn("reading metrics failed", "path", r.path, "error", err)
		return counters
	}
	if err := json.Unmarshal(raw, &counters); err != nil {
		r.logger.Error("metrics file is corrupt", "path", r.path, "error", err)
		return Counters{}
	}
	return counters
}

func (r *Recorder) write(counters Counters) error {
	raw, err := json.MarshalIndent(counters, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	if err := atomicfile.Write(r.path, raw); err != nil {
		return fmt.Errorf("saving metrics: %w", err)
	}
	return nil
}
