// Package janitor reclaims transient archive artifacts from the temp
// area on a fixed interval.
package janitor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/archive"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metrics"
)

// Janitor deletes expired files from the temp area, leaving artifacts
// alone while a transfer still references them.
type Janitor struct {
	tmpDir    string
	registry  *archive.Registry
	interval  time.Duration
	retention time.Duration
}

// New returns a Janitor sweeping tmpDir every interval. Files older
// than retention are reclaimed; a zero retention reclaims every file
// not currently referenced.
func New(tmpDir string, registry *archive.Registry, interval, retention time.Duration) *Janitor {
	return &Janitor{
		tmpDir:    tmpDir,
		registry:  registry,
		interval:  interval,
		retention: retention,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logging.L().Info("janitor started",
		zap.String("dir", j.tmpDir),
		zap.Duration("interval", j.interval),
		zap.Duration("retention", j.retention),
	)
	for {
		select {
		case <-ctx.Done():
			logging.L().Info("janitor stopped")
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs one reclamation pass over the temp area. Failures on
// individual files are logged and do not stop the pass.
func (j *Janitor) Sweep() {
	entries, err := os.ReadDir(j.tmpDir)
	if err != nil {
		logging.L().Warn("janitor cannot read temp area",
			zap.String("dir", j.tmpDir), zap.Error(err))
		return
	}

	reclaimed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if j.registry.InUse(name) {
			continue
		}

		age := j.ageOf(entry)
		if j.retention > 0 && age < j.retention {
			continue
		}

		if err := os.Remove(filepath.Join(j.tmpDir, name)); err != nil {
			logging.L().Warn("janitor cannot remove file",
				zap.String("name", name), zap.Error(err))
			continue
		}
		j.registry.Forget(name)
		reclaimed++
		logging.L().Debug("janitor reclaimed file",
			zap.String("name", name), zap.Duration("age", age))
	}
	metrics.RecordJanitorSweep(reclaimed)
}

// ageOf measures from the registry's recorded build time when known,
// falling back to the file modification time for untracked leftovers.
func (j *Janitor) ageOf(entry os.DirEntry) time.Duration {
	if created, ok := j.registry.CreatedAt(entry.Name()); ok {
		return time.Since(created)
	}
	info, err := entry.Info()
	if err != nil {
		return 0
	}
	return time.Since(info.ModTime())
}
