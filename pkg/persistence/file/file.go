// Package file provides a file-backed persistence implementation, used for
// development and tests. One JSON document per record, grouped by kind.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Persistence implements persistence.Persistence on the local file system.
// A single lock serializes read-modify-write cycles so every mutation is
// atomic with respect to other callers in the process.
type Persistence struct {
	root string
	mu   sync.RWMutex

	seriesRepo     *SeriesRepository
	blockRepo      *BlockRepository
	connectionRepo *ConnectionRepository
	progressRepo   *ProgressRepository
	historyRepo    *HistoryRepository
	telemetryRepo  *TelemetryRepository
	visitorRepo    *VisitorRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts plain paths and file:// URLs.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.seriesRepo = &SeriesRepository{store: p}
	p.blockRepo = &BlockRepository{store: p}
	p.connectionRepo = &ConnectionRepository{store: p}
	p.progressRepo = &ProgressRepository{store: p}
	p.historyRepo = &HistoryRepository{store: p}
	p.telemetryRepo = &TelemetryRepository{store: p}
	p.visitorRepo = &VisitorRepository{store: p}

	return p
}

// Close performs any necessary cleanup. Nothing to release for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists, creating it on first use.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return os.MkdirAll(p.root, 0o755)
}

func (p *Persistence) dir(parts ...string) string {
	return filepath.Join(append([]string{p.root}, parts...)...)
}

// writeDoc marshals the value into path, creating parent directories. The
// write goes through a temp file and rename so readers never observe a
// partial document.
func (p *Persistence) writeDoc(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write document %s: %w", path, err)
	}

	return os.Rename(tmp, path)
}

// readDoc unmarshals path into value. Returns os.ErrNotExist when absent.
func (p *Persistence) readDoc(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, value)
}

// listDocs returns the paths of every .json document directly under dir.
func (p *Persistence) listDocs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	return paths, nil
}
