// Package file provides file-based persistence for development and tests.
// Each entity is stored as one JSON document under the root directory. A
// process-wide mutex stands in for the database's atomic claim primitive,
// which is sufficient for the single-instance deployments this backend is
// meant for.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	workflowsDir   = "workflows"
	contactsDir    = "contacts"
	enrollmentsDir = "enrollments"
	tasksDir       = "tasks"
)

// Persistence implements persistence.Persistence on the local filesystem.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a file persistence layer rooted at the given path.
// A "file://" prefix is stripped so database URLs can be passed through.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.TrimPrefix(root, "file://")

	for _, dir := range []string{workflowsDir, contactsDir, enrollmentsDir, tasksDir} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &Persistence{root: cleanRoot}, nil
}

// Close performs any necessary cleanup. Nothing to release for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) path(dir, id string) string {
	return filepath.Join(p.root, dir, id+".json")
}

func (p *Persistence) write(dir, id string, entity any) error {
	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	if err := os.WriteFile(p.path(dir, id), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	return nil
}

// read unmarshals one entity; notFound is returned when the file is absent.
func (p *Persistence) read(dir, id string, entity any, notFound error) error {
	data, err := os.ReadFile(p.path(dir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to read %s/%s: %w", dir, id, err)
	}

	if err := json.Unmarshal(data, entity); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", dir, id, err)
	}

	return nil
}

// readEach invokes fn with the raw bytes of every entity in dir.
func (p *Persistence) readEach(dir string, fn func(data []byte) error) error {
	entries, err := os.ReadDir(filepath.Join(p.root, dir))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(p.root, dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s/%s: %w", dir, entry.Name(), err)
		}

		if err := fn(data); err != nil {
			return err
		}
	}

	return nil
}
