package zone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by a Backend when a camera has no zone definition
var ErrNotFound = errors.New("zone definition not found")

// Backend persists zone sets per camera
type Backend interface {
	Load(ctx context.Context, cameraID string) (Set, error)
	Save(ctx context.Context, cameraID string, set Set) error
}

// FileBackend stores one indented JSON file per camera: <Dir>/<camera>.json
type FileBackend struct {
	Dir string
}

// NewFileBackend creates the directory if needed
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create zones dir: %w", err)
	}
	return &FileBackend{Dir: dir}, nil
}

// Path returns the file holding a camera's zones. cameraID must pass ValidID.
func (b *FileBackend) Path(cameraID string) string {
	return filepath.Join(b.Dir, cameraID+".json")
}

// CameraFromPath returns the camera id for a zone file path, or false when
// path is not a zone file of this backend.
func (b *FileBackend) CameraFromPath(path string) (string, bool) {
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(b.Dir) {
		return "", false
	}
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return "", false
	}
	return strings.TrimSuffix(name, ".json"), true
}

// Load reads a camera's zone file
func (b *FileBackend) Load(ctx context.Context, cameraID string) (Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidID(cameraID); err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	data, err := os.ReadFile(b.Path(cameraID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("camera %s: %w", cameraID, ErrNotFound)
		}
		return nil, fmt.Errorf("read zones for %s: %w", cameraID, err)
	}

	var set Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse zones for %s: %w", cameraID, err)
	}
	if set == nil {
		set = Set{}
	}
	return set, nil
}

// Save replaces a camera's zone file atomically
func (b *FileBackend) Save(ctx context.Context, cameraID string, set Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidID(cameraID); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if set == nil {
		set = Set{}
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode zones for %s: %w", cameraID, err)
	}

	tmp, err := os.CreateTemp(b.Dir, "."+cameraID+"-*.json")
	if err != nil {
		return fmt.Errorf("create temp zone file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write zones for %s: %w", cameraID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp zone file: %w", err)
	}
	if err := os.Rename(tmpName, b.Path(cameraID)); err != nil {
		return fmt.Errorf("replace zones for %s: %w", cameraID, err)
	}
	return nil
}

// Cameras lists the camera ids that have a zone file
func (b *FileBackend) Cameras() ([]string, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		return nil, fmt.Errorf("list zones dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := b.CameraFromPath(filepath.Join(b.Dir, e.Name())); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
