// Package destination maps download names to files inside the configured directories.
package destination

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	dirPerm = 0755

	// ExternalPrefix selects the external directory in a destination name.
	ExternalPrefix = "external:"
)

var (
	// ErrInvalidName is returned for names that are empty, absolute or escape their directory.
	ErrInvalidName = errors.New("invalid destination name")
	// ErrExternalUnavailable is returned when no external directory is configured.
	ErrExternalUnavailable = errors.New("external storage is not available")
)

// Resolver confines destinations to an internal directory and an optional external one.
type Resolver struct {
	fs          afero.Fs
	internalDir string
	externalDir string
}

func NewResolver(fsys afero.Fs, internalDir, externalDir string) *Resolver {
	return &Resolver{
		fs:          fsys,
		internalDir: filepath.Clean(internalDir),
		externalDir: externalDir,
	}
}

// Resolve returns the path for name. Names starting with ExternalPrefix live in the
// external directory, all others in the internal one.
func (r *Resolver) Resolve(name string) (string, error) {
	if rest, ok := strings.CutPrefix(name, ExternalPrefix); ok {
		return r.ExternalFile(rest)
	}

	return r.InternalFile(name)
}

func (r *Resolver) InternalFile(name string) (string, error) {
	return join(r.internalDir, name)
}

func (r *Resolver) ExternalFile(name string) (string, error) {
	if r.externalDir == "" {
		return "", ErrExternalUnavailable
	}

	return join(filepath.Clean(r.externalDir), name)
}

// Exists reports whether path exists.
func (r *Resolver) Exists(path string) (bool, error) {
	return afero.Exists(r.fs, path)
}

// Size returns the length of the file at path, or 0 when it does not exist.
func (r *Resolver) Size(path string) (int64, error) {
	info, err := r.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// Delete removes path and reports whether there was anything to remove.
func (r *Resolver) Delete(path string) (bool, error) {
	ok, err := r.Exists(path)
	if err != nil || !ok {
		return false, err
	}

	if err := r.fs.Remove(path); err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", path, err)
	}

	return true, nil
}

// EnsureDir creates the parent directory of path.
func (r *Resolver) EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if err := r.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return nil
}

func join(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return filepath.Join(dir, clean), nil
}
