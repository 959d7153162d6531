package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the canonical runtime folder layout under the local cache
// path, populated by Init at startup.
type Paths struct {
	Store     string
	State     string
	Retention string
	Crash     string
}

var PathsVar Paths

// Init ensures the runtime folder layout exists under the provided
// cache path and records it in PathsVar. Symlinked or group-writable
// paths are rejected.
func Init(dbPath string) error {
	p := Paths{
		Store:     filepath.Join(dbPath, "store"),
		State:     filepath.Join(dbPath, "state"),
		Retention: filepath.Join(dbPath, "state", "retention"),
		Crash:     filepath.Join(dbPath, "state", "crash"),
	}
	for _, dir := range []string{p.Store, p.Retention, p.Crash} {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	PathsVar = p
	return nil
}

func ensureDir(p string) error {
	if err := os.MkdirAll(p, 0o700); err != nil {
		return fmt.Errorf("cannot create path %s: %w", p, err)
	}
	fi, err := os.Lstat(p)
	if err != nil {
		return fmt.Errorf("cannot stat %s: %w", p, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("path is a symlink: %s", p)
	}
	if !fi.IsDir() {
		return fmt.Errorf("path exists and is not a directory: %s", p)
	}
	if fi.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("path has permissive mode (group/other write): %s", p)
	}
	// writability check: create and remove a temp file
	tmp, err := os.CreateTemp(p, ".validate-*")
	if err != nil {
		return fmt.Errorf("path not writable: %s: %w", p, err)
	}
	tmp.Close()
	_ = os.Remove(tmp.Name())
	return nil
}
