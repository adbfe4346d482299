// Package scripts carries the bundled example scripts and provisions
// the scripts directory with them on first run.
package scripts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed examples/*.lua
var examples embed.FS

// EnsureHome creates dir and fills it with the bundled examples when it
// does not exist yet. An existing directory is left alone, even when it
// is empty. It reports whether provisioning happened.
func EnsureHome(dir string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking scripts dir: %w", err)
	}

	if err := populate(dir); err != nil {
		return false, err
	}
	return true, nil
}

// Reset wipes dir and restores the bundled examples.
func Reset(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing scripts dir: %w", err)
	}
	return populate(dir)
}

// Clean removes dir and everything in it.
func Clean(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing scripts dir: %w", err)
	}
	return nil
}

func populate(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating scripts dir: %w", err)
	}

	entries, err := fs.ReadDir(examples, "examples")
	if err != nil {
		return fmt.Errorf("reading bundled examples: %w", err)
	}
	for _, entry := range entries {
		data, err := fs.ReadFile(examples, "examples/"+entry.Name())
		if err != nil {
			return fmt.Errorf("reading bundled %s: %w", entry.Name(), err)
		}
		dest := filepath.Join(dir, entry.Name())
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", entry.Name(), err)
		}
	}
	return nil
}
