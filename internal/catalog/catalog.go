package catalog

import (
	"fmt"
	"os"
	"path/filepath"
)

// Extension is the file extension a directory entry must carry to be
// listed as a selectable script.
const Extension = ".lua"

// ScriptDescriptor identifies one selectable script. Descriptors are
// immutable once listed; Index is the ordinal within the listing pass
// that produced them.
type ScriptDescriptor struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Name  string `json:"name"`
}

// Catalog is the ordered list of selectable scripts. Paths are unique;
// names may collide if the user nests identically-named files elsewhere
// and symlinks them in. The catalog is rebuilt wholesale on every
// create/remove event rather than patched incrementally.
type Catalog []ScriptDescriptor

// List enumerates the script files in root. Entries are filtered to
// non-directory entries with the script extension; everything else is
// ignored. os.ReadDir returns entries sorted by name, so the ordering
// (and therefore every Index) is stable for a given directory content.
//
// An empty catalog is a valid result, not an error; the caller decides
// whether that is fatal. An unreadable directory is an error.
func List(root string) (Catalog, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scripts dir: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	var cat Catalog
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		cat = append(cat, ScriptDescriptor{
			Index: len(cat),
			Path:  filepath.Join(abs, entry.Name()),
			Name:  entry.Name(),
		})
	}
	return cat, nil
}

// Names returns the display names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, d := range c {
		names[i] = d.Name
	}
	return names
}

// IndexOf returns the ordinal of the descriptor with the given path,
// or false if the path is not in the catalog.
func (c Catalog) IndexOf(path string) (int, bool) {
	for _, d := range c {
		if d.Path == path {
			return d.Index, true
		}
	}
	return 0, false
}

// PathSet returns the catalog's paths as a set, used to diff two
// listings when deciding whether a removed active script was renamed.
func (c Catalog) PathSet() map[string]bool {
	set := make(map[string]bool, len(c))
	for _, d := range c {
		set[d.Path] = true
	}
	return set
}
