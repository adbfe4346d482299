package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mep-live/mep/internal/catalog"
)

// Program is the loaded, runnable form of a script. The session owns at
// most one; a replacement closes its predecessor only after the
// replacement loaded successfully, so a broken edit never takes down
// the program that is already running.
type Program interface {
	// Invoke calls the script's registered listener with one raw MIDI
	// message.
	Invoke(message []byte) error
	// Close releases the program's VM state.
	Close()
}

// Session is the mutable record of the currently active script: which
// catalog entry is selected, its source as last read from disk, and the
// loaded program. It is owned exclusively by the dispatcher goroutine;
// every other goroutine only produces messages, never touches the
// session.
type Session struct {
	Root         string
	Catalog      catalog.Catalog
	ActiveIndex  int
	ActivePath   string
	ActiveSource []byte

	program Program
}

// New creates the session with the given initial selection, reading the
// script's source from disk.
func New(root string, cat catalog.Catalog, index int) (*Session, error) {
	s := NewSelecting(root, cat)
	if err := s.Select(index); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSelecting creates the session before any selection has been made;
// the dispatcher fills in the active fields from the first valid line
// of user input.
func NewSelecting(root string, cat catalog.Catalog) *Session {
	return &Session{Root: root, Catalog: cat, ActiveIndex: -1}
}

// Select switches the active script to the catalog entry at index and
// reads its source. On any failure the session is left unchanged, so an
// unreadable file never clobbers a working selection.
func (s *Session) Select(index int) error {
	if index < 0 || index >= len(s.Catalog) {
		return fmt.Errorf("script index %d out of range [0,%d)", index, len(s.Catalog))
	}
	d := s.Catalog[index]
	source, err := os.ReadFile(d.Path)
	if err != nil {
		return fmt.Errorf("read script %s: %w", d.Name, err)
	}
	s.ActiveIndex = d.Index
	s.ActivePath = d.Path
	s.ActiveSource = source
	return nil
}

// SelectPath is Select keyed by path, used when following a renamed
// active script into its new name.
func (s *Session) SelectPath(path string) error {
	idx, ok := s.Catalog.IndexOf(path)
	if !ok {
		return fmt.Errorf("script %s not in catalog", filepath.Base(path))
	}
	return s.Select(idx)
}

// Reread refreshes ActiveSource from disk. Called on every reload so
// the source is never served stale. On read failure ActiveSource keeps
// its previous value and the caller decides what to do with the error.
func (s *Session) Reread() error {
	source, err := os.ReadFile(s.ActivePath)
	if err != nil {
		return fmt.Errorf("reread script %s: %w", s.ActiveName(), err)
	}
	s.ActiveSource = source
	return nil
}

// SetCatalog installs a freshly rebuilt catalog and recomputes
// ActiveIndex from ActivePath, since sorted order shifts indices when
// files come and go. Returns false when the active path is no longer
// listed; the caller then runs its removal/fallback protocol.
func (s *Session) SetCatalog(cat catalog.Catalog) bool {
	s.Catalog = cat
	idx, ok := cat.IndexOf(s.ActivePath)
	if ok {
		s.ActiveIndex = idx
	}
	return ok
}

// Deselect drops the active selection and its program, returning the
// session to the selecting state.
func (s *Session) Deselect() {
	s.SwapProgram(nil)
	s.ActiveIndex = -1
	s.ActivePath = ""
	s.ActiveSource = nil
}

// SwapProgram installs a freshly loaded program and closes the one it
// replaces.
func (s *Session) SwapProgram(p Program) {
	if s.program != nil {
		s.program.Close()
	}
	s.program = p
}

// Program returns the loaded program, or nil before the first
// successful load.
func (s *Session) Program() Program { return s.program }

// ActiveName returns the display name of the active script, or "" when
// nothing has been selected yet.
func (s *Session) ActiveName() string {
	if s.ActivePath == "" {
		return ""
	}
	return filepath.Base(s.ActivePath)
}

// Close releases the loaded program. Only called at process teardown;
// the process owns the session for its whole life.
func (s *Session) Close() {
	if s.program != nil {
		s.program.Close()
		s.program = nil
	}
}
