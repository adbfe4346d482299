package monitorui

import (
	_ "embed"

	"github.com/charmbracelet/glamour"
)

//go:embed help.md
var helpMD string

// renderHelp styles the embedded help text for the given width. On any
// renderer failure the raw markdown is still readable, so return it.
func renderHelp(width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return helpMD
	}
	out, err := r.Render(helpMD)
	if err != nil {
		return helpMD
	}
	return out
}
