// Package term renders mep's inline terminal UI: the script list, the
// selection prompt, and the framed error views the recovery loop shows
// while it waits for a fix.
package term

import (
	"fmt"
	"io"
	"strings"

	"github.com/mep-live/mep/internal/catalog"
	"github.com/mep-live/mep/internal/script"
	"github.com/mep-live/mep/internal/theme"
)

// Renderer writes the inline UI to out. It never reads input; the
// dispatcher owns stdin.
type Renderer struct {
	out io.Writer
}

// NewRenderer returns a renderer writing to out.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Clear wipes the screen and homes the cursor.
func (r *Renderer) Clear() {
	fmt.Fprint(r.out, "\x1b[2J\x1b[H")
}

// Intro announces the virtual ports so the user knows what to wire
// their controller and synth to.
func (r *Renderer) Intro(inName, outName string) {
	fmt.Fprintln(r.out, theme.StyleHeader.Render("mep is listening"))
	fmt.Fprintf(r.out, "%s %s\n", theme.StyleDimmed.Render("in  ➜"), inName)
	fmt.Fprintf(r.out, "%s %s\n", theme.StyleDimmed.Render("out ➜"), outName)
	fmt.Fprintln(r.out)
}

// RenderCatalog prints the numbered script list. The entry at active is
// highlighted; pass a negative index when nothing is running yet.
func (r *Renderer) RenderCatalog(cat catalog.Catalog, active int) {
	for _, s := range cat {
		line := fmt.Sprintf("%d: %s", s.Index, s.Name)
		if s.Index == active {
			fmt.Fprintln(r.out, theme.StyleSelected.Render("▶ "+line))
		} else {
			fmt.Fprintln(r.out, "  "+line)
		}
	}
}

// Prompt asks for a selection.
func (r *Renderer) Prompt() {
	fmt.Fprintln(r.out, "Select a script to run:")
	fmt.Fprint(r.out, "> ")
}

// RunningBanner reports the active script and reminds the user the list
// stays live.
func (r *Renderer) RunningBanner(name string) {
	fmt.Fprintf(r.out, "%s is live. Edit it on the fly or pick another script:\n", theme.StyleHeader.Render(name))
}

// AcknowledgeInvalidInput tells the user a line of input went nowhere.
func (r *Renderer) AcknowledgeInvalidInput(input string) {
	fmt.Fprintf(r.out, "%q is not a script number, try again\n", strings.TrimSpace(input))
	fmt.Fprint(r.out, "> ")
}

// ShowError frames a script failure and names the two ways out: fix the
// file, or pick a different script.
func (r *Renderer) ShowError(name string, err error) {
	body := fmt.Sprintf("%s\n\n%s", err, theme.StyleHint.Render("💡 fix "+name+" and save, or pick another script"))
	fmt.Fprintln(r.out, theme.StyleError.Render(body))
}

// ShowViolation frames a rejected midi.send payload. The script keeps
// running; only the one message was discarded.
func (r *Renderer) ShowViolation(v script.Violation) {
	body := fmt.Sprintf("%s\n\n%s", v, theme.StyleHint.Render("💡 the message was not sent; midi.send wants a table of integers 0-255"))
	fmt.Fprintln(r.out, theme.StyleWarning.Render(body))
}

// FolderProvisioned reports a fresh scripts directory filled with the
// bundled examples.
func (r *Renderer) FolderProvisioned(dir string) {
	fmt.Fprintf(r.out, "%s was not found, so mep created it and filled it with some example scripts.\n", dir)
}

// FolderReset confirms the -reset maintenance run.
func (r *Renderer) FolderReset(dir string) {
	fmt.Fprintf(r.out, "%s is reset to the bundled example scripts.\n", dir)
}

// FolderRemoved confirms the -clean maintenance run.
func (r *Renderer) FolderRemoved(dir string) {
	fmt.Fprintf(r.out, "%s is removed. Run mep again to recreate it with the example scripts.\n", dir)
}
