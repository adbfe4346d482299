package term

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mep-live/mep/internal/catalog"
	"github.com/mep-live/mep/internal/script"
)

func testCatalog() catalog.Catalog {
	return catalog.Catalog{
		{Index: 0, Path: "/s/pass.lua", Name: "pass.lua"},
		{Index: 1, Path: "/s/transpose.lua", Name: "transpose.lua"},
	}
}

func TestRenderCatalogNumbersEveryScript(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf).RenderCatalog(testCatalog(), -1)

	out := buf.String()
	for _, want := range []string{"0: pass.lua", "1: transpose.lua"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderCatalogMarksActive(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf).RenderCatalog(testCatalog(), 1)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "▶") {
		t.Errorf("active line not marked: %q", lines[1])
	}
	if strings.Contains(lines[0], "▶") {
		t.Errorf("inactive line marked: %q", lines[0])
	}
}

func TestIntroNamesBothPorts(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf).Intro("mep_in", "mep_out")

	out := buf.String()
	if !strings.Contains(out, "mep_in") || !strings.Contains(out, "mep_out") {
		t.Errorf("intro missing a port name:\n%s", out)
	}
}

func TestShowErrorIncludesHint(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf).ShowError("broken.lua", errors.New("attempt to call a nil value"))

	out := buf.String()
	if !strings.Contains(out, "attempt to call a nil value") {
		t.Errorf("error text missing:\n%s", out)
	}
	if !strings.Contains(out, "fix broken.lua") || !strings.Contains(out, "pick another script") {
		t.Errorf("hint must offer both ways out:\n%s", out)
	}
}

func TestShowViolationExplainsTheDrop(t *testing.T) {
	var buf bytes.Buffer
	v := script.Violation{Script: "bad.lua", Detail: "midi.send byte 1 is 60.5, want an integer 0-255"}
	NewRenderer(&buf).ShowViolation(v)

	out := buf.String()
	if !strings.Contains(out, "bad.lua") || !strings.Contains(out, "byte 1") {
		t.Errorf("violation detail missing:\n%s", out)
	}
	if !strings.Contains(out, "not sent") {
		t.Errorf("output must say the message was dropped:\n%s", out)
	}
}

func TestAcknowledgeInvalidInputEchoesAndReprompts(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf).AcknowledgeInvalidInput("seven\n")

	out := buf.String()
	if !strings.Contains(out, `"seven"`) {
		t.Errorf("input not echoed back:\n%s", out)
	}
	if !strings.HasSuffix(out, "> ") {
		t.Errorf("no fresh prompt after rejection:\n%s", out)
	}
}

func TestClearEmitsANSISequence(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf).Clear()
	if got := buf.String(); got != "\x1b[2J\x1b[H" {
		t.Errorf("Clear wrote %q", got)
	}
}

func TestMaintenanceMessagesNameTheDir(t *testing.T) {
	tests := []struct {
		name   string
		render func(*Renderer)
		want   string
	}{
		{"provisioned", func(r *Renderer) { r.FolderProvisioned("/home/u/.mep") }, "example scripts"},
		{"reset", func(r *Renderer) { r.FolderReset("/home/u/.mep") }, "reset"},
		{"removed", func(r *Renderer) { r.FolderRemoved("/home/u/.mep") }, "removed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.render(NewRenderer(&buf))

			out := buf.String()
			if !strings.Contains(out, "/home/u/.mep") {
				t.Errorf("directory not named:\n%s", out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}
