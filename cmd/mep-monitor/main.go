package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mep-live/mep/internal/monitorui"
	"github.com/mep-live/mep/internal/monitorui/client"
	"github.com/mep-live/mep/internal/monitorui/demo"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8532", "Address of the mep status server")
	token := flag.String("token", "", "Auth token (if the status server requires one)")
	demoMode := flag.Bool("demo", false, "Run against a synthetic feed instead of a live mep")
	flag.Parse()

	// log.Printf output would corrupt the alt screen; route it to a file
	// when debugging is on, and drop it otherwise.
	if os.Getenv("MEP_MONITOR_DEBUG") != "" {
		f, err := tea.LogToFile("mep-monitor.log", "debug")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	var m monitorui.Model
	if *demoMode {
		m = monitorui.New(nil, demo.NewFeed())
	} else {
		url := fmt.Sprintf("ws://%s/ws", *addr)
		m = monitorui.New(client.New(url, *token), nil)
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
