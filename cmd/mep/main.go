package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mep-live/mep/internal/catalog"
	"github.com/mep-live/mep/internal/config"
	"github.com/mep-live/mep/internal/dispatch"
	"github.com/mep-live/mep/internal/engine"
	"github.com/mep-live/mep/internal/midiport"
	"github.com/mep-live/mep/internal/script"
	"github.com/mep-live/mep/internal/scripts"
	"github.com/mep-live/mep/internal/session"
	"github.com/mep-live/mep/internal/status"
	"github.com/mep-live/mep/internal/term"
	"github.com/mep-live/mep/internal/watch"
	"github.com/mep-live/mep/internal/ws"
)

func main() {
	portPrefix := flag.String("port", "", "Override the virtual port prefix (ports become NAME_in / NAME_out)")
	home := flag.String("home", "", "Override the scripts directory")
	configPath := flag.String("config", config.DefaultPath(), "Path to config file")
	statusOn := flag.Bool("status", true, "Enable the status server")
	statusAddr := flag.String("status-addr", "", "Override the status server address (host:port)")
	clean := flag.Bool("clean", false, "Remove the scripts directory and exit")
	reset := flag.Bool("reset", false, "Restore the bundled example scripts and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *home != "" {
		cfg.Home = *home
	}
	if *portPrefix != "" {
		cfg.Port.Prefix = *portPrefix
	}
	if flagWasSet("status") {
		cfg.Status.Enabled = *statusOn
	}
	if *statusAddr != "" {
		host, portStr, err := net.SplitHostPort(*statusAddr)
		if err != nil {
			log.Fatalf("Invalid -status-addr %q: %v", *statusAddr, err)
		}
		p, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatalf("Invalid -status-addr %q: %v", *statusAddr, err)
		}
		cfg.Status.Host = host
		cfg.Status.Port = p
	}

	renderer := term.NewRenderer(os.Stdout)

	homeDir, err := cfg.HomeDir()
	if err != nil {
		log.Fatalf("Cannot locate the scripts directory: %v (pass one with -home)", err)
	}

	if *clean {
		if err := scripts.Clean(homeDir); err != nil {
			log.Fatalf("Failed to remove %s: %v", homeDir, err)
		}
		renderer.FolderRemoved(homeDir)
		return
	}
	if *reset {
		if err := scripts.Reset(homeDir); err != nil {
			log.Fatalf("Failed to reset %s: %v", homeDir, err)
		}
		renderer.FolderReset(homeDir)
		return
	}

	provisioned, err := scripts.EnsureHome(homeDir)
	if err != nil {
		log.Fatalf("Failed to prepare %s: %v", homeDir, err)
	}
	if provisioned {
		renderer.FolderProvisioned(homeDir)
	}

	cat, err := catalog.List(homeDir)
	if err != nil {
		fail(dispatch.NoScripts(homeDir, err))
	}
	if len(cat) == 0 {
		fail(dispatch.NoScripts(homeDir, nil))
	}

	ports, err := midiport.Open(cfg.InputPortName(), cfg.OutputPortName())
	if err != nil {
		log.Fatalf("Failed to open MIDI ports: %v", err)
	}
	defer ports.Close()

	watcher, err := watch.New(homeDir, catalog.Extension, cfg.Watch.Debounce)
	if err != nil {
		log.Fatalf("Failed to watch %s: %v", homeDir, err)
	}
	defer watcher.Close()

	tracker := status.NewTracker()
	tracker.SetPorts(ports.InName(), ports.OutName())
	tracker.SetCatalog(cat)

	violations := make(chan script.Violation, 16)
	rt := script.NewRuntime(func(msg []byte) error {
		if err := ports.Send(msg); err != nil {
			return err
		}
		tracker.CountMidiOut()
		return nil
	}, violations)

	sess := session.NewSelecting(homeDir, cat)
	defer sess.Close()
	eng := engine.New(sess, rt, watcher.Events(), renderer, tracker)

	relay := midiport.NewRelay(cfg.Relay.QueueSize)
	portErrs := make(chan error, 1)
	if err := ports.Listen(relay, portErrs); err != nil {
		log.Fatalf("Failed to start the MIDI listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Status.Enabled {
		broadcaster := ws.NewBroadcaster(tracker, cfg.Status.BroadcastThrottle, cfg.Status.SnapshotInterval)
		defer broadcaster.Stop()
		tracker.OnChange(broadcaster.QueueStatus)
		tracker.OnEvent(broadcaster.PublishEvent)
		if err := tracker.StartSampler(ctx, cfg.Status.SampleInterval); err != nil {
			log.Printf("Process sampler unavailable: %v", err)
		}
		server := ws.NewServer(tracker, broadcaster, cfg.Status.AllowedOrigins, cfg.Status.Token)
		mux := http.NewServeMux()
		server.SetupRoutes(mux)
		go func() {
			if err := ws.ListenAndServe(cfg.Status.Host, cfg.Status.Port, mux); err != nil {
				log.Printf("Status server error: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	renderer.Intro(ports.InName(), ports.OutName())

	d := dispatch.New(dispatch.Options{
		Session:    sess,
		Engine:     eng,
		Relay:      relay,
		Renderer:   renderer,
		Tracker:    tracker,
		Input:      dispatch.ReadLines(os.Stdin),
		Violations: violations,
		Watch:      watcher.Events(),
		PortErrors: portErrs,
		Poll:       cfg.Dispatch.PollInterval,
	})
	if err := d.Run(ctx); err != nil {
		fail(err)
	}
}

// fail reports a fatal condition and exits with its code. Errors that
// carry no code use the generic fatal code.
func fail(err error) {
	log.Print(err)
	code := dispatch.CodeFatal
	var exitErr *dispatch.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	os.Exit(code)
}

// flagWasSet reports whether the named flag appeared on the command
// line, so an explicit -status=false can win over the config file.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
