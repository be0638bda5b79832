// Command ducker is a real-time dual-stream audio ducking service: it mixes
// a primary and a secondary stereo program, attenuating the secondary while
// the primary is active, and exposes a control API plus live telemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"ducker/internal/audioio"
	"ducker/internal/engine"
	"ducker/internal/httpapi"
	"ducker/internal/settings"
	"ducker/internal/store"
	"ducker/internal/telemetry"
	"ducker/internal/wshub"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	addr := flag.String("addr", ":8080", "Control API listen address")
	dbPath := flag.String("db", "ducker.db", "SQLite settings database path")
	sampleRate := flag.Float64("rate", 48000, "Session sample rate in Hz")
	blockSize := flag.Int("block", 256, "Session block size in frames")
	primaryDev := flag.Int("primary-device", -1, "Primary capture device ID (-1 = default)")
	secondaryDev := flag.Int("secondary-device", -1, "Secondary capture device ID (-1 = default)")
	outputDev := flag.Int("output-device", -1, "Playback device ID (-1 = default)")
	listDevices := flag.Bool("list-devices", false, "List audio devices and exit")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *listDevices {
		if err := audioio.Initialize(); err != nil {
			slog.Error("audio init", "err", err)
			os.Exit(1)
		}
		defer audioio.Terminate()
		fmt.Println("Capture devices:")
		for _, d := range audioio.InputDevices() {
			fmt.Printf("  %3d  %s\n", d.ID, d.Name)
		}
		fmt.Println("Playback devices:")
		for _, d := range audioio.OutputDevices() {
			fmt.Printf("  %3d  %s\n", d.ID, d.Name)
		}
		return
	}

	slog.Info("starting ducker", "version", Version, "addr", *addr,
		"rate", *sampleRate, "block", *blockSize)

	// A broken settings database is not fatal: the engine runs on defaults
	// and changes simply aren't persisted.
	st, err := store.Open(*dbPath)
	if err != nil {
		slog.Error("open settings store, continuing without persistence", "err", err)
		st = nil
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("close settings store", "err", closeErr)
		}
	}()

	eng := engine.New(*sampleRate, *blockSize)
	eng.UpdateSettings(loadSettings(st))

	hub := wshub.New()
	defer hub.Close()
	pub := telemetry.New(eng, hub, telemetry.DefaultInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	// The processing context needs a reachable audio server; the control
	// plane keeps serving a not-running status if there is none.
	if err := audioio.Initialize(); err != nil {
		slog.Error("audio server unavailable, control plane only", "err", err)
	} else {
		defer audioio.Terminate()
		io, err := audioio.Open(audioio.Config{
			SampleRate:        *sampleRate,
			BlockSize:         *blockSize,
			PrimaryDeviceID:   *primaryDev,
			SecondaryDeviceID: *secondaryDev,
			OutputDeviceID:    *outputDev,
		}, eng)
		if err != nil {
			slog.Error("open audio streams, control plane only", "err", err)
		} else if err := io.Start(); err != nil {
			slog.Error("start audio streams, control plane only", "err", err)
		} else {
			eng.SetRunning(true)
			defer io.Stop()
		}
	}

	go pub.Run(ctx)

	api := httpapi.New(eng, st, pub, hub, Version)
	slog.Info("control API listening", "addr", *addr)
	if err := api.Run(ctx, *addr); err != nil {
		slog.Error("control API error", "err", err)
		os.Exit(1)
	}
	slog.Info("ducker stopped")
}

// loadSettings overlays the persisted document onto the defaults. Missing
// stores and invalid fields degrade to defaults, never to a failed startup.
func loadSettings(st *store.Store) settings.Settings {
	def := settings.Default()
	if st == nil {
		return def
	}
	fields, err := st.LoadSettings(context.Background())
	if err != nil {
		slog.Error("load settings, using defaults", "err", err)
		return def
	}
	if len(fields) == 0 {
		return def
	}
	loaded, applied, rejected := settings.Apply(def, fields)
	for key, reason := range rejected {
		slog.Warn("ignoring persisted setting", "key", key, "reason", reason)
	}
	slog.Info("settings loaded", "fields", len(applied))
	return loaded
}
