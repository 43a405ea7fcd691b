// Package main provides the microphone privacy daemon. It resolves the
// privacy policy of the privacy block, enforces mute on every capture
// stream and broadcasts privacy state changes to all consumers.
//
// Usage:
//
//	micprivacyd [-config path/to/config.json]
//
// If -config is not specified, the daemon looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-micprivacy/internal/archive"
	"github.com/oszuidwest/zwfm-micprivacy/internal/audio"
	"github.com/oszuidwest/zwfm-micprivacy/internal/config"
	"github.com/oszuidwest/zwfm-micprivacy/internal/eventlog"
	"github.com/oszuidwest/zwfm-micprivacy/internal/hwport"
	"github.com/oszuidwest/zwfm-micprivacy/internal/notify"
	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
	"github.com/oszuidwest/zwfm-micprivacy/internal/util"
)

// Build information, set via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// toneAmplitude is the level of the simulated capture signal.
const toneAmplitude = 0.5

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	policy, err := privacy.ParsePolicy(snap.Policy)
	if err != nil {
		slog.Error("invalid privacy policy", "error", err)
		os.Exit(1)
	}

	// The simulated privacy block is always bound under the default name.
	hwport.Register(hwport.DefaultDevice, hwport.NewSim(hwport.Config{
		Policy:        policy,
		WaitTimeMs:    snap.DMAZeroingWaitMs,
		RegisterValue: snap.PolicyRegister,
	}))
	device, err := hwport.Lookup(snap.Device)
	if err != nil {
		slog.Error("failed to bind privacy device", "device", snap.Device, "error", err)
		os.Exit(1)
	}

	eventLogPath := snap.EventLogPath
	if eventLogPath == "" {
		eventLogPath = eventlog.DefaultLogPath()
	}
	events, err := eventlog.NewLogger(eventLogPath)
	if err != nil {
		slog.Error("failed to open event log", "path", eventLogPath, "error", err)
		os.Exit(1)
	}
	defer util.SafeCloseFunc(events, "event log")()

	hub := notify.NewHub()
	subscribe(hub, notify.EventLogSubscriber{Logger: events})
	var webhook *notify.WebhookSubscriber
	if snap.HasWebhook() {
		webhook = notify.NewWebhookSubscriber(snap.WebhookURL)
		subscribe(hub, webhook)
	}
	if snap.HasGraph() {
		subscribe(hub, notify.NewEmailSubscriber(notify.GraphConfig{
			TenantID:     snap.GraphTenantID,
			ClientID:     snap.GraphClientID,
			ClientSecret: snap.GraphClientSecret,
			FromAddress:  snap.GraphFromAddress,
			Recipients:   snap.GraphRecipients,
		}, snap.StationName))
	}

	mgr := privacy.NewManager(device, hub)
	if err := mgr.Init(); err != nil {
		slog.Error("failed to initialize mic privacy", "error", err)
		os.Exit(1)
	}
	register, _ := mgr.PolicyRegister() //nolint:errcheck // port is bound
	if err := events.LogPolicy(mgr.Policy().String(), register); err != nil {
		slog.Warn("failed to log policy", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	gateways := make([]*audio.Gateway, 0, len(snap.Streams))
	for _, id := range snap.Streams {
		src := audio.NewToneSource(snap.ToneHz, snap.SampleRate, toneAmplitude)
		g := audio.NewGateway(id, mgr, src, device, snap.PeriodFrames(), nil)
		if err := g.Start(); err != nil {
			slog.Error("failed to start capture stream", "stream", id, "error", err)
			logStream(events, eventlog.StreamStarted, g, err)
			continue
		}
		logStream(events, eventlog.StreamStarted, g, nil)
		gateways = append(gateways, g)

		wg.Go(func() { g.Run(ctx, snap.Period) })
	}

	var archiver *archive.Archiver
	if snap.HasArchive() {
		archiver, err = archive.New(archive.S3Config{
			Endpoint:        snap.S3Endpoint,
			Bucket:          snap.S3Bucket,
			AccessKeyID:     snap.S3AccessKeyID,
			SecretAccessKey: snap.S3SecretAccessKey,
			Prefix:          snap.ArchivePrefix,
		}, events)
		if err != nil {
			slog.Error("failed to create archiver", "error", err)
		} else if snap.ArchiveInterval > 0 {
			wg.Go(func() { archiver.Run(ctx, snap.ArchiveInterval) })
		}
	}

	if snap.APIKey == "" {
		slog.Warn("no API key configured, privacy controls are disabled")
	}
	srv := NewServer(snap.StationName, snap.WebPort, mgr, device, hub, gateways, eventLogPath, webhook, snap.APIKey)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cancel()
	wg.Wait()

	mgr.Close()
	device.Wait()
	for _, g := range gateways {
		g.Stop()
		logStream(events, eventlog.StreamStopped, g, nil)
	}
	hub.Wait()

	if archiver != nil {
		if err := archiver.Upload(shutdownCtx); err != nil {
			slog.Error("final event log archive failed", "error", err)
		}
	}

	slog.Info("shutdown complete")
}

// subscribe registers a transport subscriber for all cores.
func subscribe(hub *notify.Hub, sub notify.Subscriber) {
	if _, err := hub.Subscribe(sub, privacy.TargetAllCores, privacy.SettingsABIVersion); err != nil {
		slog.Error("failed to add notification subscriber", "subscriber", sub.Name(), "error", err)
	}
}

// logStream journals a capture stream lifecycle event.
func logStream(events *eventlog.Logger, eventType eventlog.EventType, g *audio.Gateway, streamErr error) {
	errMsg := ""
	if streamErr != nil {
		errMsg = streamErr.Error()
	}
	if err := events.LogStream(eventType, g.ID(), g.Data().State().String(), errMsg); err != nil {
		slog.Warn("failed to log stream event", "stream", g.ID(), "error", err)
	}
}
