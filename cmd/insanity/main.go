// Command insanity is the voicemesh peer-to-peer voice chat client.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coldglass/voicemesh/internal/appdata"
	"github.com/coldglass/voicemesh/internal/audioio"
	"github.com/coldglass/voicemesh/internal/config"
	"github.com/coldglass/voicemesh/internal/connmanager"
	"github.com/coldglass/voicemesh/internal/events"
	"github.com/coldglass/voicemesh/internal/identity"
	"github.com/coldglass/voicemesh/internal/keystore"
	"github.com/coldglass/voicemesh/internal/logging"
	"github.com/coldglass/voicemesh/internal/peer"
	"github.com/coldglass/voicemesh/internal/rendezvous"
	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: insanity <run|update> [flags]")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "update":
		updateCommand(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}
}

// updateCommand is a no-op placeholder: this build has no self-update
// mechanism, but the subcommand is kept so existing scripts invoking
// `insanity update` do not fail outright.
func updateCommand(_ []string) {
	slog.Info("update subcommand is not implemented in this build")
}

func runCommand(args []string) {
	flags := pflag.NewFlagSet("run", pflag.ExitOnError)
	flags.Uint16("port", 0, "UDP port to bind (0 = ephemeral)")
	flags.Bool("no-tui", false, "disable the terminal UI")
	dir := flags.String("dir", defaultDataDir(), "application data directory")
	configFile := flags.String("config-file", "", "path to a TOML config file")
	flags.StringArray("bridge", nil, "rendezvous bridge base URL (repeatable)")
	flags.String("room", "", "rendezvous room namespace")
	flags.String("ip-version", "", "ipv4, ipv6, or dualstack")
	displayName := flags.String("display-name", "", "display name published to peers")
	logLevel := flags.String("log-level", "info", "none, error, warn, info, debug")

	if err := flags.Parse(args); err != nil {
		slog.Error("failed to parse flags", "err", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if cfg.Dir == "" {
		cfg.Dir = *dir
	}

	logFilePointer, err := logging.Configure(*logLevel, "", slog.HandlerOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to configure logging:", err)
		os.Exit(1)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}
	logger := slog.Default()

	appDir, err := appdata.Prepare(cfg.Dir, logger)
	if err != nil {
		logger.Error("failed to prepare data directory", "err", err)
		os.Exit(1)
	}

	ks, err := keystore.Open(appDir.KeystorePath)
	if err != nil {
		logger.Error("failed to open keystore", "err", err)
		os.Exit(1)
	}
	defer ks.Close()

	capture, err := audioio.OpenCapture()
	if err != nil {
		logger.Warn("failed to open audio capture device, continuing receive-only", "err", err)
	}

	playbackFormat, err := audioio.DefaultOutputFormat()
	if err != nil {
		logger.Warn("failed to probe playback device, assuming 48kHz", "err", err)
		playbackFormat = audioio.Format{Channels: 2, SampleRate: 48000}
	}

	appEvents := make(chan events.AppEvent, 256)
	userInput := make(chan events.UserInputEvent, 64)

	cm, err := connmanager.New(connmanager.Config{
		Port:      cfg.Port,
		IPVersion: string(cfg.IPVersion),
	}, ks, capture, 48000, playbackFormat.SampleRate, appEvents, logger)
	if err != nil {
		logger.Error("failed to initialize connection manager", "err", err)
		os.Exit(1)
	}

	selfId := identity.DeriveId(cm.LocalPublicKey(), cm.LocalPublicKey())
	cm.SetSelfId(selfId)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go cm.Run(ctx)

	playback, err := audioio.OpenPlayback(cm.Mixer())
	if err != nil {
		logger.Warn("failed to open audio playback device", "err", err)
	} else {
		defer playback.Close()
	}

	selfPubB64 := base64.StdEncoding.EncodeToString(cm.LocalPublicKey())
	appEvents <- events.AppEvent{SetOwnPublicKey: &selfPubB64}
	if len(cfg.Bridges) > 0 {
		appEvents <- events.AppEvent{SetServer: cfg.Bridges}
	}
	if cfg.Room != "" {
		appEvents <- events.AppEvent{SetRoom: &cfg.Room}
	}
	if *displayName != "" {
		appEvents <- events.AppEvent{SetOwnDisplayName: displayName}
	}

	if cfg.Room != "" && len(cfg.Bridges) > 0 {
		rc := rendezvous.New(cfg.Bridges[0], cfg.Room, logger)
		ownInfo := peer.AugmentedInfo{
			DisplayName:    *displayName,
			ConnectionInfo: peer.ConnectionInfo{PublicKey: cm.LocalPublicKey()},
		}
		if err := rc.Publish(ctx, cm.LocalPublicKey(), ownInfo); err != nil {
			logger.Error("failed to publish presence to rendezvous bridge", "err", err)
			os.Exit(1)
		}

		discoveries := make(chan rendezvous.Discovery, 32)
		go rc.Run(ctx, selfPubB64, discoveries)
		go func() {
			for d := range discoveries {
				cm.HandleDiscovered(d.PublicKey, d.Info)
			}
		}()
	} else {
		logger.Warn("no bridge/room configured, running without peer discovery")
	}

	go dispatchUserInput(userInput, cm)
	go logAppEvents(appEvents, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	cancel()
	if capture != nil {
		capture.Close()
	}
}

func dispatchUserInput(userInput <-chan events.UserInputEvent, cm *connmanager.Manager) {
	for ev := range userInput {
		cm.Dispatch(ev)
	}
}

func logAppEvents(appEvents <-chan events.AppEvent, logger *slog.Logger) {
	for ev := range appEvents {
		switch {
		case ev.AddPeer != nil:
			logger.Info("peer status", "peer", ev.AddPeer.Id.String(), "status", ev.AddPeer.Status, "address", ev.AddPeer.Address)
		case ev.NewMessage != nil:
			logger.Info("chat message", "peer", ev.NewMessage.PeerId.String(), "text", ev.NewMessage.Text)
		case ev.Loudness != nil:
			// high-frequency; left to a UI layer to consume in a real build
		}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".insanity"
	}
	return filepath.Join(home, ".local", "share", "insanity")
}
