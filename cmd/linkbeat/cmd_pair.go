package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/HerbHall/linkbeat/internal/config"
	"github.com/HerbHall/linkbeat/internal/credential"
	"github.com/HerbHall/linkbeat/internal/freebox"
	"github.com/HerbHall/linkbeat/internal/version"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// runPair implements the "pair" subcommand: the one-time authorization
// flow that obtains and persists the long-lived app token.
func runPair(args []string) {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	deviceName := fs.String("device-name", defaultDeviceName(), "device name shown on the router during approval")
	force := fs.Bool("force", false, "re-pair even if a credential already exists")
	_ = fs.Parse(args)

	_ = godotenv.Load()

	cfg, v, err := config.LoadForPairing(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v.GetString("logging.level"), "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	creds := credential.NewStore(cfg.Credentials.Path)
	if !*force {
		if _, err := creds.Load(); err == nil {
			fmt.Fprintf(os.Stderr, "already paired: credential exists at %s (use -force to re-pair)\n", creds.Path())
			os.Exit(1)
		} else if !errors.Is(err, credential.ErrNotPaired) {
			fmt.Fprintf(os.Stderr, "cannot read existing credential: %v\n", err)
			os.Exit(1)
		}
	}

	client := freebox.NewClient(cfg.Router.APIBase, cfg.Router.AppID, creds, cfg.Router.Timeout, logger.Named("freebox"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cred, err := client.Pair(ctx, "linkbeat", version.Short(), *deviceName, os.Stderr)
	if err != nil {
		logger.Error("pairing failed", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("Paired with the router. Credential saved to %s (track id %d).\n", creds.Path(), cred.TrackID)
}

func defaultDeviceName() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "linkbeat-agent"
	}
	return h
}
