package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/gateway"
	"github.com/crewdeck/crewdeck/internal/room"
	"github.com/crewdeck/crewdeck/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the realtime gateway",
		Long:  "Starts the websocket gateway, connecting to MySQL and, when configured, NATS.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewdeck.yaml", "path to Crewdeck config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	gormDB, err := connectFromConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", cfg.DB.Host, cfg.DB.Port)

	st := store.New(gormDB)
	router, err := room.NewRouter(room.RouterOpts{
		Store:              st,
		DirectHistoryLimit: cfg.Chat.DirectHistoryLimit,
	})
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(auth.VerifierOpts{Secret: cfg.Auth.Secret, Store: st})
	if err != nil {
		return err
	}

	b, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	if cfg.NATS.URL != "" {
		fmt.Fprintf(out, "Connected to NATS at %s (instance %s)\n", cfg.NATS.URL, b.InstanceID())
	} else {
		fmt.Fprintln(out, "Running single-instance with the in-process bus")
	}

	hub, err := gateway.New(gateway.Opts{
		Store:         st,
		Router:        router,
		Bus:           b,
		Verifier:      verifier,
		PingInterval:  time.Duration(cfg.Server.PingIntervalSec) * time.Second,
		PongTimeout:   time.Duration(cfg.Server.PongTimeoutSec) * time.Second,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
		PreviewLength: cfg.Chat.PreviewLength,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return gateway.Start(ctx, gateway.StartOpts{
		Hub:            hub,
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Out:            out,
		ResyncSchedule: cfg.Chat.PresenceResyncCron,
	})
}

// openBus picks NATS when a URL is configured, otherwise the in-process bus.
func openBus(cfg *config.Config) (bus.Bus, error) {
	if cfg.NATS.URL == "" {
		return bus.NewLocal(), nil
	}
	b, err := bus.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	return b, nil
}
