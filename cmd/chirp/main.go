// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/chirp/config"
	"github.com/rapidaai/chirp/pkg/commons"
	"github.com/rapidaai/chirp/pkg/utils"

	internal_controller "github.com/rapidaai/chirp/internal/controller"
	internal_realtime "github.com/rapidaai/chirp/internal/realtime"
	internal_relay "github.com/rapidaai/chirp/internal/relay"
	internal_secret "github.com/rapidaai/chirp/internal/secret"
	internal_settings "github.com/rapidaai/chirp/internal/settings"
	internal_transcript "github.com/rapidaai/chirp/internal/transcript"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("failed to load application config: %v", err)
	}

	loggerOpts := []commons.LoggerOption{commons.WithLevel(cfg.LogLevel)}
	if cfg.LogFile != "" {
		loggerOpts = append(loggerOpts, commons.WithLogFile(cfg.LogFile))
	}
	logger, err := commons.NewApplicationLogger(loggerOpts...)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Infow("Starting chirp", "version", cfg.Version, "dataDir", cfg.DataDir)

	secrets, err := internal_secret.NewFileStore(cfg.DataDir)
	if err != nil {
		logger.Errorf("failed to open credential store: %v", err)
		os.Exit(1)
	}
	seedCredentialFromEnv(logger, secrets)

	settings, err := internal_settings.NewStore(logger, cfg.DataDir)
	if err != nil {
		logger.Errorf("failed to open settings store: %v", err)
		os.Exit(1)
	}

	repo, err := internal_transcript.NewSQLiteRepository(filepath.Join(cfg.DataDir, "transcripts.db"))
	if err != nil {
		logger.Errorf("failed to open transcript database: %v", err)
		os.Exit(1)
	}
	transcripts := internal_transcript.NewStore(logger, repo)

	provider := internal_realtime.NewProviderClient(logger, cfg.ProviderBaseURL)
	capture := internal_realtime.NewFFmpegCapture(cfg.CaptureCommand, cfg.CaptureFormat, cfg.CaptureDevice)
	client := internal_realtime.NewClient(logger, provider, secrets, transcripts, capture, nil)

	controller := internal_controller.NewController(logger, client, settings, transcripts)
	controller.Subscribe(func(state internal_realtime.SessionState) {
		logger.Infow("Session state", "status", state.Status, "message", state.Message, "live", state.IsLive)
	})

	hub := internal_relay.NewHub(logger, controller)
	relaySync := internal_relay.NewSync(logger, hub)
	controller.Subscribe(relaySync.OnState)
	transcripts.SubscribeLatest(relaySync.OnLatestItem)

	mux := http.NewServeMux()
	mux.Handle("/relay", hub)
	server := &http.Server{Addr: cfg.RelayListenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infow("Relay hub listening", "addr", cfg.RelayListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		runCommandLoop(groupCtx, logger, controller, secrets, settings, transcripts)
		cancel()
		return nil
	})

	group.Go(func() error {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-signals:
			logger.Infow("Shutting down", "signal", sig.String())
		case <-groupCtx.Done():
		}

		controller.Stop()
		hub.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
		cancel()
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Errorf("terminated with error: %v", err)
		os.Exit(1)
	}
	logger.Infow("Stopped")
}

// seedCredentialFromEnv imports OPENAI_API_KEY into the credential store on
// first run, so a fresh install works without an explicit `key` command.
func seedCredentialFromEnv(logger commons.Logger, secrets internal_secret.Store) {
	current, err := secrets.Get()
	if err != nil || !utils.IsEmpty(current) {
		return
	}
	env := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if env == "" {
		return
	}
	if err := secrets.Set(env); err != nil {
		logger.Warnw("Failed to import credential from environment", "error", err)
		return
	}
	logger.Infow("Imported credential from environment")
}

// runCommandLoop reads interactive commands from stdin until EOF or quit.
func runCommandLoop(
	ctx context.Context,
	logger commons.Logger,
	controller *internal_controller.Controller,
	secrets internal_secret.Store,
	settings *internal_settings.Store,
	transcripts *internal_transcript.Store,
) {
	fmt.Println("commands: start | stop | toggle | status | transcripts | clear | key <value> | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "start":
			controller.Start()
		case "stop":
			controller.Stop()
		case "toggle":
			controller.Toggle()
		case "status":
			state := controller.State()
			fmt.Printf("%s  %s  live=%v\n", state.Status, state.Message, state.IsLive)
		case "transcripts":
			for _, item := range transcripts.Items() {
				fmt.Printf("[%s] %s\n", item.Role, item.Text)
			}
		case "clear":
			controller.ClearTranscripts()
			fmt.Println("cleared")
		case "key":
			if len(fields) < 2 {
				fmt.Println("usage: key <value>")
				continue
			}
			if err := secrets.Set(fields[1]); err != nil {
				logger.Errorf("failed to store credential: %v", err)
				continue
			}
			fmt.Println("credential stored")
		case "transcribe":
			if len(fields) < 2 {
				fmt.Println("usage: transcribe on|off")
				continue
			}
			enabled := fields[1] == "on"
			settings.Update(func(s internal_settings.UserSettings) internal_settings.UserSettings {
				s.Transcribe = enabled
				return s
			})
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
}
