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
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/chirp/config"
	"github.com/rapidaai/chirp/pkg/commons"

	internal_relay "github.com/rapidaai/chirp/internal/relay"
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

	logger, err := commons.NewApplicationLogger(commons.WithLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	state, err := internal_relay.NewStateStore(logger, filepath.Join(cfg.DataDir, "companion"))
	if err != nil {
		logger.Errorf("failed to open companion state store: %v", err)
		os.Exit(1)
	}
	state.Subscribe(func(s internal_relay.CompanionState) {
		if s.LastTranscript != "" {
			fmt.Printf("%s  live=%v  | %s\n", s.Status, s.IsLive, s.LastTranscript)
			return
		}
		fmt.Printf("%s  live=%v\n", s.Status, s.IsLive)
	})

	url := "ws://" + cfg.RelayListenAddr + "/relay"
	companion := internal_relay.NewCompanionClient(logger, url, state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := companion.Run(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	group.Go(func() error {
		runCommandLoop(groupCtx, companion, state)
		cancel()
		return nil
	})

	group.Go(func() error {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-signals:
		case <-groupCtx.Done():
		}
		cancel()
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Errorf("terminated with error: %v", err)
		os.Exit(1)
	}
}

func runCommandLoop(ctx context.Context, companion *internal_relay.CompanionClient, state *internal_relay.StateStore) {
	current := state.Current()
	fmt.Printf("last known: %s  live=%v\n", current.Status, current.IsLive)
	fmt.Println("commands: start | stop | status | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "":
		case "start":
			if err := companion.SendStart(); err != nil {
				fmt.Printf("start failed: %v\n", err)
			}
		case "stop":
			if err := companion.SendStop(); err != nil {
				fmt.Printf("stop failed: %v\n", err)
			}
		case "status":
			s := state.Current()
			fmt.Printf("%s  live=%v  | %s\n", s.Status, s.IsLive, s.LastTranscript)
		case "quit", "exit":
			return
		default:
			fmt.Println("commands: start | stop | status | quit")
		}
	}
}
