// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

// ice-echo demonstrates the full stack in one process: two endpoints
// negotiate loopback ICE connectivity, complete a DTLS handshake, and
// exchange one echoed payload through the play-state gate.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/michael-borisov/membrane-ice-plugin/handshake"
	"github.com/michael-borisov/membrane-ice-plugin/ice"
	"github.com/michael-borisov/membrane-ice-plugin/transport"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML ICE server config (default: host candidates on loopback)")
	payload := pflag.String("payload", "hello over ice", "payload to echo")
	timeout := pflag.Duration("timeout", 30*time.Second, "overall deadline")
	verbose := pflag.BoolP("verbose", "v", false, "debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, *payload, *timeout, logger); err != nil {
		logger.Error("ice-echo failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, payload string, timeout time.Duration, logger *slog.Logger) error {
	iceConfig := ice.Config{IncludeLoopback: true}
	if configPath != "" {
		loaded, err := ice.LoadConfig(configPath)
		if err != nil {
			return err
		}
		iceConfig = loaded
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	signaler := ice.NewMemorySignaler()

	alpha, err := newEndpoint("alpha", "beta", ice.Controlling, handshake.DTLSRoleClient, iceConfig, signaler, logger)
	if err != nil {
		return err
	}
	defer alpha.Close()

	beta, err := newEndpoint("beta", "alpha", ice.Controlled, handshake.DTLSRoleServer, iceConfig, signaler, logger)
	if err != nil {
		return err
	}
	defer beta.Close()

	alphaActive := make(chan []byte, 1)
	betaActive := make(chan []byte, 1)
	alpha.OnActivation(func(_ int, payload []byte) { alphaActive <- payload })
	beta.OnActivation(func(_ int, payload []byte) { betaActive <- payload })

	echoed := make(chan []byte, 1)
	alpha.OnData(func(_ int, data []byte) { echoed <- data })
	beta.OnData(func(componentID int, data []byte) {
		logger.Info("beta echoing payload", "bytes", len(data))
		beta.Write(componentID, data)
	})

	alpha.AttachChannel(1)
	beta.AttachChannel(1)

	if err := beta.Start(ctx); err != nil {
		return fmt.Errorf("starting beta: %w", err)
	}
	if err := alpha.Start(ctx); err != nil {
		return fmt.Errorf("starting alpha: %w", err)
	}

	var keys []byte
	select {
	case keys = <-alphaActive:
	case <-ctx.Done():
		return fmt.Errorf("waiting for alpha activation: %w", ctx.Err())
	}
	select {
	case <-betaActive:
	case <-ctx.Done():
		return fmt.Errorf("waiting for beta activation: %w", ctx.Err())
	}
	logger.Info("both components active", "keying_material_bytes", len(keys))

	alpha.SetPlayState(transport.PlayStatePlaying)
	beta.SetPlayState(transport.PlayStatePlaying)

	alpha.Write(1, []byte(payload))

	select {
	case data := <-echoed:
		fmt.Printf("echoed: %s\n", data)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for echo: %w", ctx.Err())
	}
}

func newEndpoint(name, peer string, role ice.Role, dtlsRole handshake.DTLSRole, iceConfig ice.Config, signaler ice.Signaler, logger *slog.Logger) (*ice.Endpoint, error) {
	return ice.NewEndpoint(ice.EndpointConfig{
		Name:     name,
		PeerName: peer,
		StreamID: 1,
		Role:     role,
		EngineFactory: func(int) (handshake.Engine, error) {
			return handshake.NewDTLS(dtlsRole)
		},
		ICE:      iceConfig,
		Signaler: signaler,
		Logger:   logger,
	})
}
