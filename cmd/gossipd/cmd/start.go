// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tradenet/gossipd"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/node"
)

func (c *command) initStartCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a gossipd node",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			v := strings.ToLower(c.config.GetString(optionNameVerbosity))
			logger, err := newLogger(cmd, v)
			if err != nil {
				return fmt.Errorf("new logger: %w", err)
			}

			capabilities, err := capability.ParseSet(c.config.GetStringSlice(optionNameCapabilities))
			if err != nil {
				return fmt.Errorf("capabilities: %w", err)
			}

			signerConfig, err := c.configureSigner(cmd, logger)
			if err != nil {
				return err
			}

			logger.Infof("version: %v", gossipd.Version)

			debugAPIAddr := c.config.GetString(optionNameDebugAPIAddr)
			if !c.config.GetBool(optionNameDebugAPIEnable) {
				debugAPIAddr = ""
			}

			b, err := node.NewGossipd(context.Background(), signerConfig.signer, c.config.GetUint64(optionNameNetworkID), logger, signerConfig.libp2pPrivateKey, node.Options{
				DataDir:              c.config.GetString(optionNameDataDir),
				Addr:                 c.config.GetString(optionNameP2PAddr),
				NATAddr:              c.config.GetString(optionNameNATAddr),
				EnableWS:             c.config.GetBool(optionNameP2PWSEnable),
				DebugAPIAddr:         debugAPIAddr,
				Bootnodes:            c.config.GetStringSlice(optionNameBootnodes),
				CORSAllowedOrigins:   c.config.GetStringSlice(optionCORSAllowedOrigins),
				Logger:               logger,
				TracingEnabled:       c.config.GetBool(optionNameTracingEnabled),
				TracingEndpoint:      c.config.GetString(optionNameTracingEndpoint),
				TracingServiceName:   c.config.GetString(optionNameTracingServiceName),
				Capabilities:         capabilities,
				PurgeInterval:        c.config.GetDuration(optionNamePurgeInterval),
				OwnerFanout:          c.config.GetInt(optionNameOwnerFanout),
				RelayFanout:          c.config.GetInt(optionNameRelayFanout),
				PeerExchangeInterval: c.config.GetDuration(optionNamePeerExchangeInterval),
				MinPeers:             c.config.GetInt(optionNameMinPeers),
				KeepaliveInterval:    c.config.GetDuration(optionNameKeepaliveInterval),
				MailboxTTL:           c.config.GetDuration(optionNameMailboxTTL),
			})
			if err != nil {
				return err
			}

			// Wait for termination or interrupt signals.
			// We want to clean up things at the end.
			interruptChannel := make(chan os.Signal, 1)
			signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)

			// Block main goroutine until it is interrupted
			sig := <-interruptChannel

			logger.Debugf("received signal: %v", sig)
			logger.Info("shutting down")

			// Shutdown
			done := make(chan struct{})
			go func() {
				defer close(done)

				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()

				if err := b.Shutdown(ctx); err != nil {
					logger.Errorf("shutdown: %v", err)
				}
			}()

			// If shutdown function is blocking too long,
			// allow process termination by receiving another signal.
			select {
			case sig := <-interruptChannel:
				logger.Debugf("received signal: %v", sig)
			case <-done:
			}

			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	c.root.AddCommand(cmd)
	return nil
}
