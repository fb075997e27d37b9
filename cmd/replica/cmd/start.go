// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethersphere/replica"
	"github.com/ethersphere/replica/pkg/node"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/spf13/cobra"
)

const (
	optionNameDeviceID            = "device-id"
	optionNameDebugAPIAddr        = "debug-api-addr"
	optionNameChunkSize           = "chunk-size"
	optionNameRequireHash         = "require-hash"
	optionNameUploadRateLimit     = "upload-rate-limit"
	optionNameHashCacheSize       = "hash-cache-size"
	optionNameTokensClient        = "tokens-client"
	optionNameTokensServer        = "tokens-server"
	optionNameTokensHasher        = "tokens-hasher"
	optionNameServerWait          = "server-wait"
	optionNameRetryDelay          = "retry-delay"
	optionNameMaxRetryDelay       = "max-retry-delay"
	optionNameMaxTransientRetries = "max-transient-retries"
	optionNameMaxHashMismatches   = "max-hash-mismatches"
	optionNameRoundTimeout        = "round-timeout"
	optionNameTracingEnabled      = "tracing-enable"
	optionNameTracingEndpoint     = "tracing-endpoint"
	optionNameTracingServiceName  = "tracing-service-name"
	optionNameTracingSampleRate   = "tracing-sample-rate"
)

func (c *command) initStartCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a replica",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			logger, err := c.newLogger(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			dataDir := c.config.GetString(optionNameDataDir)
			self, err := deviceID(dataDir, c.config.GetString(optionNameDeviceID))
			if err != nil {
				return fmt.Errorf("device id: %w", err)
			}

			logger.Infof("version: %v", replica.Version)

			n, err := node.New(node.Options{
				DataDir:              dataDir,
				DBOpenFilesLimit:     c.config.GetUint64(optionNameDBOpenFilesLimit),
				DBBlockCacheCapacity: c.config.GetUint64(optionNameDBBlockCacheCapacity),
				DBWriteBufferSize:    c.config.GetUint64(optionNameDBWriteBufferSize),
				Self:                 self,
				ChunkSize:            c.config.GetInt(optionNameChunkSize),
				RequireHash:          c.config.GetBool(optionNameRequireHash),
				UploadRateLimit:      c.config.GetFloat64(optionNameUploadRateLimit),
				HashCacheSize:        c.config.GetInt(optionNameHashCacheSize),
				TokenCapacities: map[token.Category]int{
					token.CategoryClient: c.config.GetInt(optionNameTokensClient),
					token.CategoryServer: c.config.GetInt(optionNameTokensServer),
					token.CategoryHasher: c.config.GetInt(optionNameTokensHasher),
				},
				ServerWait:          c.config.GetDuration(optionNameServerWait),
				RetryDelay:          c.config.GetDuration(optionNameRetryDelay),
				MaxRetryDelay:       c.config.GetDuration(optionNameMaxRetryDelay),
				MaxTransientRetries: c.config.GetInt(optionNameMaxTransientRetries),
				MaxHashMismatches:   c.config.GetInt(optionNameMaxHashMismatches),
				RoundTimeout:        c.config.GetDuration(optionNameRoundTimeout),
				DebugAPIAddr:        c.config.GetString(optionNameDebugAPIAddr),
				TracingEnabled:      c.config.GetBool(optionNameTracingEnabled),
				TracingEndpoint:     c.config.GetString(optionNameTracingEndpoint),
				TracingServiceName:  c.config.GetString(optionNameTracingServiceName),
				TracingSampleRate:   c.config.GetFloat64(optionNameTracingSampleRate),
				Logger:              logger,
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

				if err := n.Shutdown(ctx); err != nil {
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

	c.setStartFlags(cmd)

	c.root.AddCommand(cmd)
	return nil
}

// setStartFlags adds the flags that configure a running replica.
func (c *command) setStartFlags(cmd *cobra.Command) {
	c.setDataFlags(cmd)
	cmd.Flags().String(optionNameDeviceID, "", "device id, generated and stored in the data directory if not set")
	cmd.Flags().String(optionNameDebugAPIAddr, ":1635", "debug HTTP API listen address")
	cmd.Flags().Int(optionNameChunkSize, 64*1024, "size of content frames in bytes")
	cmd.Flags().Bool(optionNameRequireHash, false, "serve content only after its hash is known")
	cmd.Flags().Float64(optionNameUploadRateLimit, 0, "upload rate limit in bytes per second, 0 is unlimited")
	cmd.Flags().Int(optionNameHashCacheSize, 4096, "number of cached content hashes")
	cmd.Flags().Int(optionNameTokensClient, token.DefaultCapacities[token.CategoryClient], "number of concurrent downloads")
	cmd.Flags().Int(optionNameTokensServer, token.DefaultCapacities[token.CategoryServer], "number of concurrently served requests")
	cmd.Flags().Int(optionNameTokensHasher, token.DefaultCapacities[token.CategoryHasher], "number of concurrent hash computations")
	cmd.Flags().Duration(optionNameServerWait, 10*time.Second, "time a request waits for a server slot")
	cmd.Flags().Duration(optionNameRetryDelay, 100*time.Millisecond, "initial delay before a retry")
	cmd.Flags().Duration(optionNameMaxRetryDelay, 10*time.Second, "maximal delay before a retry")
	cmd.Flags().Int(optionNameMaxTransientRetries, 5, "retries of a peer that fails transiently")
	cmd.Flags().Int(optionNameMaxHashMismatches, 2, "hash mismatches tolerated from one peer")
	cmd.Flags().Duration(optionNameRoundTimeout, 5*time.Minute, "time limit of one request to a peer")
	cmd.Flags().Bool(optionNameTracingEnabled, false, "enable tracing")
	cmd.Flags().String(optionNameTracingEndpoint, "127.0.0.1:6831", "endpoint to send tracing data")
	cmd.Flags().String(optionNameTracingServiceName, "replica", "service name identifier for tracing")
	cmd.Flags().Float64(optionNameTracingSampleRate, 1, "fraction of traces to sample")
}
