/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command edgeproxy-worker is the process entrypoint: it loads the initial registry from a
// config file, starts the admin HTTP surface, and runs the proxy core until an interrupt or a
// SoftStop/HardStop delta asks it to stop (spec.md §1, §5).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nabbar/edgeproxy/adminapi"
	"github.com/nabbar/edgeproxy/config"
	"github.com/nabbar/edgeproxy/logger"
	"github.com/nabbar/edgeproxy/metrics"
	"github.com/nabbar/edgeproxy/reconfig"
	"github.com/nabbar/edgeproxy/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		adminAddr  string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "edgeproxy-worker",
		Short: "Hot-reconfigurable HTTP/1.1 and HTTP/2 reverse proxy worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.SetLevel(logLevel)
			return run(configPath, adminAddr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "edgeproxy.yaml", "path to the registry config file")
	flags.StringVar(&adminAddr, "admin-addr", "127.0.0.1:9000", "address for the admin HTTP surface")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func run(configPath, adminAddr string) error {
	deltas, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	applier := reconfig.NewApplier(nil)
	for _, d := range deltas {
		if r := applier.Apply(d); r.Status == reconfig.Error {
			return fmt.Errorf("applying initial delta %s (%s): %w", d.ID, d.Kind, r.Err)
		}
	}

	m := metrics.New()
	w := worker.New(applier, m, nil)

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		logger.Event("config_watch_unavailable").WithField("error", err.Error()).Warn("config hot-reload disabled")
	} else {
		go func() {
			for burst := range watcher.Deltas {
				for _, d := range burst {
					applier.Apply(d)
				}
				logger.Event("config_applied").WithField("count", len(burst)).Info("config reloaded")
			}
		}()
		defer watcher.Close()
	}

	admin := &http.Server{Addr: adminAddr, Handler: adminapi.New(applier, m)}
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Event("admin_api_failed").WithField("error", err.Error()).Warn("admin API stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
	}()

	return w.Serve(ctx)
}
