/*
 *
 * Copyright 2025 The ringbus authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package cmd

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/daqlab/ringbus/internal/transport/remote"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve local rings to remote clients",
	Long: `Run the ring proxy so that ring://host/name addresses on other machines
can produce into and consume from the rings of this host. With --metrics,
Prometheus metrics are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "proxy listen address (default proxy.listen)")
	serveCmd.Flags().String("metrics", "", "metrics listen address (default metrics.listen)")
	_ = viper.BindPFlag("proxy.listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("metrics.listen", serveCmd.Flags().Lookup("metrics"))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	rings := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "ringbus",
		Subsystem: "directory",
		Name:      "rings",
		Help:      "Rings present in the ring directory",
	}, func() float64 {
		names, err := a.Directory.List()
		if err != nil {
			return 0
		}
		return float64(len(names))
	})
	if err := a.Metrics.Register("directory", "rings", rings); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := &remote.Server{
		Directory: a.Directory,
		Listen:    a.Config.Proxy.Listen,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
	}
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if addr := a.Config.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			a.Logger.Info("Metrics listening", "addr", addr)
			if err := hs.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
