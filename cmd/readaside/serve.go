package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentuity/readaside/handler"
	"github.com/agentuity/readaside/sys"
	"github.com/agentuity/readaside/telemetry"
	"github.com/agentuity/readaside/tui"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reads over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(cmd)
		if err != nil {
			tui.ShowError("%s", err)
			os.Exit(1)
		}
		defer a.Close()
		if err := a.withResolver(); err != nil {
			a.fail(err)
			return
		}

		h := handler.New(a.resolver, a.log,
			handler.WithMetrics(a.metrics),
			handler.WithTracer(telemetry.Tracer()),
			handler.WithHealth(a.store),
		)
		srv := &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return a.ctx },
		}

		tui.ShowBanner("readaside", fmt.Sprintf("listening on %s\ncache %s, ttl %s", a.cfg.Server.ListenAddr, a.cfg.Cache.Backend, a.cfg.Cache.TTL))

		signals := sys.CreateShutdownChannel()
		g, gctx := errgroup.WithContext(a.ctx)
		g.Go(func() error {
			defer sys.RecoverPanic(a.log)
			a.log.Info("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "http server")
			}
			return nil
		})
		g.Go(func() error {
			select {
			case sig := <-signals:
				a.log.Info("received %s, shutting down", sig)
			case <-gctx.Done():
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		})
		if err := g.Wait(); err != nil {
			a.log.Error("%s", err)
		}
		a.log.Info("stopped")
	},
}
