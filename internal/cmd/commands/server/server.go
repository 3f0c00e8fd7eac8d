package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	httptrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/net/http"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/hashicorp-forge/wopihost/internal/api"
	"github.com/hashicorp-forge/wopihost/internal/cmd/base"
	"github.com/hashicorp-forge/wopihost/internal/config"
	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/internal/version"
)

type Command struct {
	*base.Command

	flagAddr   string
	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Run the WOPI host server"
}

func (c *Command) Help() string {
	return `Usage: wopihost server -config=config.hcl

  Run the WOPI host. Discovery documents are refreshed and expired access
  tokens swept in the background until the process receives SIGINT or
  SIGTERM.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("server", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "[WOPIHOST_CONFIG] (Required) Path to config file",
	)
	f.StringVar(
		&c.flagAddr, "addr", "", "Listen address, overrides server.addr",
	)

	return f
}

func (c *Command) Run(args []string) int {
	log, ui := c.Log, c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	configPath := c.flagConfig
	if val, ok := os.LookupEnv("WOPIHOST_CONFIG"); ok && configPath == "" {
		configPath = val
	}
	if configPath == "" {
		ui.Error("config flag is required (-config or WOPIHOST_CONFIG)")
		return 1
	}

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		ui.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}
	if c.flagAddr != "" {
		cfg.Server.Addr = c.flagAddr
	}
	log.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, log)
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing server: %v", err))
		return 1
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Warn("error closing server resources", "error", err)
		}
	}()

	// Serve with discovery data from the start when the editors are up.
	for _, e := range srv.Editors.All() {
		if _, err := e.Discovery.Refresh(ctx); err != nil {
			log.Warn("initial discovery refresh failed",
				"editor", e.Kind,
				"error", err,
			)
		}
	}

	var handler http.Handler = api.NewMux(*srv)
	if dd := cfg.Datadog; dd != nil && dd.Enabled {
		tracer.Start(
			tracer.WithEnv(dd.Env),
			tracer.WithService(dd.Service),
			tracer.WithServiceVersion(version.Version),
		)
		defer tracer.Stop()
		handler = httptrace.WrapHandler(handler, dd.Service, "wopi.request")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout:      config.Duration(cfg.Server.WriteTimeout),
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, e := range srv.Editors.All() {
		cache := e.Discovery
		g.Go(func() error {
			return cache.Run(gctx)
		})
	}

	g.Go(func() error {
		return srv.Tokens.RunSweeper(gctx, config.Duration(cfg.Tokens.SweepInterval))
	})

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error serving HTTP: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			config.Duration(cfg.Server.ShutdownTimeout))
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		ui.Error(err.Error())
		return 1
	}
	return 0
}
