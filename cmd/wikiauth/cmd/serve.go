package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/iKora128/medical-wiki/cmd/wikiauth/cmd/cmdutil"
	wikimw "github.com/iKora128/medical-wiki/internal/middleware"
	"github.com/iKora128/medical-wiki/internal/migrations"
	"github.com/iKora128/medical-wiki/internal/server"
	"github.com/iKora128/medical-wiki/internal/validation"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wiki auth server",
	Long:  `Starts the HTTP server with the session endpoints, the admin API and the Connect auth service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		bundle, err := cmdutil.NewServeBundle(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer bundle.Close()
		logger.Info("connected to database")

		if autoMigrate {
			group, err := migrations.Apply(ctx, bundle.DB)
			if err != nil {
				return fmt.Errorf("auto-migrate: %w", err)
			}
			logger.Info("migrations applied", "group", group.ID)
		}

		// Fetch signing keys up front so a misconfigured issuer fails fast.
		// Refresh failures later keep serving the last good snapshot.
		if err := bundle.Keys.Refresh(ctx); err != nil {
			return fmt.Errorf("initial signing key fetch: %w", err)
		}

		keysCtx, cancelKeys := context.WithCancel(ctx)
		defer cancelKeys()
		go bundle.Keys.Run(keysCtx, cfg.OIDC.RefreshInterval)

		validator, err := validation.New()
		if err != nil {
			return fmt.Errorf("compile request schemas: %w", err)
		}

		routerOpts := server.RouterOptions{
			Deps: &server.Deps{
				Gate:         bundle.Gate,
				Sessions:     bundle.Sessions,
				Roles:        bundle.Roles,
				Users:        bundle.Users,
				Validator:    validator,
				Logger:       logger,
				Production:   cfg.Production,
				StoreTimeout: cfg.Store.Timeout,
			},
			EdgePrefixes: cfg.Edge.ProtectedPrefixes,
			SessionLimiter: wikimw.NewRateLimiter(wikimw.RateLimiterConfig{
				Rate:  rate.Limit(cfg.RateLimit.SessionRPS),
				Burst: cfg.RateLimit.Burst,
			}, logger, bundle.Metrics),
			Gatherer: bundle.Registry,
		}
		if len(cfg.CORSOrigins) > 0 {
			corsOpts := server.DefaultCORSOptions()
			corsOpts.AllowedOrigins = cfg.CORSOrigins
			routerOpts.CORSOptions = &corsOpts
		}

		handler, err := server.NewH2CHandler(routerOpts)
		if err != nil {
			return fmt.Errorf("build router: %w", err)
		}

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", "addr", cfg.ServerAddr, "url", cfg.ServerURL)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP forces a signing key refresh, e.g. right after a provider rotation.
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-reload:
				refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := bundle.Keys.Refresh(refreshCtx); err != nil {
					logger.Error("manual key refresh failed", "signal", sig.String(), "error", err)
				} else if snap := bundle.Keys.Snapshot(); snap != nil {
					logger.Info("manual key refresh complete", "signal", sig.String(), "version", snap.Version, "keys", len(snap.Keys))
				}
				cancel()

			case sig := <-shutdown:
				logger.Info("shutting down gracefully", "signal", sig.String())

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					_ = srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info("server stopped")
				return nil
			}
		}
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
