package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadify-flow/internal/monitoring"
	"github.com/sells-group/leadify-flow/internal/server"
	"github.com/sells-group/leadify-flow/internal/session"
)

const sessionSweepInterval = time.Minute

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves the backend proxy routes, the conversational session API and the run API. Idle sessions are swept and run health is checked in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		idle := time.Duration(cfg.Session.IdleTimeoutMins) * time.Minute
		sessions := session.NewManager(ctx, env.Pipeline, idle)
		collector := monitoring.NewCollector(env.Store, env.Guard.Breakers)

		srv := server.New(ctx, cfg.Server, server.Deps{
			Backend:       env.Backend,
			Fallback:      env.Fallback,
			Runs:          env.Pipeline,
			Store:         env.Store,
			Sessions:      sessions,
			Metrics:       collector,
			LookbackHours: cfg.Monitoring.LookbackHours,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.ListenAndServe(gctx) })
		g.Go(func() error { return sessions.Run(gctx, sessionSweepInterval) })

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error { return checker.Run(gctx) })
		} else {
			zap.L().Debug("LEADIFY_MONITORING_WEBHOOK_URL not set, alert checker disabled")
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
