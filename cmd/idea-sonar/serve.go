package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/idea-sonar/internal/httpapi"
	"github.com/joelkehle/idea-sonar/internal/runstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes POST /v1/analyze (JSON or form field idea_text; add
?format=markdown, html or pdf for a rendered report), POST /v1/runs for
background runs polled at GET /v1/runs/{id}, and GET /v1/health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		stopJanitor := a.startJanitor(cfg.Cache.PurgeSchedule)
		defer stopJanitor()

		handler := httpapi.NewServer(a.pipeline, httpapi.Options{
			RequestTimeout: cfg.Server.RequestTimeout,
			PDF:            httpapi.NewChromiumPDFRenderer(cfg.Server.ChromePath),
			Health:         a.health,
			Runs:           runstore.New(cfg.Runs.Max),
		})
		srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()

		log.Printf("idea-sonar listening on %s (web=%t, patent=%t, verification=%t, cache=%t)",
			cfg.Server.Addr, a.health.WebSearch, a.health.PatentSearch, a.health.Verification, a.health.Cache)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
