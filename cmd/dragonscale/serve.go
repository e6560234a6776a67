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
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serves DSL parsing, asynchronous sessions answered from the request body,
a health check and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		retention, _ := cmd.Flags().GetDuration("retention")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := buildRuntime(ctx, optionsFrom(cmd), nil, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		s := &server{engine: rt.engine, gatherer: rt.metrics}
		srv := &http.Server{
			Addr:              addr,
			Handler:           s.buildRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Printf("Starting DragonScale server (addr: %s)", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			ticker := time.NewTicker(retention)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := rt.engine.CleanupCompletedSessions(retention); n > 0 {
						log.Printf("Removed finished sessions (count: %d)", n)
					}
				}
			}
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Graceful shutdown did not complete in %v (error: %v)", shutdownTimeout, err)
				return srv.Close()
			}
			log.Printf("DragonScale server stopped")
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Duration("retention", 10*time.Minute, "how long finished sessions stay queryable")
}
