package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/wa-digest/digest/ingest"
	"github.com/theimaginaryfoundation/wa-digest/digest/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest and digest HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.HTTPAddr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8000)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	d, err := a.digester(store)
	if err != nil {
		return err
	}

	if !a.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &server.Server{
		Store: store,
		Ingestor: ingest.Ingestor{
			Store:     store,
			Secret:    a.cfg.Ingest.JWTSecret,
			Allowlist: a.cfg.Ingest.AllowlistBridges,
			MaxBatch:  a.cfg.Ingest.MaxBatch,
			Logger:    a.logger,
		},
		Digester:    d,
		LLMDefaults: a.llmDefaults(),
		Debug: server.DebugInfo{
			LogLevel: a.cfg.LogLevel,
			Debug:    a.cfg.Debug,
			LogFile:  a.cfg.LogFile,
			Backend:  store.Backend(),
			Events:   store.Location(),
		},
		Logger: a.logger,
	}

	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", a.cfg.HTTPAddr, "backend", store.Backend(), "events", store.Location())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	return nil
}
