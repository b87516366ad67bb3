package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/programmerrush/InsightDB-api/internal/ai"
	"github.com/programmerrush/InsightDB-api/internal/ai/openai"
	"github.com/programmerrush/InsightDB-api/internal/config"
	"github.com/programmerrush/InsightDB-api/internal/connection"
	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/database/mysql"
	"github.com/programmerrush/InsightDB-api/internal/database/postgres"
	"github.com/programmerrush/InsightDB-api/internal/filestore"
	"github.com/programmerrush/InsightDB-api/internal/filestore/minio"
	"github.com/programmerrush/InsightDB-api/internal/logger"
	"github.com/programmerrush/InsightDB-api/internal/query"
	"github.com/programmerrush/InsightDB-api/internal/schemactx"
	"github.com/programmerrush/InsightDB-api/internal/secret"
	"github.com/programmerrush/InsightDB-api/internal/server"
	"github.com/programmerrush/InsightDB-api/internal/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(&cfg.Log)

	key, err := cfg.Encryption.Load()
	if err != nil {
		return err
	}
	cipher, err := secret.NewCipher(key)
	if err != nil {
		return err
	}

	st, err := sqlite.Open(cfg.Store.Path, cipher, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.WarnWith("failed to close store", err, nil)
		}
	}()

	gw := database.NewGateway(cfg.Database, log, postgres.New(), mysql.New())
	conns := connection.NewService(gw, st, st, log)

	files, err := openFiles(ctx, &cfg.Export, log)
	if err != nil {
		return err
	}
	if files != nil {
		defer files.Close()
	}

	queries := query.New(query.Config{
		Gateway:     gw,
		Credentials: st,
		History:     st,
		Audit:       st,
		Files:       files,
		Bucket:      cfg.Export.Bucket,
		PresignTTL:  cfg.Export.PresignTTL,
		Logger:      log,
	})

	var client ai.Client = ai.Unconfigured{}
	if cfg.ChatEnabled() {
		c, err := openai.New(cfg.AI.Config, log)
		if err != nil {
			return err
		}
		client = c
	} else {
		log.Warn("no model API key configured, chat answers come from the fallback responder")
	}

	chat := ai.New(ai.Deps{
		Client:       client,
		Credentials:  st,
		Schema:       schemactx.NewBuilder(gw, cfg.Schema, log),
		Runner:       queries,
		Conversation: st,
		Logger:       log,
	}, cfg.AI.Chat)

	api := server.New(server.Deps{
		Connections: conns,
		Gateway:     gw,
		Queries:     queries,
		Chat:        chat,
		Store:       st,
		Logger:      log,
	}, server.Config{CORSOrigins: cfg.Server.CORSOrigins})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoWith("insightdb listening", map[string]interface{}{
			"addr":    cfg.Server.Addr,
			"version": Version,
			"chat":    cfg.ChatEnabled(),
			"exports": files != nil,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	pterm.Success.Println("InsightDB stopped")
	return nil
}

// openFiles connects the export store, or returns nil when exports are not
// configured.
func openFiles(ctx context.Context, cfg *filestore.Config, log *logger.Logger) (filestore.Store, error) {
	if !cfg.Enabled() {
		log.Info("no object storage endpoint configured, exports are disabled")
		return nil, nil
	}
	drv, err := minio.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := drv.EnsureBucket(ctx, cfg.Bucket); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return drv, nil
}
