package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/liteboard/liteboard/internal/server"
	"github.com/liteboard/liteboard/internal/store"
	"github.com/liteboard/liteboard/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long: `Start the sync server.

Serves:
  POST /api/sync/pull?spaceID=...  incremental pull
  POST /api/sync/push?spaceID=...  mutation push
  GET  /ws?spaceID=...             poke websocket
  GET  /health                     health check`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := buildLogger()

		db, err := store.Open(viper.GetString("db.path"))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		reconciler := sync.NewReconciler(db, &sync.Config{
			TemplateSpace: viper.GetString("seed.templateSpace"),
			PageLimit:     viper.GetInt("pull.pageLimit"),
			Logger:        logger,
		})
		pusher := sync.NewPusher(db, logger)

		srv := server.NewServer(reconciler, pusher, &server.Config{
			Port:   viper.GetInt("port"),
			Logger: logger,
		})

		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		logger.Printf("Serving on %s (db: %s)", srv.Addr(), viper.GetString("db.path"))

		stopCh := make(chan os.Signal, 1)
		signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
		<-stopCh

		if err := srv.Stop(); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	serveCmd.Flags().String("log-file", "", "log to a rotated file instead of stderr")
	_ = viper.BindPFlag("log.file", serveCmd.Flags().Lookup("log-file"))
}

// buildLogger returns a stderr logger, or a size-rotated file logger when
// log.file is configured.
func buildLogger() *log.Logger {
	logFile := viper.GetString("log.file")
	if logFile == "" {
		return log.New(os.Stderr, "[liteboard] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}, "[liteboard] ", log.LstdFlags)
}
