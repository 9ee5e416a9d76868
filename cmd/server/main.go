package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BhavanK18/Whiteboard/internal/bootstrap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "whiteboard",
		Short: "Collaborative whiteboard session server",
		// Running without a subcommand serves.
		RunE:          func(cmd *cobra.Command, args []string) error { return serve() },
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the session store schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.LoadConfig()
			if err != nil {
				return err
			}
			bootstrap.NewLogger(cfg)
			store, err := bootstrap.OpenStore(cfg, true)
			if err != nil {
				return err
			}
			logrus.WithField("driver", store.Driver).Info("Migration finished")
			return store.Close(cmd.Context())
		},
	}
}

func serve() error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	app.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutdown signal received...")

	app.Shutdown()
	return nil
}
