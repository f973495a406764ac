package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kilianp07/orderdispatch/app"
	"github.com/kilianp07/orderdispatch/config"
	"github.com/kilianp07/orderdispatch/infra/logger"
)

var (
	cfgPath string
	envPath string
)

var rootCmd = &cobra.Command{
	Use:               "orderdispatch",
	Short:             "Order dispatch service",
	PersistentPreRunE: loadEnv,
	SilenceUsage:      true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dispatch API and event bridge",
	RunE:  serve,
}

func init() {
	// Assigned here rather than in the literal to break the rootCmd
	// initialization cycle (serve -> loadConfig -> cmdFlagChanged -> rootCmd).
	rootCmd.RunE = serve
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file (empty for environment only)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadEnv loads the dotenv file when present. Variables already set in the
// environment win.
func loadEnv(cmd *cobra.Command, args []string) error {
	if envPath == "" {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envPath, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !cmdFlagChanged("config") {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func cmdFlagChanged(name string) bool {
	f := rootCmd.PersistentFlags().Lookup(name)
	return f != nil && f.Changed
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
