package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/AIGateway/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var appCfg config.AppConfig

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "AI gateway - picks the healthiest model instance for each request",
	Long: `The gateway tracks per-user provider credentials and their model instances,
learns from reported outcomes and ranks instances by availability.

Example:
  gateway migrate --config config.yaml
  gateway serve --config config.yaml
  gateway token --user 42`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&appCfg.ConfigPath, "config", "c", "", "config file (default is $GATEWAY_CONFIG or ./config.yaml)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("gateway exited")
		os.Exit(1)
	}
}
