// Command rpcbridge runs the bridge server and calls it from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rpcbridge/config"
	"rpcbridge/logging"
)

// version is announced with every endpoint.
const version = "1.0"

var (
	configFlag string
	urlFlag    string
	codecFlag  string

	cfg    config.Config
	logger *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "rpcbridge",
		Short:         "Multiplexed RPC bridge over WebSocket and framed TCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configFlag); err != nil {
				return err
			}
			if urlFlag != "" {
				cfg.Client.URL = urlFlag
			}
			if codecFlag != "" {
				cfg.Client.Codec = codecFlag
			}
			logger, err = logging.New(cfg.Log)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "Bridge endpoint (ws://host:port/ws or tcp://host:port); skips etcd discovery")
	rootCmd.PersistentFlags().StringVar(&codecFlag, "codec", "", "Request encoding: json or binary")

	rootCmd.AddCommand(
		serveCmd(),
		callCmd(),
		streamCmd(),
		endpointsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rpcbridge:", err)
		os.Exit(1)
	}
}
