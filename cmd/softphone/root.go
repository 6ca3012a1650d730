package main

import (
	"context"

	"github.com/dkeye/Dialtone/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagAs      string
	flagToken   string
	flagRelay   string
	flagNoVideo bool
	flagVerbose bool
	flagMetrics string
)

var rootCmd = &cobra.Command{
	Use:   "softphone",
	Short: "Dialtone softphone: place and answer calls through a relay",
	Long:  `Commands: call, listen, token. Keys while running: a accept, r reject, h hang up, m mute, v video, s speaker.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			setDebug()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAs, "as", "", "user id of this endpoint")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (default: endpoint.token, or one signed with jwt_secret)")
	rootCmd.PersistentFlags().StringVar(&flagRelay, "relay", "", "relay websocket url (default: endpoint.relay_url)")
	rootCmd.PersistentFlags().BoolVar(&flagNoVideo, "no-camera", false, "pretend no camera is attached")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&flagMetrics, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(tokenCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (*config.Config, error) {
	return config.LoadEndpoint()
}
