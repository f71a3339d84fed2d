// Package cli implements the chatpad command tree. Commands are thin
// glue over the sdk/chatclient facade; no flow logic lives here.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/chatpad-dev/chatpad/internal/config"
	"github.com/chatpad-dev/chatpad/internal/logging"
	"github.com/chatpad-dev/chatpad/sdk/chatclient"
)

// RootCmd is the chatpad entry command.
var RootCmd = &cobra.Command{
	Use:           "chatpad",
	Short:         "Editor chat client for the hosted model provider",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	RootCmd.PersistentFlags().String("config", "", "path to the chatpad config file")
}

// bootstrap loads configuration, configures logging and builds the
// client facade used by every subcommand.
func bootstrap(cmd *cobra.Command) (*config.Config, *chatclient.Client, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logging.Configure(cfg.Logging.Level, cfg.Logging.File)
	return cfg, chatclient.New(cfg, chatclient.Options{}), nil
}
