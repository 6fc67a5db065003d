package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/xmpp-s2s/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "xmpp-s2s",
		Short:        "XMPP server-to-server federation policy",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			levelName, err := cmd.Flags().GetString("log-level")
			if err != nil {
				return err
			}
			level, err := logrus.ParseLevel(levelName)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newCheckCmd(), newRunCmd())
	return rootCmd
}
