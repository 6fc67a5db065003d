package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exavolt/xmpp-s2s/pkg/s2sconfig"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [domain...]",
		Short: "Load the configuration and print it",
		Long: `Load the configuration, print the effective configuration with secrets
redacted, then print the policy applied to each domain given as argument.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := s2sconfig.New(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, cfg.AsString())
			for _, name := range args {
				domain, err := cfg.Domain(name)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", name, err)
					continue
				}
				_, hasSecret := domain.AuthSecret()
				fmt.Fprintf(out, "%s: policy=%s transport=%s block=%t forward=%t require_tls=%t pkix=%t dialback=%t secret=%t\n",
					name, domain.Domain(), domain.TransportType(), domain.Block(), domain.Forward(),
					domain.RequireTLS(), domain.AuthPKIX(), domain.AuthDialback(), hasSecret)
			}
			return nil
		},
	}
}
