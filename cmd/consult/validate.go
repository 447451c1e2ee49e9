package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and role catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			reg, err := newRegistry(cfg)
			if err != nil {
				return err
			}

			for _, id := range cfg.Deliberation.Roles {
				if _, err := reg.Resolve(id); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid (%d roles, provider %s, model %s)\n",
				len(cfg.Deliberation.Roles), cfg.Model.Provider, cfg.Model.Name)

			return nil
		},
	}
}
