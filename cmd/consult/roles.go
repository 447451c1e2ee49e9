package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/consultmesh/registry"
)

func newRolesCmd(g *globalFlags) *cobra.Command {
	var presets bool

	cmd := &cobra.Command{
		Use:   "roles",
		Short: "List the available roles",
		Long: `List the built-in roles and those loaded from deliberation.roles_file.

With --presets the recommended role panels per case type are shown instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			if presets {
				names := make([]string, 0, len(registry.Presets))
				for name := range registry.Presets {
					names = append(names, name)
				}
				sort.Strings(names)

				fmt.Fprintln(w, "CASE TYPE\tROLES")
				for _, name := range names {
					fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(registry.Presets[name], ", "))
				}

				return w.Flush()
			}

			reg, err := newRegistry(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintln(w, "ID\tNAME\tWINDOW\tEXPERTISE")
			for _, r := range reg.List() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, r.Name, r.MemoryWindow, strings.Join(r.Expertise, ", "))
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&presets, "presets", false, "show role panels per case type")

	return cmd
}
