package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/camdoctor/camdoctor/internal/agent"
	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/llm"
	"github.com/camdoctor/camdoctor/internal/remote"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List local agents and the remote agents in the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			reg := loadRegistry(cfg.Registry.Path)
			// Descriptors only; nothing is generated.
			catalog := agent.Defaults(llm.Static(""), nil)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tWHERE\tDESCRIPTION")
			for _, d := range catalog.List() {
				where := "local"
				if url, ok := reg.Resolve(d.ID); ok {
					where = url
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, where, d.Description)
			}

			client := remote.NewClient(cfg.Remote)
			for _, e := range reg.Entries() {
				if _, ok := catalog.Get(e.AgentID); ok {
					continue
				}
				name, desc := "-", ""
				if probe {
					if d, ok := client.FetchDescriptor(cmd.Context(), e.AgentID, e.BaseURL); ok {
						name, desc = d.Name, d.Description
					} else {
						desc = color.RedString("unreachable")
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.AgentID, name, e.BaseURL, desc)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Fetch the card of each remote agent")
	return cmd
}
