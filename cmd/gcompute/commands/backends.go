package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/gogpu/gcompute/backend"
	"github.com/gogpu/gcompute/backend/native"
)

var backendNotes = map[string]string{
	"noop": "HAL noop device (no data movement)",
	"sim":  "in-memory simulator (no shader execution)",
}

func (a *app) backendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List available GPU backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "engine backends:")
			fmt.Fprintf(out, "  %-6s %s\n", "sim", backendNotes["sim"])
			for _, name := range backend.Available() {
				if note, ok := backendNotes[name]; ok {
					fmt.Fprintf(out, "  %-6s %s\n", name, note)
				} else {
					fmt.Fprintf(out, "  %s\n", name)
				}
			}

			registered := native.Backends()
			slices.Sort(registered)
			fmt.Fprintln(out, "registered HAL backends:")
			for _, name := range registered {
				fmt.Fprintf(out, "  %s\n", name)
			}
			fmt.Fprintf(out, "configured: %s\n", a.cfg.Backend)
			return nil
		},
	}
}
