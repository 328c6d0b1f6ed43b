package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate JOB.yaml",
		Short: "Check a job without running it",
		Long: `validate parses the job file, allocates its buffers and pipelines on the
configured backend and validates the start request against them. Nothing
is submitted to the GPU.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer s.close()

			req := &s.built.Request
			if err := s.engine.Validate(req); err != nil {
				return err
			}
			passes := 0
			for _, g := range req.Groups {
				passes += len(g.Passes)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d buffers, %d pipelines, %d groups, %d passes)\n",
				args[0], req.Buffers.Len(), len(s.built.Pipelines), len(req.Groups), passes)
			return nil
		},
	}
}
