package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gantrymon/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify directories and remote services are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			failed := preflight.Failed(results)
			if jsonOut {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderChecks(results, shouldColorize(out)))
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderChecks(results []preflight.Result, colorize bool) string {
	var b strings.Builder
	for _, r := range results {
		kind := statusOK
		if !r.Passed {
			kind = statusError
		}
		b.WriteString(renderStatusLine(r.Name, kind, r.Detail, colorize))
		b.WriteByte('\n')
	}
	return b.String()
}
