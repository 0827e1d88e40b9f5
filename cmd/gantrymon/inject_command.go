package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gantrymon/internal/api"
)

func newInjectCommand(ctx *commandContext) *cobra.Command {
	var (
		req      api.InjectRequest
		metadata map[string]string
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "inject <path>...",
		Short: "Queue files for transfer without waiting for the scanner",
		Long: "Queue files for transfer. Relative paths are resolved against scanner.incoming_dir.\n" +
			"The dataset is derived from the path unless --dataset is given.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			md := make(map[string]any, len(metadata))
			for k, v := range metadata {
				md[k] = v
			}
			if len(args) == 1 {
				req.Path = strings.TrimSpace(args[0])
				if len(md) > 0 {
					req.Metadata = md
				}
			} else {
				req.Paths = args
				if len(md) > 0 {
					req.FileMetadata = make(map[string]map[string]any, len(args))
					for _, path := range args {
						req.FileMetadata[path] = md
					}
				}
			}

			resp, err := client.Inject(cmd.Context(), req)
			if err != nil {
				if daemonUnavailable(err) {
					return daemonNotRunning(ctx.apiBind())
				}
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d file(s) in %d dataset(s)", resp.Queued, len(resp.Datasets))
			if len(resp.Datasets) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ": %s", strings.Join(resp.Datasets, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&req.DatasetName, "dataset", "", "Dataset name (skips derivation from the path)")
	cmd.Flags().StringVar(&req.SensorName, "sensor", "", "Sensor name used when deriving the dataset")
	cmd.Flags().StringVar(&req.Timestamp, "timestamp", "", "Timestamp used when deriving the dataset")
	cmd.Flags().StringVar(&req.SpaceID, "space", "", "Downstream space id for the datasets")
	cmd.Flags().StringToStringVar(&metadata, "md", nil, "Metadata key=value attached to every file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
