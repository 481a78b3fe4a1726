package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/output"
	"github.com/helix-mlaas/mlaasctl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show mlaasctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := output.FormatTable
			if rt != nil {
				writer = rt.Writer()
				f, err := rt.OutputFormat()
				if err != nil {
					return err
				}
				format = f
			}

			if format.Structured() {
				return output.WriteObject(writer, format, info)
			}
			_, _ = fmt.Fprintf(writer, "mlaasctl %s (commit: %s, built: %s)\n", info.Version, info.GitCommit, info.BuildDate)
			return nil
		},
	}
}
