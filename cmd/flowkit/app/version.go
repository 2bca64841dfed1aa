package app

import (
	"github.com/spf13/cobra"

	"github.com/yukkuristudio/flowkit/pkg/versions"
)

// newVersionCmd creates a new version command
func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of flowkit",
		Run: func(cmd *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()

			if jsonOutput {
				if err := printJSON(cmd, info); err != nil {
					cmd.PrintErrf("Error: %v\n", err)
				}
				return
			}
			cmd.Printf("flowkit %s\n", info.Version)
			cmd.Printf("Commit: %s\n", info.Commit)
			cmd.Printf("Built: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
			cmd.Printf("Platform: %s\n", info.Platform)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")

	return cmd
}
