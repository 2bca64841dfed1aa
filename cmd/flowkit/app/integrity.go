package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yukkuristudio/flowkit/pkg/integration"
)

var syncDirection string

var syncCmd = &cobra.Command{
	Use:   "sync [project-id]",
	Short: "Reconcile the metadata repository with the project filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		projectID := args[0]
		var report *integration.SyncReport
		switch syncDirection {
		case integration.DirectionMetadataToFiles:
			report, err = env.data.SyncMetadataToFiles(cmd.Context(), projectID)
		case integration.DirectionFilesToMetadata:
			report, err = env.data.SyncFilesToMetadata(cmd.Context(), projectID)
		case integration.DirectionBidirectional:
			report, err = env.data.SyncBidirectional(cmd.Context(), projectID)
		default:
			return fmt.Errorf("unknown sync direction: %s", syncDirection)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Check and repair repository/filesystem consistency",
}

var integrityCheckCmd = &cobra.Command{
	Use:   "check [project-id]",
	Short: "Report missing, orphaned and size-mismatched files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		report, err := env.data.CheckIntegrity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var integrityRepairCmd = &cobra.Command{
	Use:   "repair [project-id]",
	Short: "Auto-repair integrity findings",
	Long: `Auto-repair drops file references whose files are gone and registers
orphaned files found on disk, inferring their type and category from the
extension and folder.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		report, err := env.data.AutoRepairIntegrity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncDirection, "direction", integration.DirectionBidirectional,
		"Sync direction: metadata_to_files, files_to_metadata or bidirectional")

	integrityCmd.AddCommand(integrityCheckCmd)
	integrityCmd.AddCommand(integrityRepairCmd)
}
