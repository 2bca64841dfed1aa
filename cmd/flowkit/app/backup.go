package app

import (
	"github.com/spf13/cobra"
)

var (
	backupBasePath       string
	restoreTargetProject string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and restore project backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [project-id] [backup-path.zip]",
	Short: "Create a full ZIP backup of a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		var path string
		if backupBasePath != "" {
			path, err = env.data.CreateIncrementalBackup(cmd.Context(), args[0], args[1], backupBasePath)
		} else {
			path, err = env.data.CreateProjectBackup(cmd.Context(), args[0], args[1])
		}
		if err != nil {
			return err
		}

		cmd.Printf("Backup written to %s\n", path)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [backup-path.zip]",
	Short: "Restore a project from a backup archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		projectID, err := env.data.RestoreProjectFromBackup(cmd.Context(), args[0], restoreTargetProject)
		if err != nil {
			return err
		}

		cmd.Printf("Restored project %s\n", projectID)
		return nil
	},
}

func init() {
	backupCreateCmd.Flags().StringVar(&backupBasePath, "base", "",
		"Base backup path; when set, only files changed since the base are included")
	backupRestoreCmd.Flags().StringVar(&restoreTargetProject, "target-project", "",
		"Restore under a different project id")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}
