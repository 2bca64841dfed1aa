package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yukkuristudio/flowkit/pkg/storage"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, inspect and delete projects",
}

var (
	projectTargetLength float64
	projectStatusFilter string
	deleteKeepFiles     bool
)

var projectCreateCmd = &cobra.Command{
	Use:   "create [project-id] [subject]",
	Short: "Create a project record and its directory skeleton",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		projectID, subject := args[0], args[1]
		if err := env.store.CreateProject(cmd.Context(), projectID, subject, projectTargetLength, nil, ""); err != nil {
			return err
		}
		dir, err := env.fs.CreateProjectDirectory(projectID)
		if err != nil {
			return err
		}

		cmd.Printf("Created project %s at %s\n", projectID, dir)
		return nil
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Print the project record with its workflow steps and files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		status, err := env.store.GetProjectStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, status)
	},
}

var projectFilesCmd = &cobra.Command{
	Use:   "files [project-id]",
	Short: "List the project's registered file references",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		files, err := env.store.GetFilesByQuery(cmd.Context(), args[0], storage.FileQuery{
			Category: projectStatusFilter,
		})
		if err != nil {
			return err
		}

		for _, f := range files {
			cmd.Printf("%-12s %-14s %10d  %s\n", f.FileType, f.Category, f.FileSize, f.FilePath)
		}
		cmd.Printf("%d file(s)\n", len(files))
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete [project-id]",
	Short: "Delete a project record; child records cascade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		projectID := args[0]
		if err := env.store.DeleteProject(cmd.Context(), projectID); err != nil {
			return err
		}
		if !deleteKeepFiles {
			if err := env.fs.DeleteProjectDirectory(projectID); err != nil {
				return err
			}
		}

		cmd.Printf("Deleted project %s\n", projectID)
		return nil
	},
}

var projectCleanupCmd = &cobra.Command{
	Use:   "cleanup [project-id]",
	Short: "Remove the project's temporary files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		removed, err := env.fs.CleanupTemporaryFiles(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("Removed %d temporary file(s)\n", removed)
		return nil
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	cmd.Println(string(out))
	return nil
}

func init() {
	projectCreateCmd.Flags().Float64Var(&projectTargetLength, "target-length", 5, "Target video length in minutes")
	projectFilesCmd.Flags().StringVar(&projectStatusFilter, "category", "", "Filter by file category")
	projectDeleteCmd.Flags().BoolVar(&deleteKeepFiles, "keep-files", false, "Keep the project directory on disk")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectStatusCmd)
	projectCmd.AddCommand(projectFilesCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCmd.AddCommand(projectCleanupCmd)
}
