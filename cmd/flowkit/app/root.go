// Package app provides the entry point for the flowkit command-line application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/yukkuristudio/flowkit/pkg/config"
	"github.com/yukkuristudio/flowkit/pkg/integration"
	"github.com/yukkuristudio/flowkit/pkg/logger"
	"github.com/yukkuristudio/flowkit/pkg/projectfs"
	"github.com/yukkuristudio/flowkit/pkg/storage/sqlite"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:               "flowkit",
	DisableAutoGenTag: true,
	Short:             "flowkit manages video production projects and their workflow data",
	Long: `flowkit is the operations companion for the workflow engine: it creates and
inspects projects, reconciles the metadata repository against the project
filesystem, and produces and restores project backups.

Workflow execution itself is driven programmatically through the engine; the
CLI covers the persistence and maintenance surface around it.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the flowkit CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (FLOWKIT_* env vars override)")

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(integrityCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// environment bundles the wired persistence layers a command operates on.
type environment struct {
	cfg   *config.Config
	store *sqlite.ProjectStore
	fs    *projectfs.Manager
	data  *integration.Manager
}

func (e *environment) close() {
	if err := e.store.Close(); err != nil {
		logger.Warnf("failed to close project store: %v", err)
	}
}

// openEnvironment loads configuration and wires the store, the filesystem
// manager and the data integration layer.
func openEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	fs, err := projectfs.NewManager(cfg.BaseDirectory)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.NewProjectStore(cmd.Context(), cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:   cfg,
		store: store,
		fs:    fs,
		data:  integration.NewManager(store, fs),
	}, nil
}
