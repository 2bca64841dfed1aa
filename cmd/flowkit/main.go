// Package main is the entry point for the flowkit CLI.
package main

import (
	"os"

	"github.com/yukkuristudio/flowkit/cmd/flowkit/app"
	"github.com/yukkuristudio/flowkit/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
