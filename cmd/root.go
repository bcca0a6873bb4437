// Package cmd implements the atelier CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Atelier - streaming agent chat server",
	Long: `Atelier serves a tool-calling chat agent over HTTP. Agent turns stream
to the client as Server-Sent Events while every turn is durably recorded,
including generated image artifacts.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.atelier/config.yaml)")
}
