/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "homevoice",
	Short: "Voice and text command pipeline for the home assistant",
	Long: `HomeVoice accepts commands from chat channels and the HTTP API, stages
their payloads in a cache and hands them to the speech-to-text worker, which
publishes the transcript for the language understanding service.

Run "bot" and "stt" as separate processes against RabbitMQ, or "run" for a
single process with every stage.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
