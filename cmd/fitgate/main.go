package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "fitgate",
	Short: "Fitness and mental-health assistant gateway",
	Long: `fitgate answers fitness, nutrition, health and mental-health questions.

Queries outside those domains are declined. Admitted queries are routed to the
first available reasoning provider (fine-tuned models first), with each user's
recent conversation as context.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(askCmd, historyCmd, providersCmd, finetuneCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
