package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "palaver",
	Short: "Palaver is an engine for LLM-assisted conversational flows",
	Long: `Palaver executes conversational flows: directed graphs of questions,
decisions, actions, and subflows with guarded edges. Deterministic
guards route wherever they can; an LLM is consulted only at explicitly
flexible decision points and for interpreting free-text answers.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
