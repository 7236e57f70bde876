package main

import (
	"fmt"
	"strings"

	"github.com/palaverhq/palaver"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of palaver",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("palaver version %s\n", strings.TrimSpace(palaver.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
