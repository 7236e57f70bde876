package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/guard"
)

var validateCmd = &cobra.Command{
	Use:   "validate <flow-file>",
	Short: "Check a flow definition for consistency",
	Long:  `Parses and compiles a flow file (JSON or YAML) and reports dangling edges, unknown guards, unreachable nodes, and other diagnostics.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(args[0]); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string) error {
	f, err := flow.ParseFile(path)
	if err != nil {
		return err
	}

	_, diags, err := compiler.Compile(f, guard.NewRegistry())
	for _, d := range diags {
		fmt.Println(d.String())
	}
	if err != nil {
		return err
	}

	fmt.Printf("Flow %q is valid (%d nodes, %d edges)\n", f.ID, len(f.Nodes), len(f.Edges))
	return nil
}
