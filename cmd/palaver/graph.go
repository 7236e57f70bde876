package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/palaverhq/palaver/internal/presentation/graph"
	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/guard"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <flow-file>",
	Short: "Export the flow graph visualization",
	Long:  `Compiles a flow file and outputs a Mermaid diagram (graph TD) representing its logic.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := flow.ParseFile(args[0])
		if err != nil {
			fmt.Printf("Error parsing flow: %v\n", err)
			os.Exit(1)
		}

		cf, _, err := compiler.Compile(f, guard.NewRegistry())
		if err != nil {
			fmt.Printf("Error compiling flow: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(graph.GenerateMermaid(cf, nil))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
