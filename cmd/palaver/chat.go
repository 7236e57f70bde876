package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/palaverhq/palaver"
	"github.com/palaverhq/palaver/internal/presentation/tui"
	"github.com/palaverhq/palaver/pkg/adapters/memory"
	"github.com/palaverhq/palaver/pkg/adapters/ollama"
	"github.com/palaverhq/palaver/pkg/flow"
)

var chatCmd = &cobra.Command{
	Use:   "chat <flow-file>",
	Short: "Run a flow interactively in the terminal",
	Long: `Loads a flow file and drives a conversation against it on stdin/stdout.

Plain input is treated as an answer to the current question. Commands:

  /skip            skip the current question
  /unknown         signal you don't know the answer
  /correct <hint>  correct the conversation path
  /revisit <k>=<v> overwrite an earlier answer
  /handoff         request a human
  /done            confirm completion
  /quit            exit`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ollamaURL, _ := cmd.Flags().GetString("ollama-url")
		model, _ := cmd.Flags().GetString("model")
		if err := runChat(args[0], ollamaURL, model); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("ollama-url", "", "Ollama base URL for LLM-assisted decisions (e.g. http://localhost:11434)")
	chatCmd.Flags().String("model", "llama3.1", "Ollama model name")
}

func runChat(path, ollamaURL, model string) error {
	f, err := flow.ParseFile(path)
	if err != nil {
		return err
	}

	repo := memory.NewRepository()
	repo.Put(f)

	opts := []palaver.Option{}
	if ollamaURL != "" {
		opts = append(opts, palaver.WithLLM(ollama.New(ollamaURL, model)))
	}
	eng, err := palaver.New(repo, opts...)
	if err != nil {
		return err
	}

	tui.PrintBanner()
	render := tui.NewRenderer()
	ctx := context.Background()
	sessionID := "chat"

	out, err := eng.Start(ctx, sessionID, f.ID)
	if err != nil {
		return err
	}
	printOutput(render, out)

	reader := bufio.NewReader(os.Stdin)
	for {
		if out.Completed || out.Handoff {
			return nil
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		ev, quit := eventFromLine(line)
		if quit {
			fmt.Println("Bye!")
			return nil
		}

		out, err = eng.Turn(ctx, sessionID, f.ID, ev)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		printOutput(render, out)
	}
}

// eventFromLine maps a chat line onto an engine event. The second
// return is true for /quit.
func eventFromLine(line string) (palaver.Event, bool) {
	if !strings.HasPrefix(line, "/") {
		return palaver.Answer{Value: line}, false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return nil, true
	case "/skip":
		return palaver.SkipQuestion{}, false
	case "/unknown":
		return palaver.UnknownAnswer{}, false
	case "/correct":
		return palaver.PathCorrection{Hint: rest}, false
	case "/revisit":
		if key, value, ok := strings.Cut(rest, "="); ok {
			return palaver.RevisitQuestion{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)}, false
		}
		return palaver.RevisitQuestion{Target: rest}, false
	case "/handoff":
		return palaver.RequestHumanHandoff{Reason: rest}, false
	case "/done":
		return palaver.ConfirmCompletion{}, false
	default:
		// Unknown command: treat the whole line as an answer.
		return palaver.Answer{Value: line}, false
	}
}

func printOutput(render func(string) (string, error), out *palaver.Output) {
	if out.ValidationMessage != "" {
		fmt.Printf("  (%s)\n", out.ValidationMessage)
	}
	if out.Prompt != "" {
		if md, err := render(out.Prompt); err == nil {
			fmt.Print(md)
		} else {
			fmt.Println(out.Prompt)
		}
	}
	for i, choice := range out.Choices {
		fmt.Printf("  %d. %s\n", i+1, choice)
	}
	if out.Handoff {
		fmt.Println("Escalated to a human operator.")
	}
	if out.Completed {
		status := "incomplete"
		if out.Success {
			status = "success"
		}
		fmt.Printf("Conversation complete (%s): %s\n", status, out.Reason)
		if out.NextFlow != "" {
			fmt.Printf("Next flow: %s\n", out.NextFlow)
		}
	}
}
