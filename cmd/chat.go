package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/engine"
	"github.com/llmbridge/llmbridge/internal/providers"
	"github.com/llmbridge/llmbridge/internal/transport"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a prompt to a model",
	Long: `Send a single prompt and print the model's reply.

The model is addressed as "provider,model", e.g. "anthropic,claude-sonnet-4-20250514".
When --model is omitted the configured default model is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringP("model", "m", "", `model as "provider,model"`)
	chatCmd.Flags().StringP("system", "s", "", "system instruction")
	chatCmd.Flags().Float64P("temperature", "t", -1, "sampling temperature")
	chatCmd.Flags().Int("max-tokens", 0, "completion token limit")
	chatCmd.Flags().Bool("no-stream", false, "wait for the full response instead of streaming")
	chatCmd.Flags().Duration("timeout", 5*time.Minute, "overall request timeout")
}

func runChat(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = store.DefaultModel()
	}
	if model == "" {
		color.Yellow("No model given and no default configured.")
		fmt.Printf("Set one with: %s config set-default-model \"provider,model\"\n", AppName)
		return fmt.Errorf("model required")
	}

	req := &canonical.Request{
		Model: model,
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Content: args[0]},
		},
	}
	if system, _ := cmd.Flags().GetString("system"); system != "" {
		req.Messages = append([]canonical.Message{
			{Role: canonical.RoleSystem, Content: system},
		}, req.Messages...)
	}
	if temp, _ := cmd.Flags().GetFloat64("temperature"); temp >= 0 {
		req.Temperature = &temp
	}
	req.MaxTokens, _ = cmd.Flags().GetInt("max-tokens")

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	eng := newEngine()

	noStream, _ := cmd.Flags().GetBool("no-stream")
	var resp *canonical.Response
	var err error
	if noStream {
		resp, err = eng.Request(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(resp.Content)
	} else {
		// The raw vendor bytes are not printable; the decoded response is
		// printed once the stream concludes. The sink keeps a liveness dot.
		resp, err = eng.StreamRequest(ctx, req, func([]byte) {
			fmt.Fprint(os.Stderr, ".")
		})
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Println(resp.Content)
	}

	if resp.NeedsContinuation() {
		color.Yellow("The model requested %d tool call(s); tool execution is up to the caller:", len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			fmt.Printf("  %s(%s)  [%s]\n", tc.Name, tc.Arguments, tc.ID)
		}
	}
	if resp.Usage.TotalTokens > 0 {
		color.Cyan("tokens: %d prompt + %d completion = %d total",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}
	return nil
}

func newEngine() *engine.Engine {
	registry := providers.NewRegistry()
	registry.Initialize(logger)
	client := transport.NewClient(transport.Config{}, logger)
	return engine.New(registry, store, client, logger)
}
