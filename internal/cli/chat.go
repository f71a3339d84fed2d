package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatpad-dev/chatpad/internal/stream"
	"github.com/chatpad-dev/chatpad/sdk/chatclient"
)

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a prompt and stream the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")

		_, client, err := bootstrap(cmd)
		if err != nil {
			return err
		}

		chunks, err := client.StreamChatCompletion(cmd.Context(), chatclient.Request{
			Model:     model,
			MaxTokens: maxTokens,
			Messages: []chatclient.Message{
				{Role: "user", Content: args[0]},
			},
		})
		if err != nil {
			return err
		}

		for chunk := range chunks {
			if chunk.Err != nil {
				return chunk.Err
			}
			switch chunk.Event.Type {
			case stream.EventTypeText:
				fmt.Print(chunk.Event.Text)
			case stream.EventTypeToolCall:
				call := chunk.Event.ToolCall
				fmt.Printf("\n[tool call] %s(%s)\n", call.Name, call.RawInput)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	chatCmd.Flags().String("model", "chatpad-default", "model to use")
	chatCmd.Flags().Int("max-tokens", 1024, "maximum tokens in the reply")
	RootCmd.AddCommand(chatCmd)
}
