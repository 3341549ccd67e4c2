package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read [conversation-id]",
	Short: "Mark a conversation as read",
	Long: `Mark every message of a conversation as read.

Without an id the active conversation is used.

Examples:
  starchat read
  starchat read 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	conv, err := resolveConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		fmt.Println("No active conversation.")
		return nil
	}

	if err := api.MarkRead(ctx, conv.ID); err != nil {
		return err
	}
	fmt.Printf("Marked conversation #%s as read\n", conv.ID)
	return nil
}
