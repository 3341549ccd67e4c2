package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/starshop/starchat/internal/markdown"
)

var conversationsActive bool

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List your support conversations",
	Long: `List your support conversations with their status.

Examples:
  starchat conversations
  starchat conversations --active`,
	Args: cobra.NoArgs,
	RunE: runConversations,
}

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsActive, "active", false, "only OPEN and ASSIGNED conversations")
}

func runConversations(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	convs, err := api.MyConversations(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	shown := 0
	for _, c := range convs {
		if conversationsActive && !c.Status.Active() {
			continue
		}
		if shown == 0 {
			fmt.Printf("%-8s %-9s %-12s %-6s %s\n", "ID", "STATUS", "LAST", "UNREAD", "PREVIEW")
		}
		shown++

		preview := oneLine(markdown.PlainText(c.LastMessageContent))
		if r := []rune(preview); len(r) > 50 {
			preview = string(r[:47]) + "..."
		}
		if c.AssignedStaffName != "" {
			preview = strings.TrimSpace(fmt.Sprintf("[%s] %s", c.AssignedStaffName, preview))
		}
		fmt.Printf("%-8s %-9s %-12s %-6d %s\n", c.ID, c.Status, clock(c.LastMessageAt, now), c.UnreadCount, preview)
	}

	if shown == 0 {
		fmt.Println("No conversations found.")
	}
	return nil
}
