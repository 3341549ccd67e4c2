package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/starshop/starchat/internal/markdown"
	"github.com/starshop/starchat/internal/metrics"
	"github.com/starshop/starchat/internal/models"
)

var (
	historyConversation string
	historyPage         int
	historySize         int
	historyHTML         bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print a conversation's messages",
	Long: `Print the messages of a support conversation, oldest first.

Message text goes through the same formatter as the chat window. With --html
the formatted HTML is printed instead of plain text.

Examples:
  starchat history
  starchat history --conversation 42 --size 100
  starchat history --html`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyConversation, "conversation", "c", "", "conversation id (default: the active one)")
	historyCmd.Flags().IntVar(&historyPage, "page", 0, "page number, 0 is the newest")
	historyCmd.Flags().IntVar(&historySize, "size", 50, "messages per page")
	historyCmd.Flags().BoolVar(&historyHTML, "html", false, "print formatted HTML")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	user, msgs, err := fetchHistory(ctx, historyConversation, historyPage, historySize)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return nil
	}

	now := time.Now()
	for _, m := range msgs {
		own := m.SenderID == user.ID
		if historyHTML {
			fmt.Printf("<!-- %s %s -->\n%s\n", m.ID, senderLabel(m, own), markdown.Format(m.Content))
			continue
		}
		fmt.Println(plainLine(m, own, now))
	}
	return nil
}

// fetchHistory loads one page of a conversation in chronological order,
// along with the current user.
func fetchHistory(ctx context.Context, convID string, page, size int) (*models.User, []models.Message, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	conv, err := resolveConversation(ctx, convID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return user, nil, nil
	}

	start := time.Now()
	msgs, err := api.Messages(ctx, conv.ID, page, size)
	if err != nil {
		collector.RecordFailure(metrics.OpReload, time.Since(start))
		return nil, nil, err
	}
	collector.RecordItems(metrics.OpReload, time.Since(start), int64(len(msgs)))

	slices.SortStableFunc(msgs, func(a, b models.Message) int {
		return a.SentAt.Compare(b.SentAt)
	})
	return user, msgs, nil
}
