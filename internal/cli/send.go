package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/starshop/starchat/internal/chat"
	"github.com/starshop/starchat/internal/metrics"
	"github.com/starshop/starchat/internal/models"
)

var (
	sendConversation string
	sendWait         bool
	sendTimeout      time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send one message",
	Long: `Send a single message to StarShop support.

Without a conversation id the active conversation is used; if there is none,
a new one is started. With --wait the command stays connected and prints the
first answer (streamed from the AI assistant when streaming is enabled).

Examples:
  starchat send "Đơn hàng #1234 của tôi đang ở đâu?"
  starchat send --wait "Shop có giao hàng ra Đà Nẵng không?"
  starchat send -c 42 "Cảm ơn!"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendConversation, "conversation", "c", "", "conversation id (default: the active one)")
	sendCmd.Flags().BoolVarP(&sendWait, "wait", "w", false, "wait for and print the first answer")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "how long --wait waits for an answer")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	content := strings.Join(args, " ")
	if strings.TrimSpace(content) == "" {
		return errors.New("message is empty")
	}

	conv, err := resolveConversation(ctx, sendConversation)
	if err != nil {
		return err
	}
	if sendWait {
		return sendAndWait(ctx, conv, content)
	}

	convID := ""
	if conv != nil {
		convID = conv.ID
	}
	start := time.Now()
	msg, err := api.Send(ctx, convID, content)
	if err != nil {
		collector.RecordFailure(metrics.OpSend, time.Since(start))
		return err
	}
	collector.RecordTiming(metrics.OpSend, time.Since(start))
	logger.Debug("message sent", "message_id", msg.ID, "conversation_id", msg.ConversationID)

	fmt.Printf("Sent message #%s to conversation #%s\n", msg.ID, msg.ConversationID)
	return nil
}

// sendAndWait sends through a live session and prints the first message
// that arrives from someone else.
func sendAndWait(ctx context.Context, conv *models.Conversation, content string) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}

	answers := make(chan models.Message, 1)
	session := chat.New(api, newDialer(), chat.Options{
		User:         *user,
		Conversation: conv,
		Streaming:    cfg.Streaming,
		AIName:       cfg.AIName,
		Logger:       logger,
		Metrics:      collector,
		OnIncoming: func(m models.Message) {
			select {
			case answers <- m:
			default:
			}
		},
	})
	defer session.Close()

	online := make(chan struct{})
	session.Observe(func(snap chat.Snapshot) {
		if snap.Status == chat.StatusOnline {
			select {
			case <-online:
			default:
				close(online)
			}
		}
	})
	session.Start()

	// Push delivery needs the subscription; send anyway if it is slow.
	select {
	case <-online:
	case <-time.After(5 * time.Second):
		logger.Warn("realtime connection not ready, sending anyway")
	case <-ctx.Done():
		return nil
	}

	session.Send(content)
	fmt.Println("Sent. Waiting for an answer...")

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	select {
	case m := <-answers:
		if m.SenderID == models.SenderSystem {
			return errors.New(oneLine(m.Content))
		}
		fmt.Println(plainLine(m, false, time.Now()))
		return nil
	case <-timer.C:
		// A streamed answer without a final message never arrives as one.
		if e, ok := lastFromOthers(session.Snapshot()); ok {
			fmt.Println(plainLine(e.Message, false, time.Now()))
			return nil
		}
		return fmt.Errorf("no answer within %s", sendTimeout)
	case <-ctx.Done():
		return nil
	}
}

// lastFromOthers returns the newest entry unless the customer wrote it.
func lastFromOthers(snap chat.Snapshot) (chat.Entry, bool) {
	n := len(snap.Entries)
	if n == 0 || snap.Entries[n-1].Own {
		return chat.Entry{}, false
	}
	return snap.Entries[n-1], true
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
