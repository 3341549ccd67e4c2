package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/starshop/starchat/internal/chat"
)

var (
	chatLines        bool
	chatConversation string
	chatNoStream     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the live support chat",
	Long: `Open the live support chat window.

Messages from staff and the AI assistant arrive in real time. With streaming
enabled, AI answers are shown while they are being written.

Without a terminal (or with --lines) a line-oriented mode is used instead:
type a message and press Enter; /reload refetches the history and /quit exits.

Examples:
  starchat chat
  starchat chat --conversation 42
  starchat chat --lines --no-stream`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatLines, "lines", false, "line mode instead of the full-screen window")
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "conversation id (default: the active one)")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "wait for complete AI answers instead of streaming them")
}

// lineMode reports whether chat runs without the full-screen window.
func lineMode() bool {
	return chatLines || !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd()))
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	user, err := currentUser(ctx)
	if err != nil {
		return err
	}
	conv, err := resolveConversation(ctx, chatConversation)
	if err != nil {
		return err
	}

	session := chat.New(api, newDialer(), chat.Options{
		User:         *user,
		Conversation: conv,
		Streaming:    cfg.Streaming && !chatNoStream,
		AIName:       cfg.AIName,
		Logger:       logger,
		Metrics:      collector,
	})
	defer session.Close()

	logger.Info("starting chat", "user_id", user.ID, "lines", lineMode())
	session.Start()
	session.Toggle()

	if lineMode() {
		if err := runLineChat(ctx, session, user.DisplayName(), os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("line chat: %w", err)
		}
		return nil
	}
	return runChatUI(ctx, session, user.DisplayName())
}
