package cli

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/starshop/starchat/internal/markdown"
	"github.com/starshop/starchat/internal/models"
)

var (
	exportConversation string
	exportSize         int
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export a conversation as an HTML transcript",
	Long: `Export a support conversation to a standalone HTML file.

Message text is formatted exactly like the storefront chat widget renders it.
Use "-" to write to stdout.

Examples:
  starchat export transcript.html
  starchat export --conversation 42 -`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportConversation, "conversation", "c", "", "conversation id (default: the active one)")
	exportCmd.Flags().IntVar(&exportSize, "size", 500, "maximum number of messages")
}

// transcript is the data handed to transcriptTemplate.
type transcript struct {
	ConversationID string
	Customer       string
	ExportedAt     time.Time
	Messages       []transcriptMessage
}

type transcriptMessage struct {
	Sender string
	SentAt time.Time
	Own    bool
	AI     bool
	System bool
	Body   template.HTML
}

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="vi">
<head>
<meta charset="utf-8">
<title>StarShop Support #{{.ConversationID}}</title>
<style>
body { font-family: sans-serif; max-width: 760px; margin: 2em auto; color: #222; }
.msg { margin: .8em 0; padding: .6em .9em; border-radius: 10px; background: #f1f1f4; }
.own { background: #d9f7e8; margin-left: 20%; }
.ai { background: #efe6ff; }
.system { background: #ffe3e8; }
.meta { font-size: .8em; color: #666; margin-bottom: .3em; }
pre { background: #272822; color: #f8f8f2; padding: .6em; overflow-x: auto; }
img { max-width: 100%; }
</style>
</head>
<body>
<h1>StarShop Support #{{.ConversationID}}</h1>
<p class="meta">{{.Customer}} · exported {{.ExportedAt.Format "02/01/2006 15:04"}}</p>
{{range .Messages}}<div class="msg{{if .Own}} own{{end}}{{if .AI}} ai{{end}}{{if .System}} system{{end}}">
<div class="meta">{{.Sender}} · {{.SentAt.Format "02/01/2006 15:04"}}</div>
<div class="body">{{.Body}}</div>
</div>
{{else}}<p>No messages.</p>
{{end}}</body>
</html>
`))

// newTranscript builds the export data. Bodies are produced by the chat
// formatter, which escapes the raw text before adding markup.
func newTranscript(convID string, user models.User, msgs []models.Message, now time.Time) transcript {
	t := transcript{
		ConversationID: convID,
		Customer:       user.DisplayName(),
		ExportedAt:     now,
		Messages:       make([]transcriptMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		own := m.SenderID == user.ID
		t.Messages = append(t.Messages, transcriptMessage{
			Sender: senderLabel(m, own),
			SentAt: m.SentAt.Local(),
			Own:    own,
			AI:     m.IsAIGenerated || m.SenderID == models.SenderAI,
			System: m.SenderID == models.SenderSystem,
			Body:   template.HTML(markdown.Format(m.Content)),
		})
	}
	return t
}

func writeTranscript(w io.Writer, t transcript) error {
	if err := transcriptTemplate.Execute(w, t); err != nil {
		return fmt.Errorf("render transcript: %w", err)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := args[0]

	user, msgs, err := fetchHistory(ctx, exportConversation, 0, exportSize)
	if err != nil {
		return err
	}
	convID := exportConversation
	if convID == "" && len(msgs) > 0 {
		convID = msgs[0].ConversationID
	}
	t := newTranscript(convID, *user, msgs, time.Now())

	if path == "-" {
		return writeTranscript(os.Stdout, t)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := writeTranscript(f, t); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}

	fmt.Printf("Exported %d messages to %s\n", len(t.Messages), path)
	return nil
}
