package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/starshop/starchat/internal/chat"
	"github.com/starshop/starchat/internal/models"
)

// linePrinter writes each new log entry once, as plain text. The customer's
// own messages are not echoed back since they were just typed. A streaming
// answer is printed when it stops being the newest entry or on Flush.
type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time

	version uint64
	printed map[string]bool
	typed   map[string]int
	status  chat.ConnectionStatus
	typing  chat.Typing
	last    chat.Snapshot
}

func newLinePrinter(out io.Writer) *linePrinter {
	return &linePrinter{
		out:     out,
		now:     time.Now,
		printed: make(map[string]bool),
		typed:   make(map[string]int),
	}
}

// Observe is a chat.Observer.
func (p *linePrinter) Observe(snap chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.Version < p.version {
		return
	}
	p.version = snap.Version
	p.last = snap

	if snap.Status != p.status {
		if p.status != "" || snap.Status != chat.StatusConnecting {
			fmt.Fprintf(p.out, "* %s\n", snap.Status)
		}
		p.status = snap.Status
	}

	for i, e := range snap.Entries {
		id := e.Message.ID
		if p.printed[id] {
			continue
		}
		if models.IsStreamingID(id) && i == len(snap.Entries)-1 {
			continue
		}
		p.printEntryLocked(e)
	}

	if snap.Typing.Visible && snap.Typing != p.typing {
		fmt.Fprintf(p.out, "  ... %s is typing\n", snap.Typing.Name)
	}
	p.typing = snap.Typing
}

func (p *linePrinter) printEntryLocked(e chat.Entry) {
	id := e.Message.ID
	p.printed[id] = true

	if e.Own {
		if models.IsProvisionalID(id) {
			p.typed[e.HTML]++
			return
		}
		if p.typed[e.HTML] > 0 {
			p.typed[e.HTML]--
			return
		}
	}
	fmt.Fprintln(p.out, plainLine(e.Message, e.Own, p.now()))
}

// Flush prints a trailing streamed answer that never got its final message.
func (p *linePrinter) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.last.Entries {
		if !p.printed[e.Message.ID] {
			p.printEntryLocked(e)
		}
	}
}

// runLineChat reads messages from in until EOF, /quit or ctx ends.
func runLineChat(ctx context.Context, s *chat.Session, userName string, in io.Reader, out io.Writer) error {
	printer := newLinePrinter(out)
	s.Observe(printer.Observe)
	defer printer.Flush()

	fmt.Fprintf(out, "Signed in as %s. Type a message, /reload or /quit.\n", userName)

	// Reading stdin cannot be interrupted; the goroutine ends with the
	// process when ctx is cancelled first.
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			switch strings.TrimSpace(line) {
			case "/quit", "/exit":
				return nil
			case "/reload":
				go s.Reload()
			default:
				s.Send(line)
			}
		}
	}
}
