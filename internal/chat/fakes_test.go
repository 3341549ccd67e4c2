package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starshop/starchat/internal/client"
	"github.com/starshop/starchat/internal/models"
	"github.com/starshop/starchat/internal/realtime"
)

// =============================================================================
// REALTIME
// =============================================================================

type fakeTransport struct {
	mu    sync.Mutex
	fail  int
	dials int
	conns []*fakeConn

	// onSubscribe runs at the start of every Subscribe on dialed conns.
	onSubscribe func(destination string)
}

func (t *fakeTransport) Dial(ctx context.Context) (realtime.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.fail > 0 {
		t.fail--
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{done: make(chan struct{}), onSubscribe: t.onSubscribe}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// latest returns the most recent connection, or nil.
func (t *fakeTransport) latest() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type sentFrame struct {
	destination string
	body        string
}

type fakeConn struct {
	mu     sync.Mutex
	subs   []*fakeSub
	sent   []sentFrame
	done   chan struct{}
	once   sync.Once
	closed bool

	onSubscribe func(destination string)
}

type fakeSub struct {
	conn        *fakeConn
	destination string
	handler     realtime.Handler
	active      bool
}

func (s *fakeSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	s.active = false
	return nil
}

func (c *fakeConn) Subscribe(destination string, h realtime.Handler) (realtime.Subscription, error) {
	if c.onSubscribe != nil {
		c.onSubscribe(destination)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, realtime.ErrNotConnected
	}
	sub := &fakeSub{conn: c, destination: destination, handler: h, active: true}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *fakeConn) Send(destination string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrNotConnected
	}
	c.sent = append(c.sent, sentFrame{destination, string(body)})
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	select {
	case <-c.done:
		return errors.New("connection reset")
	default:
		return nil
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() { c.Close() }

// active counts live subscriptions to destination.
func (c *fakeConn) active(destination string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.subs {
		if s.active && s.destination == destination {
			n++
		}
	}
	return n
}

// subscribeCount counts every subscription ever made to destination.
func (c *fakeConn) subscribeCount(destination string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.subs {
		if s.destination == destination {
			n++
		}
	}
	return n
}

// publish delivers body to the live subscriptions of destination.
func (c *fakeConn) publish(destination, body string) int {
	return c.deliver(destination, body, false)
}

// deliverStale also hands body to subscriptions already cancelled, as a
// frame in flight during an unsubscribe would be.
func (c *fakeConn) deliverStale(destination, body string) int {
	return c.deliver(destination, body, true)
}

func (c *fakeConn) deliver(destination, body string, includeInactive bool) int {
	c.mu.Lock()
	var handlers []realtime.Handler
	for _, s := range c.subs {
		if s.destination == destination && (s.active || includeInactive) {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h([]byte(body))
	}
	return len(handlers)
}

func (c *fakeConn) sentFrames() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentFrame(nil), c.sent...)
}

// =============================================================================
// REST
// =============================================================================

type sendCall struct {
	conversationID string
	content        string
}

type fakeAPI struct {
	mu sync.Mutex

	active      *models.Conversation
	activeHits  int
	history     map[string][]models.Message
	historyErr  error
	historyGate chan struct{}
	historyHits int

	sendFn func(call sendCall) (*models.Message, error)
	sends  []sendCall

	marked []string

	openErr error
	streams chan *io.PipeWriter
	opened  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history: make(map[string][]models.Message),
		streams: make(chan *io.PipeWriter, 8),
	}
}

func (f *fakeAPI) ActiveConversation(ctx context.Context) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeHits++
	return f.active, nil
}

func (f *fakeAPI) Messages(ctx context.Context, conversationID string, page, size int) ([]models.Message, error) {
	f.mu.Lock()
	f.historyHits++
	gate := f.historyGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]models.Message(nil), f.history[conversationID]...), nil
}

func (f *fakeAPI) setHistory(conversationID string, msgs ...models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[conversationID] = msgs
}

func (f *fakeAPI) lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeHits
}

func (f *fakeAPI) streamsOpened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeAPI) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyHits
}

func (f *fakeAPI) Send(ctx context.Context, conversationID, content string) (*models.Message, error) {
	f.mu.Lock()
	call := sendCall{conversationID, content}
	f.sends = append(f.sends, call)
	fn := f.sendFn
	n := len(f.sends)
	f.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	convID := conversationID
	if convID == "" {
		convID = "42"
	}
	return &models.Message{
		ID:             fmt.Sprint(1000 + n),
		ConversationID: convID,
		SenderID:       "7",
		Content:        content,
	}, nil
}

func (f *fakeAPI) sendCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func (f *fakeAPI) MarkRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, conversationID)
	return nil
}

func (f *fakeAPI) markedRead() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marked...)
}

func (f *fakeAPI) OpenStream(ctx context.Context, conversationID string) (*client.Stream, error) {
	f.mu.Lock()
	f.opened++
	err := f.openErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	f.streams <- pw
	return client.NewStream(pr), nil
}

// nextStream waits for the session to open a stream.
func (f *fakeAPI) nextStream(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case pw := <-f.streams:
		return pw
	case <-time.After(2 * time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

// emit writes one SSE event to the stream.
func emit(t *testing.T, pw *io.PipeWriter, payload string) {
	t.Helper()
	_, err := fmt.Fprintf(pw, "data: %s\n\n", payload)
	require.NoError(t, err)
}

// =============================================================================
// HELPERS
// =============================================================================

var customer = models.User{ID: "7", FirstName: "Lan", LastName: "Nguyen"}

// fastTimings keeps every background delay out of the way unless a test
// shortens it.
func fastTimings() Timings {
	return Timings{
		Reconnect:       10 * time.Millisecond,
		Failsafe:        time.Hour,
		SubscribeReload: time.Hour,
		StreamTimeout:   5 * time.Second,
		StreamFallback:  10 * time.Millisecond,
		TypingInterval:  time.Hour,
	}
}

func newTestSession(t *testing.T, api API, transport realtime.Transport, opts Options) *Session {
	t.Helper()
	if opts.User.ID == "" {
		opts.User = customer
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = fastTimings()
	}
	if transport == nil {
		transport = &fakeTransport{}
	}
	s := New(api, transport, opts)
	t.Cleanup(func() { s.Close() })
	return s
}

// startOnline starts s and waits until the realtime channel is up and the
// initial conversation lookup has settled.
func startOnline(t *testing.T, s *Session, api *fakeAPI, tr *fakeTransport) *fakeConn {
	t.Helper()
	s.Start()
	eventually(t, func() bool {
		return tr.latest() != nil && s.Snapshot().Status == StatusOnline
	}, "session never came online")

	conn := tr.latest()
	if id := s.ConversationID(); id != "" {
		eventually(t, func() bool {
			return conn.active(realtime.ConversationTopic(id)) == 1 && api.hits() >= 1
		}, "conversation never subscribed")
	} else {
		eventually(t, func() bool { return api.lookups() >= 1 })
	}
	return conn
}

// waitStreamClosed blocks until the session stops reading pw.
func waitStreamClosed(t *testing.T, pw *io.PipeWriter) {
	t.Helper()
	eventually(t, func() bool {
		_, err := pw.Write([]byte(":\n"))
		return err != nil
	}, "stream still open")
}

func conv(id string, status models.ConversationStatus) *models.Conversation {
	return &models.Conversation{ID: id, Status: status}
}

func msg(id, sender, content string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: sender, Content: content, SentAt: at}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.ID)
	}
	return out
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}
