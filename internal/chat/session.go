// Package chat implements the customer chat session: it keeps a local,
// duplicate-free view of one conversation in sync with the storefront by
// merging realtime pushes, streamed AI answers and history reloads.
package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/starshop/starchat/internal/client"
	"github.com/starshop/starchat/internal/metrics"
	"github.com/starshop/starchat/internal/models"
	"github.com/starshop/starchat/internal/realtime"
)

// User-visible texts of synthetic system messages.
const (
	MsgSendRejected = "Không thể gửi tin nhắn. Vui lòng thử lại."
	MsgSendFailed   = "Có lỗi xảy ra. Vui lòng thử lại."
	MsgStreamFailed = "Có lỗi xảy ra khi tạo phản hồi. Vui lòng thử lại."
)

// DefaultAIName labels streamed answers and the AI typing indicator.
const DefaultAIName = "Hoa AI"

// HistoryPageSize is how many recent messages a reload fetches.
const HistoryPageSize = 100

// API is the subset of the storefront REST client the session uses.
type API interface {
	ActiveConversation(ctx context.Context) (*models.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, size int) ([]models.Message, error)
	Send(ctx context.Context, conversationID, content string) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	OpenStream(ctx context.Context, conversationID string) (*client.Stream, error)
}

// Timings holds the session's delays. Tests shrink them.
type Timings struct {
	Reconnect       time.Duration
	Failsafe        time.Duration
	SubscribeReload time.Duration
	StreamTimeout   time.Duration
	StreamFallback  time.Duration
	TypingInterval  time.Duration
}

// DefaultTimings returns the production delays.
func DefaultTimings() Timings {
	return Timings{
		Reconnect:       5 * time.Second,
		Failsafe:        2500 * time.Millisecond,
		SubscribeReload: 1500 * time.Millisecond,
		StreamTimeout:   30 * time.Second,
		StreamFallback:  time.Second,
		TypingInterval:  2 * time.Second,
	}
}

// ConnectionStatus is the state of the realtime channel shown to the user.
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusOnline     ConnectionStatus = "online"
	StatusOffline    ConnectionStatus = "offline"
)

// Typing describes the typing indicator rendered after the last entry.
type Typing struct {
	Visible bool
	Name    string
	AI      bool
}

// Snapshot is an immutable copy of the session state handed to observers.
type Snapshot struct {
	Version        uint64
	Entries        []Entry
	Typing         Typing
	Status         ConnectionStatus
	ConversationID string
	Open           bool
	Unread         int
	// ScrollSeq increases every time the view should jump to the newest entry.
	ScrollSeq uint64
}

// Observer receives a snapshot after every state change. Snapshots may be
// delivered from several goroutines; Version orders them.
type Observer func(Snapshot)

// Options configures a Session.
type Options struct {
	User models.User
	// Conversation is the active conversation if already known. When nil the
	// session looks it up on Start.
	Conversation *models.Conversation
	Streaming    bool
	AIName       string
	Timings      Timings
	Logger       *slog.Logger
	Metrics      *metrics.Collector
	// OnIncoming fires for messages from others that arrive while the
	// window is closed.
	OnIncoming func(models.Message)
	Now        func() time.Time
}

// Session owns the local view of one conversation.
type Session struct {
	api        API
	transport  realtime.Transport
	user       models.User
	aiName     string
	streaming  bool
	timings    Timings
	logger     *slog.Logger
	metrics    *metrics.Collector
	onIncoming func(models.Message)
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	started   bool
	version   uint64
	observers []Observer
	incoming  []models.Message

	log            *messageLog
	typing         Typing
	status         ConnectionStatus
	conversationID string
	convStatus     models.ConversationStatus
	open           bool
	unread         int
	scrollSeq      uint64

	conn         realtime.Conn
	baseSubs     []realtime.Subscription
	convSubs     []realtime.Subscription
	subscribedID string
	subGen       uint64

	reloading     bool
	failsafe      *time.Timer
	timers        map[*time.Timer]struct{}
	streamCancel  context.CancelFunc
	streamSeq     uint64
	typingLimiter *rate.Limiter
}

// New creates a session. Nothing touches the network until Start.
func New(api API, transport realtime.Transport, opts Options) *Session {
	timings := opts.Timings
	defaults := DefaultTimings()
	if timings.Reconnect <= 0 {
		timings.Reconnect = defaults.Reconnect
	}
	if timings.Failsafe <= 0 {
		timings.Failsafe = defaults.Failsafe
	}
	if timings.SubscribeReload <= 0 {
		timings.SubscribeReload = defaults.SubscribeReload
	}
	if timings.StreamTimeout <= 0 {
		timings.StreamTimeout = defaults.StreamTimeout
	}
	if timings.StreamFallback <= 0 {
		timings.StreamFallback = defaults.StreamFallback
	}
	if timings.TypingInterval <= 0 {
		timings.TypingInterval = defaults.TypingInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	aiName := opts.AIName
	if aiName == "" {
		aiName = DefaultAIName
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:           api,
		transport:     transport,
		user:          opts.User,
		aiName:        aiName,
		streaming:     opts.Streaming,
		timings:       timings,
		logger:        logger.With("component", "chat"),
		metrics:       opts.Metrics,
		onIncoming:    opts.OnIncoming,
		now:           now,
		ctx:           ctx,
		cancel:        cancel,
		log:           newMessageLog(),
		status:        StatusConnecting,
		timers:        make(map[*time.Timer]struct{}),
		typingLimiter: rate.NewLimiter(rate.Every(timings.TypingInterval), 1),
	}
	if c := opts.Conversation; c != nil {
		s.conversationID = c.ID
		s.convStatus = c.Status
	}
	return s
}

// Observe registers an observer and immediately hands it the current state.
func (s *Session) Observe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	o(snap)
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Version:        s.version,
		Entries:        s.log.Entries(),
		Typing:         s.typing,
		Status:         s.status,
		ConversationID: s.conversationID,
		Open:           s.open,
		Unread:         s.unread,
		ScrollSeq:      s.scrollSeq,
	}
}

// Start connects the realtime channel and loads the active conversation.
func (s *Session) Start() {
	s.update(func() bool {
		if s.started {
			return false
		}
		s.started = true
		s.spawnLocked(s.connect)
		s.spawnLocked(s.loadConversation)
		return false
	})
}

// Close stops timers, cancels in-flight work and drops the connection. It
// waits for the session's goroutines to finish.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	clear(s.timers)
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

// update runs fn under the session lock and, when fn reports a visible
// change, notifies observers outside the lock. It reports false if the
// session is closed and fn did not run.
func (s *Session) update(fn func() bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	var (
		snap     Snapshot
		obs      []Observer
		incoming []models.Message
	)
	if fn() {
		s.version++
		snap = s.snapshotLocked()
		obs = slices.Clone(s.observers)
	}
	incoming, s.incoming = s.incoming, nil
	s.mu.Unlock()

	for _, o := range obs {
		o(snap)
	}
	if s.onIncoming != nil {
		for _, m := range incoming {
			s.onIncoming(m)
		}
	}
	return true
}

// spawnLocked runs fn on a tracked goroutine. Caller must hold mu and the
// session must not be closed.
func (s *Session) spawnLocked(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// afterLocked schedules fn on a tracked timer that Close stops. Caller must
// hold mu.
func (s *Session) afterLocked(d time.Duration, fn func()) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		fn()
	})
	s.timers[t] = struct{}{}
	return t
}

func (s *Session) stopTimerLocked(t *time.Timer) {
	if t == nil {
		return
	}
	t.Stop()
	delete(s.timers, t)
}

func (s *Session) isOwn(m models.Message) bool {
	return s.user.ID != "" && m.SenderID == s.user.ID
}

// ConversationID returns the current conversation, empty until established.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// loadConversation finds the active conversation when none was given, then
// loads its history and subscribes to it.
func (s *Session) loadConversation() {
	s.mu.Lock()
	id := s.conversationID
	s.mu.Unlock()

	if id == "" {
		conv, err := s.api.ActiveConversation(s.ctx)
		if err != nil {
			s.logger.Warn("load conversation failed", "error", err)
			return
		}
		if conv == nil {
			s.logger.Info("no active conversation, one will be created by the first message")
			return
		}
		id = conv.ID
		s.update(func() bool {
			if s.conversationID != "" {
				id = s.conversationID
				return false
			}
			s.conversationID = conv.ID
			s.convStatus = conv.Status
			return true
		})
		s.logger.Info("loaded existing conversation", "conversation_id", id, "status", conv.Status)
	}

	s.Reload()
	s.syncSubscription()
}
