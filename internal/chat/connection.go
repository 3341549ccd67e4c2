package chat

import (
	"encoding/json"
	"time"

	"github.com/starshop/starchat/internal/metrics"
	"github.com/starshop/starchat/internal/models"
	"github.com/starshop/starchat/internal/realtime"
)

// connect dials the realtime channel once. Failures and later drops
// reschedule it after the reconnect delay, forever.
func (s *Session) connect() {
	start := time.Now()
	conn, err := s.transport.Dial(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.metrics.RecordFailure(metrics.OpConnect, time.Since(start))
		s.logger.Warn("realtime connect failed", "error", err, "retry_in", s.timings.Reconnect)
		s.update(func() bool {
			s.afterLocked(s.timings.Reconnect, s.connect)
			return s.setStatusLocked(StatusOffline)
		})
		return
	}
	s.metrics.RecordTiming(metrics.OpConnect, time.Since(start))

	ran := s.update(func() bool {
		s.conn = conn
		s.baseSubs = nil
		s.convSubs = nil
		s.subscribedID = ""
		s.spawnLocked(func() { s.watch(conn) })
		return false
	})
	if !ran {
		conn.Close()
		return
	}
	s.subscribeBase(conn)

	// Online is reported once the base destinations are live.
	var (
		claim   subscriptionClaim
		claimed bool
	)
	s.update(func() bool {
		if s.conn != conn {
			return false
		}
		claim, claimed = s.claimSubscriptionLocked(s.conversationID)
		return s.setStatusLocked(StatusOnline)
	})
	if claimed {
		s.subscribe(claim)
	}
	s.logger.Info("realtime connected")
}

// watch waits for conn to drop and schedules a reconnect.
func (s *Session) watch(conn realtime.Conn) {
	select {
	case <-s.ctx.Done():
		return
	case <-conn.Done():
	}

	s.update(func() bool {
		if s.conn != conn {
			return false
		}
		s.logger.Warn("realtime connection lost", "error", conn.Err(), "retry_in", s.timings.Reconnect)
		s.conn = nil
		s.baseSubs = nil
		s.convSubs = nil
		s.subscribedID = ""
		s.subGen++
		s.metrics.Increment(metrics.CounterReconnect)
		s.afterLocked(s.timings.Reconnect, s.connect)
		return s.setStatusLocked(StatusOffline)
	})
	conn.Close()
}

func (s *Session) setStatusLocked(st ConnectionStatus) bool {
	if s.status == st {
		return false
	}
	s.status = st
	return true
}

// subscribeBase subscribes to the destinations that live as long as the
// connection: the personal queue and the chat-updates broadcast. Subscribe
// may block on the connection, so it runs without the session lock.
func (s *Session) subscribeBase(conn realtime.Conn) {
	valid := func() bool { return s.conn == conn }

	destinations := []struct {
		name    string
		handler realtime.Handler
	}{
		{realtime.PersonalQueue, func(body []byte) { s.onMessageFrame(valid, body) }},
		{realtime.ChatUpdates, func(body []byte) { s.onUpdateFrame(valid, body) }},
	}

	var subs []realtime.Subscription
	for _, d := range destinations {
		sub, err := conn.Subscribe(d.name, d.handler)
		if err != nil {
			s.logger.Warn("subscribe failed", "destination", d.name, "error", err)
			continue
		}
		subs = append(subs, sub)
	}

	kept := false
	s.update(func() bool {
		if valid() {
			s.baseSubs = subs
			kept = true
		}
		return false
	})
	if !kept {
		s.unsubscribeAll(subs)
	}
}

// SubscribeToConversation makes id the session's conversation and switches
// the conversation subscription to it. Moving away from another conversation
// drops that conversation's log, typing indicator and stream. Offline, only
// the conversation changes; connect subscribes once the channel is up.
func (s *Session) SubscribeToConversation(id string) {
	if id == "" {
		return
	}
	var (
		claim   subscriptionClaim
		claimed bool
	)
	s.update(func() bool {
		changed := s.switchConversationLocked(id)
		claim, claimed = s.claimSubscriptionLocked(id)
		return changed
	})
	if claimed {
		s.subscribe(claim)
	}
}

// syncSubscription subscribes to the session's current conversation, if
// that is not already done.
func (s *Session) syncSubscription() {
	var (
		claim   subscriptionClaim
		claimed bool
	)
	s.update(func() bool {
		claim, claimed = s.claimSubscriptionLocked(s.conversationID)
		return false
	})
	if claimed {
		s.subscribe(claim)
	}
}

// switchConversationLocked sets the current conversation and reports
// whether it changed.
func (s *Session) switchConversationLocked(id string) bool {
	prev := s.conversationID
	if prev == id {
		return false
	}
	s.conversationID = id
	if prev == "" {
		return true
	}

	s.convStatus = ""
	s.log.Clear()
	s.typing = Typing{}
	s.unread = 0
	s.scrollSeq++
	s.streamSeq++
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
	s.stopTimerLocked(s.failsafe)
	s.failsafe = nil
	s.logger.Info("switched conversation", "from", prev, "conversation_id", id)
	return true
}

// subscriptionClaim is a conversation subscription reserved under the lock
// and carried out after releasing it.
type subscriptionClaim struct {
	conn realtime.Conn
	id   string
	gen  uint64
}

// claimSubscriptionLocked drops the current conversation subscription and
// reserves one for id. It reports false when offline or already subscribed.
func (s *Session) claimSubscriptionLocked(id string) (subscriptionClaim, bool) {
	if id == "" || s.conn == nil || s.subscribedID == id {
		return subscriptionClaim{}, false
	}
	s.unsubscribeConversationLocked()
	s.subGen++
	s.subscribedID = id
	return subscriptionClaim{conn: s.conn, id: id, gen: s.subGen}, true
}

// subscribe carries out c. A claim overtaken by a newer one, a dropped
// connection or Close while subscribing is undone.
func (s *Session) subscribe(c subscriptionClaim) {
	valid := func() bool {
		return s.conn == c.conn && s.subGen == c.gen && s.subscribedID == c.id
	}

	sub, err := c.conn.Subscribe(realtime.ConversationTopic(c.id), func(body []byte) {
		s.onMessageFrame(valid, body)
	})
	if err != nil {
		s.logger.Warn("subscribe failed", "conversation_id", c.id, "error", err)
		s.update(func() bool {
			if valid() {
				s.subscribedID = ""
			}
			return false
		})
		return
	}
	subs := []realtime.Subscription{sub}

	sub, err = c.conn.Subscribe(realtime.TypingTopic(c.id), func(body []byte) {
		s.onTypingFrame(valid, body)
	})
	if err != nil {
		s.logger.Warn("subscribe typing failed", "conversation_id", c.id, "error", err)
	} else {
		subs = append(subs, sub)
	}

	kept := false
	s.update(func() bool {
		if !valid() {
			return false
		}
		s.convSubs = subs
		kept = true
		s.logger.Debug("subscribed to conversation", "conversation_id", c.id)

		// The conversation may have just been created; catch anything sent
		// before the subscription existed.
		s.scrollSeq++
		s.afterLocked(s.timings.SubscribeReload, s.Reload)
		return true
	})
	if !kept {
		s.unsubscribeAll(subs)
	}
}

func (s *Session) unsubscribeConversationLocked() {
	for _, sub := range s.convSubs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe failed", "conversation_id", s.subscribedID, "error", err)
		}
	}
	s.convSubs = nil
	s.subscribedID = ""
}

func (s *Session) unsubscribeAll(subs []realtime.Subscription) {
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe failed", "error", err)
		}
	}
}

func (s *Session) onMessageFrame(valid func() bool, body []byte) {
	var msg models.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		s.logger.Warn("malformed push message", "error", err)
		return
	}

	stale := false
	s.update(func() bool {
		if !valid() {
			stale = true
			return false
		}
		return s.displayLocked(msg, false)
	})
	if stale {
		s.metrics.Increment(metrics.CounterStaleTopic)
		s.logger.Debug("dropped message from stale subscription", "message_id", msg.ID)
	}
}

// chatUpdate is the payload of the chat-updates broadcast.
type chatUpdate struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Session) onUpdateFrame(valid func() bool, body []byte) {
	var upd chatUpdate
	if err := json.Unmarshal(body, &upd); err != nil {
		s.logger.Warn("malformed chat update", "error", err)
		return
	}
	if upd.Type != "hide_typing" {
		return
	}

	var data struct {
		ConversationID json.RawMessage `json:"conversationId"`
	}
	var convID string
	if len(upd.Data) > 0 {
		if err := json.Unmarshal(upd.Data, &data); err == nil {
			convID, _ = models.DecodeID(data.ConversationID)
		}
	}

	s.update(func() bool {
		if !valid() {
			return false
		}
		if convID != "" && s.conversationID != "" && convID != s.conversationID {
			return false
		}
		return s.hideTypingLocked()
	})
}

// typingNotice is the payload of a conversation's typing topic.
type typingNotice struct {
	UserID   json.RawMessage `json:"userId"`
	UserName string          `json:"userName"`
}

func (s *Session) onTypingFrame(valid func() bool, body []byte) {
	var n typingNotice
	if err := json.Unmarshal(body, &n); err != nil {
		s.logger.Warn("malformed typing notice", "error", err)
		return
	}
	userID, _ := models.DecodeID(n.UserID)
	if userID != "" && userID == s.user.ID {
		return
	}

	s.update(func() bool {
		if !valid() {
			return false
		}
		name := n.UserName
		if name == "" {
			name = "StarShop Support"
		}
		return s.showTypingLocked(Typing{Visible: true, Name: name})
	})
}

func (s *Session) showTypingLocked(t Typing) bool {
	if s.typing == t {
		return false
	}
	s.typing = t
	s.scrollSeq++
	return true
}

func (s *Session) hideTypingLocked() bool {
	if !s.typing.Visible {
		return false
	}
	s.typing = Typing{}
	return true
}
