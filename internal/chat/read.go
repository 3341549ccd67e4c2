package chat

import (
	"encoding/json"

	"github.com/starshop/starchat/internal/realtime"
)

// Toggle opens or closes the chat window. Opening clears the unread badge,
// marks the conversation read and reloads it.
func (s *Session) Toggle() {
	s.update(func() bool {
		s.open = !s.open
		if !s.open {
			return true
		}
		s.unread = 0
		s.scrollSeq++
		if id := s.conversationID; id != "" {
			s.spawnLocked(func() { s.markRead(id) })
		}
		s.spawnLocked(s.Reload)
		return true
	})
}

// Unread returns the number of messages received while the window was closed.
func (s *Session) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Session) markRead(id string) {
	if err := s.api.MarkRead(s.ctx, id); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("mark read failed", "conversation_id", id, "error", err)
	}
}

// typingSignal is the outbound typing notice.
type typingSignal struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

// Typing tells the other side the customer is typing. Calls are throttled
// and dropped while offline or before a conversation exists.
func (s *Session) Typing() {
	s.mu.Lock()
	conn := s.conn
	convID := s.conversationID
	closed := s.closed
	s.mu.Unlock()

	if closed || conn == nil || convID == "" {
		return
	}
	if !s.typingLimiter.Allow() {
		return
	}

	body, err := json.Marshal(typingSignal{
		ConversationID: convID,
		UserID:         s.user.ID,
		UserName:       s.user.DisplayName(),
	})
	if err != nil {
		s.logger.Debug("encode typing signal", "error", err)
		return
	}
	if err := conn.Send(realtime.TypingSend, body); err != nil {
		s.logger.Debug("typing signal failed", "error", err)
	}
}
