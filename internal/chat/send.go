package chat

import (
	"strings"
	"time"

	"github.com/starshop/starchat/internal/client"
	"github.com/starshop/starchat/internal/metrics"
	"github.com/starshop/starchat/internal/models"
)

// Send echoes content immediately under a provisional id and posts it in the
// background. With streaming enabled and a known conversation the answer is
// then read from the stream; otherwise it is expected over the push channel.
// Blank input is ignored.
func (s *Session) Send(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	now := s.now()

	s.update(func() bool {
		echo := models.Message{
			ID:             models.NewProvisionalID(now),
			ConversationID: s.conversationID,
			SenderID:       s.user.ID,
			SenderName:     s.user.DisplayName(),
			Content:        content,
			MessageType:    "TEXT",
			SentAt:         now,
		}
		s.displayLocked(echo, false)
		if s.aiTypingAllowedLocked() {
			s.showTypingLocked(Typing{Visible: true, Name: s.aiName, AI: true})
		}

		convID := s.conversationID
		streaming := s.streaming && convID != ""
		s.armFailsafeLocked()
		s.spawnLocked(func() { s.post(convID, content, streaming) })
		return true
	})
}

// aiTypingAllowedLocked reports whether an AI answer is expected: the
// conversation is new or still OPEN (not handed to staff).
func (s *Session) aiTypingAllowedLocked() bool {
	return s.convStatus == "" || s.convStatus == models.StatusOpen
}

// armFailsafeLocked (re)arms the single post-send reload timer.
func (s *Session) armFailsafeLocked() {
	s.stopTimerLocked(s.failsafe)
	s.failsafe = s.afterLocked(s.timings.Failsafe, s.Reload)
}

func (s *Session) post(convID, content string, streaming bool) {
	start := time.Now()
	msg, err := s.api.Send(s.ctx, convID, content)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.metrics.RecordFailure(metrics.OpSend, time.Since(start))

		switch {
		case client.IsTransport(err) && streaming:
			s.logger.Warn("send failed, retrying without streaming", "error", err)
			s.post(convID, content, false)
		case client.IsTransport(err):
			s.logger.Error("send failed", "error", err)
			s.showSystemError(MsgSendFailed)
		default:
			s.logger.Warn("send rejected", "error", err)
			s.showSystemError(MsgSendRejected)
		}
		return
	}
	s.metrics.RecordTiming(metrics.OpSend, time.Since(start))

	var (
		claim   subscriptionClaim
		claimed bool
	)
	s.update(func() bool {
		if s.conversationID != "" || msg.ConversationID == "" {
			return false
		}
		s.conversationID = msg.ConversationID
		s.logger.Info("conversation established", "conversation_id", msg.ConversationID)
		claim, claimed = s.claimSubscriptionLocked(msg.ConversationID)
		return true
	})
	if claimed {
		s.subscribe(claim)
	}

	if streaming {
		s.runStream(convID)
	}
}

func (s *Session) showSystemError(text string) {
	now := s.now()
	s.update(func() bool {
		s.hideTypingLocked()
		s.displayLocked(models.SystemMessage(text, now), false)
		return true
	})
}
