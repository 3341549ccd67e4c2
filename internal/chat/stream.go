package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/starshop/starchat/internal/client"
	"github.com/starshop/starchat/internal/markdown"
	"github.com/starshop/starchat/internal/metrics"
	"github.com/starshop/starchat/internal/models"
)

// runStream reads one streamed answer for convID into a placeholder entry.
// Starting a stream or switching conversation cancels the previous one, and
// events it still delivers are dropped. The stream is closed after
// the stream timeout whatever its phase.
func (s *Session) runStream(convID string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timings.StreamTimeout)
	defer cancel()

	s.mu.Lock()
	if s.closed || s.conversationID != convID {
		s.mu.Unlock()
		return
	}
	if s.streamCancel != nil {
		s.streamCancel()
	}
	s.streamSeq++
	seq := s.streamSeq
	s.streamCancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.streamSeq == seq {
			s.streamCancel = nil
		}
		s.mu.Unlock()
	}()

	start := time.Now()
	placeholder := models.Message{
		ID:             models.NewStreamingID(s.now()),
		ConversationID: convID,
		SenderID:       models.SenderAI,
		SenderName:     s.aiName,
		SentAt:         s.now(),
		IsAIGenerated:  true,
	}
	var (
		acc    strings.Builder
		chunks int64
	)

	stream, err := s.api.OpenStream(ctx, convID)
	if err != nil {
		s.logger.Warn("open stream failed", "conversation_id", convID, "error", err)
		s.streamLost(ctx, 0)
		return
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, client.ErrMalformedEvent) {
				s.logger.Warn("skipping malformed stream event", "error", err)
				continue
			}
			s.metrics.RecordItems(metrics.OpStream, time.Since(start), chunks)
			s.streamLost(ctx, acc.Len())
			return
		}

		switch ev.Type {
		case client.EventConnected:
			continue

		case client.EventChunk:
			first := chunks == 0
			chunks++
			acc.WriteString(ev.Content)
			text := acc.String()
			if first {
				s.metrics.RecordTiming(metrics.OpFirstChunk, time.Since(start))
			}
			s.update(func() bool {
				if s.streamSeq != seq {
					return false
				}
				if first {
					// The placeholder is not an arrival; the final message is.
					s.hideTypingLocked()
					s.displayLocked(placeholder, true)
				}
				if !s.log.Replace(placeholder.ID, text) {
					// Lost to a reload repaint; put it back.
					p := placeholder
					p.Content = text
					s.log.Append(Entry{Message: p, HTML: markdown.Format(text)})
				}
				s.scrollSeq++
				return true
			})

		case client.EventComplete:
			s.metrics.RecordItems(metrics.OpStream, time.Since(start), chunks)
			final := ev.FinalMessage
			s.update(func() bool {
				if s.streamSeq != seq {
					return false
				}
				s.hideTypingLocked()
				if final == nil || final.ID == "" {
					return true
				}
				s.log.Remove(placeholder.ID)
				s.displayLocked(*final, false)
				return true
			})
			return

		case client.EventError:
			s.metrics.RecordItems(metrics.OpStream, time.Since(start), chunks)
			s.logger.Warn("stream reported error", "conversation_id", convID, "message", ev.Message)
			empty := acc.Len() == 0
			now := s.now()
			s.update(func() bool {
				if s.streamSeq != seq {
					return false
				}
				s.hideTypingLocked()
				if empty {
					s.displayLocked(models.SystemMessage(MsgStreamFailed, now), false)
				}
				return true
			})
			return

		default:
			s.logger.Debug("ignoring stream event", "type", ev.Type)
		}
	}
}

// streamLost handles a stream that ended without complete or error: a
// timeout, a cancellation or a transport failure.
func (s *Session) streamLost(ctx context.Context, accumulated int) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.metrics.Increment(metrics.CounterStreamAbort)
		s.logger.Warn("stream timed out", "after", s.timings.StreamTimeout)
		s.update(func() bool { return s.hideTypingLocked() })
	case ctx.Err() != nil:
		// Superseded by a newer stream or the session closed.
	default:
		s.update(func() bool {
			changed := s.hideTypingLocked()
			if accumulated == 0 {
				s.afterLocked(s.timings.StreamFallback, s.Reload)
			}
			return changed
		})
	}
}
