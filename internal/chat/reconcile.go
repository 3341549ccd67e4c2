package chat

import (
	"slices"
	"time"

	"github.com/starshop/starchat/internal/markdown"
	"github.com/starshop/starchat/internal/metrics"
	"github.com/starshop/starchat/internal/models"
)

// Display renders msg into the log. With skipDuplicateCheck the message is
// appended unconditionally; otherwise id and content deduplication apply.
func (s *Session) Display(msg models.Message, skipDuplicateCheck bool) {
	s.update(func() bool {
		return s.displayLocked(msg, skipDuplicateCheck)
	})
}

// displayLocked applies the reconciliation rules and reports whether the log
// changed.
//
// Own messages with a server id supersede the newest own provisional entry
// with equal formatted content. Messages from others are compared against
// the last entry only, so legitimately repeated content further back is kept.
func (s *Session) displayLocked(msg models.Message, skip bool) bool {
	if msg.ID == "" {
		s.logger.Debug("ignoring message without id", "sender_id", msg.SenderID)
		return false
	}
	html := markdown.Format(msg.Content)
	own := s.isOwn(msg)

	if !skip {
		if s.log.Has(msg.ID) {
			return false
		}
		if own && !models.IsProvisionalID(msg.ID) {
			if id, ok := s.log.FindProvisionalByHTML(html); ok {
				s.log.Remove(id)
				s.metrics.Increment(metrics.CounterSuperseded)
			}
		}
		if !own {
			if last, ok := s.log.Last(); ok && last.HTML == html {
				s.metrics.Increment(metrics.CounterDuplicate)
				s.logger.Debug("duplicate message dropped", "message_id", msg.ID)
				return false
			}
		}
	}

	s.log.Append(Entry{Message: msg, HTML: html, Own: own})
	s.scrollSeq++

	if !own && !skip {
		s.hideTypingLocked()
		if !s.open {
			s.unread++
			s.incoming = append(s.incoming, msg)
		}
	}
	return true
}

// Reload fetches the recent history and repaints the log when the fetched
// set strictly extends the rendered persistent ids. A call made while another
// reload is in flight returns immediately. Errors are logged.
func (s *Session) Reload() {
	s.mu.Lock()
	if s.closed || s.conversationID == "" {
		s.mu.Unlock()
		return
	}
	if s.reloading {
		s.mu.Unlock()
		s.metrics.Increment(metrics.CounterReloadBusy)
		return
	}
	s.reloading = true
	id := s.conversationID
	s.mu.Unlock()

	start := time.Now()
	msgs, err := s.api.Messages(s.ctx, id, 0, HistoryPageSize)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpReload, time.Since(start))
		if s.ctx.Err() == nil {
			s.logger.Warn("reload failed", "conversation_id", id, "error", err)
		}
		s.mu.Lock()
		s.reloading = false
		s.mu.Unlock()
		return
	}
	s.metrics.RecordItems(metrics.OpReload, time.Since(start), int64(len(msgs)))

	slices.SortStableFunc(msgs, func(a, b models.Message) int {
		return a.SentAt.Compare(b.SentAt)
	})

	s.update(func() bool {
		s.reloading = false
		if s.conversationID != id || !s.extendsLocked(msgs) {
			return false
		}
		s.repaintLocked(msgs)
		return true
	})
}

// extendsLocked reports whether fetched has more items than the rendered
// persistent set and contains at least one id not rendered yet.
func (s *Session) extendsLocked(fetched []models.Message) bool {
	current := s.log.PersistentIDs()
	if len(fetched) <= len(current) {
		return false
	}
	for _, m := range fetched {
		if _, ok := current[m.ID]; !ok {
			return true
		}
	}
	return false
}

// repaintLocked replaces the log with fetched, keeping own provisional
// entries the server has not echoed yet. It runs entirely under the lock so
// no push can observe a half-cleared log.
func (s *Session) repaintLocked(fetched []models.Message) {
	pending := s.log.Provisional()

	echoed := make(map[string]struct{})
	for _, m := range fetched {
		if s.isOwn(m) {
			echoed[markdown.Format(m.Content)] = struct{}{}
		}
	}

	s.log.Clear()
	for _, m := range fetched {
		s.displayLocked(m, true)
	}
	for _, p := range pending {
		if _, ok := echoed[p.HTML]; !ok {
			s.log.Append(p)
		}
	}
	s.scrollSeq++
	s.metrics.Increment(metrics.CounterRepaint)
	s.logger.Debug("repainted conversation", "messages", len(fetched), "pending", len(pending))
}
