package chat

import (
	"slices"

	"github.com/starshop/starchat/internal/markdown"
	"github.com/starshop/starchat/internal/models"
)

// Entry is one rendered message in the visual log.
type Entry struct {
	Message models.Message
	// HTML is the formatted content, used for content-equality matching.
	HTML string
	Own  bool
}

// messageLog is the ordered set of rendered messages, keyed by message id.
// It is not safe for concurrent use; the Session lock guards it.
type messageLog struct {
	order []string
	byID  map[string]Entry
}

func newMessageLog() *messageLog {
	return &messageLog{byID: make(map[string]Entry)}
}

func (l *messageLog) Has(id string) bool {
	_, ok := l.byID[id]
	return ok
}

func (l *messageLog) Len() int {
	return len(l.order)
}

// Append adds e at the end. An existing entry with the same id is replaced in
// place so an id never appears twice.
func (l *messageLog) Append(e Entry) {
	if _, ok := l.byID[e.Message.ID]; !ok {
		l.order = append(l.order, e.Message.ID)
	}
	l.byID[e.Message.ID] = e
}

func (l *messageLog) Remove(id string) bool {
	if _, ok := l.byID[id]; !ok {
		return false
	}
	delete(l.byID, id)
	if i := slices.Index(l.order, id); i >= 0 {
		l.order = slices.Delete(l.order, i, i+1)
	}
	return true
}

// Replace swaps the content of an entry in place, reformatting it from scratch.
func (l *messageLog) Replace(id, content string) bool {
	e, ok := l.byID[id]
	if !ok {
		return false
	}
	e.Message.Content = content
	e.HTML = markdown.Format(content)
	l.byID[id] = e
	return true
}

func (l *messageLog) Clear() {
	l.order = l.order[:0]
	clear(l.byID)
}

func (l *messageLog) Last() (Entry, bool) {
	if len(l.order) == 0 {
		return Entry{}, false
	}
	return l.byID[l.order[len(l.order)-1]], true
}

// FindProvisionalByHTML searches backward for an own provisional entry whose
// formatted content equals html.
func (l *messageLog) FindProvisionalByHTML(html string) (string, bool) {
	for i := len(l.order) - 1; i >= 0; i-- {
		e := l.byID[l.order[i]]
		if e.Own && models.IsProvisionalID(e.Message.ID) && e.HTML == html {
			return e.Message.ID, true
		}
	}
	return "", false
}

// PersistentIDs returns the set of server-assigned ids currently rendered.
func (l *messageLog) PersistentIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(l.order))
	for _, id := range l.order {
		if models.IsPersistentID(id) {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// Provisional returns the own provisional entries in display order.
func (l *messageLog) Provisional() []Entry {
	var out []Entry
	for _, id := range l.order {
		e := l.byID[id]
		if e.Own && models.IsProvisionalID(id) {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a copy of the log in display order.
func (l *messageLog) Entries() []Entry {
	out := make([]Entry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}
