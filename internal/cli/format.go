package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/starshop/starchat/internal/markdown"
	"github.com/starshop/starchat/internal/models"
)

const (
	ownLabel   = "Bạn"
	staffLabel = "StarShop Support"
)

// senderLabel names the author of m as the customer sees it.
func senderLabel(m models.Message, own bool) string {
	switch {
	case own:
		return ownLabel
	case m.SenderID == models.SenderSystem:
		return "!"
	case m.SenderName != "":
		return m.SenderName
	}
	return staffLabel
}

// clock formats a message time, showing the date only for older days.
func clock(t, now time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	t = t.Local()
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Local().Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return t.Format("15:04")
	}
	return t.Format("02/01 15:04")
}

// plainLine renders m as one or more plain terminal lines.
func plainLine(m models.Message, own bool, now time.Time) string {
	body := markdown.PlainText(m.Content)
	prefix := fmt.Sprintf("[%s] %s: ", clock(m.SentAt, now), senderLabel(m, own))
	indent := strings.Repeat(" ", len([]rune(prefix)))
	return prefix + strings.ReplaceAll(body, "\n", "\n"+indent)
}
