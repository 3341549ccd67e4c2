// Package models defines the chat data structures exchanged with the storefront.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel sender ids used for messages that have no human author.
const (
	SenderSystem = "system"
	SenderAI     = "ai"
)

// Id prefixes for messages that never came from the server.
const (
	ProvisionalPrefix = "temp-user-"
	StreamingPrefix   = "streaming-"
	ErrorPrefix       = "error-"
)

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NewProvisionalID returns an id for an optimistic local echo of a user message.
func NewProvisionalID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", ProvisionalPrefix, now.UnixMilli(), uuid.New().String()[:8])
}

// NewStreamingID returns an id for an in-progress streamed AI answer.
func NewStreamingID(now time.Time) string {
	return StreamingPrefix + strconv.FormatInt(now.UnixMilli(), 10)
}

// NewErrorID returns an id for a synthetic error bubble.
func NewErrorID(now time.Time) string {
	return ErrorPrefix + strconv.FormatInt(now.UnixMilli(), 10)
}

// IsProvisionalID reports whether id was generated for an unconfirmed local message.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// IsStreamingID reports whether id belongs to a streaming placeholder.
func IsStreamingID(id string) bool {
	return strings.HasPrefix(id, StreamingPrefix)
}

// IsPersistentID reports whether id was assigned by the server.
func IsPersistentID(id string) bool {
	return id != "" && !IsProvisionalID(id) && !IsStreamingID(id) && !strings.HasPrefix(id, ErrorPrefix)
}

// SystemMessage builds a synthetic message authored by the system sender.
func SystemMessage(content string, now time.Time) Message {
	return Message{
		ID:         NewErrorID(now),
		SenderID:   SenderSystem,
		SenderName: "System",
		Content:    content,
		SentAt:     now,
	}
}

// ParseTimestamp parses the timestamp formats the storefront emits.
// Zone-less values are interpreted in local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// DecodeID turns a JSON number, string or null into a string id.
func DecodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("unexpected id %s", string(raw))
	}
	return n.String(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
