package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/starshop/starchat/internal/models"
)

// Stream event types sent by the storefront.
const (
	EventConnected = "connected"
	EventChunk     = "chunk"
	EventComplete  = "complete"
	EventError     = "error"
)

// ErrMalformedEvent marks an event whose payload could not be decoded. The
// stream stays usable after it.
var ErrMalformedEvent = errors.New("malformed stream event")

// StreamEvent is one decoded server-sent event.
type StreamEvent struct {
	Type         string          `json:"type"`
	Content      string          `json:"content,omitempty"`
	FinalMessage *models.Message `json:"finalMessage,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Stream reads events from an open SSE response.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// OpenStream opens the streaming answer channel for a conversation. The
// stream lives until ctx is done or Close is called.
func (c *Client) OpenStream(ctx context.Context, conversationID string) (*Stream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/chat/stream/"+url.PathEscape(conversationID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: %w", &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))})
	}
	return NewStream(resp.Body), nil
}

// NewStream wraps an event-stream body.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, reader: bufio.NewReader(body)}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Next blocks until the next event is dispatched. It returns io.EOF when the
// server ends the stream and an error wrapping ErrMalformedEvent for payloads
// that are not valid JSON.
func (s *Stream) Next() (StreamEvent, error) {
	var (
		name string
		data []string
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			if errors.Is(err, io.EOF) && len(data) > 0 {
				return decodeEvent(name, data)
			}
			return StreamEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) == 0 {
				name = ""
				continue
			}
			return decodeEvent(name, data)
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}

		if err != nil {
			// Final line without a terminating newline.
			if len(data) > 0 {
				return decodeEvent(name, data)
			}
			return StreamEvent{}, err
		}
	}
}

func decodeEvent(name string, data []string) (StreamEvent, error) {
	payload := strings.Join(data, "\n")
	var ev StreamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return StreamEvent{Type: name}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		ev.Type = name
	}
	return ev, nil
}
