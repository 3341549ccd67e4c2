package client

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestLoggingTransport(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		wantLevel string
		wantMsg   string
	}{
		{"ok", http.StatusOK, nil, "DEBUG", "request completed"},
		{"rejected", http.StatusForbidden, nil, "WARN", "request rejected"},
		{"network", 0, errors.New("connection refused"), "ERROR", "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				rec := httptest.NewRecorder()
				rec.WriteHeader(tt.status)
				return rec.Result(), nil
			})

			req := httptest.NewRequest(http.MethodGet, "http://shop.test/api/chat/conversations/my", nil)
			resp, err := withLogging(next, logger).RoundTrip(req)
			if resp != nil {
				resp.Body.Close()
			}
			assert.ErrorIs(t, err, tt.err)

			out := buf.String()
			assert.Contains(t, out, "level="+tt.wantLevel)
			assert.Contains(t, out, `msg="`+tt.wantMsg+`"`)
			assert.Contains(t, out, "path=/api/chat/conversations/my")
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))

	long := strings.Repeat("x", 300)
	got := truncate(long, maxPathLogLen)
	require.Len(t, got, maxPathLogLen)
	assert.True(t, strings.HasSuffix(got, "..."))
}
