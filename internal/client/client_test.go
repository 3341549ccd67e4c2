package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starshop/starchat/internal/client"
	"github.com/starshop/starchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return client.New(srv.URL, client.Options{
		SessionCookie: "abc123",
		CSRFToken:     "tok",
		Timeout:       5 * time.Second,
	})
}

func TestMe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/me", r.URL.Path)
		assert.Equal(t, "JSESSIONID=abc123", r.Header.Get("Cookie"))
		assert.Empty(t, r.Header.Get("X-XSRF-TOKEN"), "GET must not carry the CSRF header")
		fmt.Fprint(w, `{"data":{"id":7,"firstname":"Lan","lastname":"Nguyen","email":"lan@example.com"}}`)
	})

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7", user.ID)
	assert.Equal(t, "Lan Nguyen", user.DisplayName())
}

func TestMeUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"data":null,"message":"Unauthorized"}`)
	})

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrUnauthorized)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Unauthorized", apiErr.Message)
	assert.False(t, client.IsTransport(err))
}

func TestActiveConversation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantID string
	}{
		{"first active wins", `{"data":[{"id":1,"status":"CLOSED"},{"id":2,"status":"ASSIGNED"},{"id":3,"status":"OPEN"}]}`, "2"},
		{"none active", `{"data":[{"id":1,"status":"CLOSED"}]}`, ""},
		{"empty list", `{"data":[]}`, ""},
		{"null data", `{"data":null}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/chat/conversations/my", r.URL.Path)
				fmt.Fprint(w, tt.body)
			})

			conv, err := c.ActiveConversation(context.Background())
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, conv)
				return
			}
			require.NotNil(t, conv)
			assert.Equal(t, tt.wantID, conv.ID)
		})
	}
}

func TestMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/conversations/42/messages", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("page"))
		assert.Equal(t, "100", r.URL.Query().Get("size"))
		fmt.Fprint(w, `{"data":[
			{"id":11,"senderId":7,"content":"Xin chào","sentAt":"2025-03-01T10:00:00"},
			{"id":12,"senderId":1,"content":"Chào bạn","sentAt":"2025-03-01T10:00:05","isAiGenerated":true}
		]}`)
	})

	msgs, err := c.Messages(context.Background(), "42", 0, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "11", msgs[0].ID)
	assert.Equal(t, "Chào bạn", msgs[1].Content)
	assert.True(t, msgs[1].IsAIGenerated)
}

func TestSend(t *testing.T) {
	tests := []struct {
		name           string
		conversationID string
		wantPath       string
		wantConvID     any
	}{
		{"known conversation", "42", "/api/chat/messages", float64(42)},
		{"first message", "", "/api/chat/messages/first", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, tt.wantPath, r.URL.Path)
				assert.Equal(t, "tok", r.Header.Get("X-XSRF-TOKEN"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Contains(t, body, "conversationId")
				assert.Equal(t, tt.wantConvID, body["conversationId"])
				assert.Equal(t, "Xin chào", body["content"])
				assert.Equal(t, "TEXT", body["messageType"])

				fmt.Fprint(w, `{"data":{"id":100,"conversationId":42,"senderId":7,"content":"Xin chào"},"message":"Tin nhắn đã được gửi"}`)
			})

			msg, err := c.Send(context.Background(), tt.conversationID, "Xin chào")
			require.NoError(t, err)
			assert.Equal(t, "100", msg.ID)
			assert.Equal(t, "42", msg.ConversationID)
		})
	}
}

func TestSendFailures(t *testing.T) {
	t.Run("bad request without data", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"data":null,"message":"Không thể gửi tin nhắn: boom"}`)
		})

		_, err := c.Send(context.Background(), "42", "hi")
		require.Error(t, err)
		assert.False(t, client.IsTransport(err))
	})

	t.Run("ok without data", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":null}`)
		})

		_, err := c.Send(context.Background(), "42", "hi")
		require.ErrorIs(t, err, client.ErrNoData)
		assert.False(t, client.IsTransport(err))
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := client.New(url, client.Options{Timeout: time.Second})
		_, err := c.Send(context.Background(), "42", "hi")
		require.Error(t, err)
		assert.True(t, client.IsTransport(err))
	})
}

func TestMarkRead(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/chat/conversations/42/read", r.URL.Path)
		fmt.Fprint(w, `{"data":null,"message":"ok"}`)
	})

	require.NoError(t, c.MarkRead(context.Background(), "42"))
	assert.True(t, called)
}

func TestGenerateDescription(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"success", http.StatusOK, `{"data":"Bó hoa hồng đỏ rực rỡ","error":null}`, "Bó hoa hồng đỏ rực rỡ", false},
		{"error flag", http.StatusOK, `{"data":null,"error":true,"message":"Vui lòng nhập tên sản phẩm"}`, "", true},
		{"server failure", http.StatusInternalServerError, `oops`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/admin/products/api/generate-description", r.URL.Path)
				assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "Hoa hồng", r.PostForm.Get("productName"))
				assert.Equal(t, "3", r.PostForm.Get("catalogId"))
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			got, err := c.GenerateDescription(context.Background(), client.DescriptionRequest{
				ProductName: "Hoa hồng",
				CatalogID:   "3",
				Keywords:    "đỏ, lãng mạn",
			})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream/42", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event:connected\ndata:{\"type\":\"connected\",\"conversationId\":42}\n\n")
		fmt.Fprint(w, "data:{\"type\":\"chunk\",\"content\":\"Chào \"}\n\n")
		fmt.Fprint(w, "data:{\"type\":\"chunk\",\"content\":\"bạn\"}\n\n")
		fmt.Fprint(w, "data:{\"type\":\"complete\",\"finalMessage\":{\"id\":99,\"senderId\":\"ai\",\"content\":\"Chào bạn\"}}\n\n")
	})

	stream, err := c.OpenStream(context.Background(), "42")
	require.NoError(t, err)
	defer stream.Close()

	var types []string
	var text strings.Builder
	var final *models.Message
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, ev.Type)
		if ev.Type == client.EventChunk {
			text.WriteString(ev.Content)
		}
		if ev.Type == client.EventComplete {
			final = ev.FinalMessage
		}
	}

	assert.Equal(t, []string{"connected", "chunk", "chunk", "complete"}, types)
	assert.Equal(t, "Chào bạn", text.String())
	require.NotNil(t, final)
	assert.Equal(t, "99", final.ID)
}

func TestOpenStreamRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.OpenStream(context.Background(), "42")
	require.ErrorIs(t, err, client.ErrUnauthorized)
}
