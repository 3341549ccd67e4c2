// Package client provides an HTTP client for the StarShop storefront chat API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starshop/starchat/internal/models"
)

// Sentinel errors returned (wrapped) by client calls.
var (
	ErrUnauthorized = errors.New("not authenticated")
	ErrNotFound     = errors.New("not found")
	ErrNoData       = errors.New("response carried no data")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server error: %d %s", e.Status, e.Message)
}

// Unwrap maps auth and lookup failures onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// IsTransport reports whether err is a network level failure rather than an
// answer from the server.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr) && !errors.Is(err, ErrNoData)
}

// Options configures a Client.
type Options struct {
	// SessionCookie is sent as the Cookie header. A bare value is treated as
	// the JSESSIONID.
	SessionCookie string
	CSRFToken     string
	CSRFHeader    string
	// Timeout bounds plain requests. Streams are bounded by their context.
	Timeout time.Duration
	// Logger, when set, receives one line per HTTP request.
	Logger *slog.Logger
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

// Client talks to the storefront REST and SSE endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	streamHTTP *http.Client
	cookie     string
	csrfToken  string
	csrfHeader string
}

// New creates a client for the storefront at baseURL.
func New(baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	header := opts.CSRFHeader
	if header == "" {
		header = "X-XSRF-TOKEN"
	}
	cookie := opts.SessionCookie
	if cookie != "" && !strings.Contains(cookie, "=") {
		cookie = "JSESSIONID=" + cookie
	}

	transport := opts.Transport
	if opts.Logger != nil {
		transport = withLogging(transport, opts.Logger.With("component", "client"))
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		streamHTTP: &http.Client{Transport: transport},
		cookie:     cookie,
		csrfToken:  opts.CSRFToken,
		csrfHeader: header,
	}
}

// BaseURL returns the storefront root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Cookie returns the Cookie header value used for authentication.
func (c *Client) Cookie() string {
	return c.cookie
}

// envelope is the storefront response wrapper.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (e envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// failed reports whether the optional error field signals failure.
func (e envelope) failed() bool {
	v := bytes.TrimSpace(e.Error)
	return len(v) > 0 && !bytes.Equal(v, []byte("null")) && !bytes.Equal(v, []byte("false"))
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	if method != http.MethodGet && c.csrfToken != "" {
		req.Header.Set(c.csrfHeader, c.csrfToken)
	}
	return req, nil
}

// Execute sends a request with an optional JSON body and decodes the data
// field of the response envelope into result.
func (c *Client) Execute(ctx context.Context, method, path string, payload any, result any) error {
	var body io.Reader
	if payload != nil {
		reqBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(reqBody)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if decodeErr != nil {
			msg = strings.TrimSpace(string(body))
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("unmarshal response: %w", decodeErr)
	}
	if env.failed() {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if result == nil {
		return nil
	}
	if !env.hasData() {
		if env.Message != "" {
			return fmt.Errorf("%s: %w", env.Message, ErrNoData)
		}
		return ErrNoData
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Me returns the authenticated customer.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.Execute(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	return &user, nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// MyConversations lists the customer's conversations.
func (c *Client) MyConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := c.Execute(ctx, http.MethodGet, "/api/chat/conversations/my", nil, &convs)
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// ActiveConversation returns the first OPEN or ASSIGNED conversation, or nil.
func (c *Client) ActiveConversation(ctx context.Context) (*models.Conversation, error) {
	convs, err := c.MyConversations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].Status.Active() {
			return &convs[i], nil
		}
	}
	return nil, nil
}

// Messages fetches one page of a conversation's history in server order.
func (c *Client) Messages(ctx context.Context, conversationID string, page, size int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("page", fmt.Sprint(page))
	q.Set("size", fmt.Sprint(size))
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()

	var msgs []models.Message
	if err := c.Execute(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return msgs, nil
}

// MarkRead marks all messages of a conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.Execute(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// sendRequest is the outbound message body. ConversationID is null for the
// first message of a new conversation.
type sendRequest struct {
	ConversationID *json.Number `json:"conversationId"`
	Content        string       `json:"content"`
	MessageType    string       `json:"messageType"`
}

// Send posts a message. With an empty conversationID the first-message
// endpoint is used, which creates the conversation server side.
func (c *Client) Send(ctx context.Context, conversationID, content string) (*models.Message, error) {
	req := sendRequest{Content: content, MessageType: "TEXT"}
	path := "/api/chat/messages/first"
	if conversationID != "" {
		n := json.Number(conversationID)
		req.ConversationID = &n
		path = "/api/chat/messages"
	}

	var msg models.Message
	if err := c.Execute(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// DescriptionRequest holds the inputs for AI product description generation.
type DescriptionRequest struct {
	ProductName string
	CatalogID   string
	Keywords    string
}

// GenerateDescription asks the storefront AI to write a product description.
func (c *Client) GenerateDescription(ctx context.Context, in DescriptionRequest) (string, error) {
	form := url.Values{}
	form.Set("productName", in.ProductName)
	form.Set("catalogId", in.CatalogID)
	form.Set("keywords", in.Keywords)

	req, err := c.newRequest(ctx, http.MethodPost, "/admin/products/api/generate-description", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var text string
	if err := c.do(req, &text); err != nil {
		return "", fmt.Errorf("generate description: %w", err)
	}
	return text, nil
}
