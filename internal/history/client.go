// ABOUTME: REST client for the backend history API and the synchronous send fallback.
// ABOUTME: Maps relay error envelopes to sentinel errors callers can branch on.

package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prepdesk/prepchat/internal/chat"
	"github.com/prepdesk/prepchat/internal/wire"
)

// Client errors. ErrGatewayTimeout and ErrUpstreamUnavailable correspond to
// the relay's distinguished error codes for the POST fallback path.
var (
	ErrGatewayTimeout      = errors.New("gateway timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUnauthorized        = errors.New("unauthorized")
)

// SendResult is the synchronous response of the POST send fallback.
type SendResult struct {
	Reply          string     `json:"reply"`
	ConversationID string     `json:"conversation_id,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// Client talks to the backend's REST surface: conversation listing, message
// history, and the request/response send fallback for environments without a
// live streaming connection.
type Client struct {
	baseURL    string
	token      func() string
	httpClient *http.Client
}

// NewClient creates a history client for the given base URL. The token
// function supplies the bearer credential per request.
func NewClient(baseURL string, token func() string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Conversations lists persisted conversation summaries, optionally filtered
// by context type.
func (c *Client) Conversations(ctx context.Context, contextType chat.ContextType) ([]chat.ConversationSummary, error) {
	path := "/api/chat/history"
	if contextType != "" {
		path += "?context_type=" + url.QueryEscape(string(contextType))
	}

	var out []chat.ConversationSummary
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches the full message list of one conversation in stored order.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]chat.StoredMessage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id required")
	}

	var out []chat.StoredMessage
	if err := c.get(ctx, "/api/chat/conversations/"+url.PathEscape(conversationID)+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send posts one turn through the synchronous fallback endpoint and waits for
// the complete reply. Relay-level timeouts and upstream failures surface as
// ErrGatewayTimeout and ErrUpstreamUnavailable respectively.
func (c *Client) Send(ctx context.Context, req wire.SendRequest) (*SendResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// errorEnvelope is the JSON error body used by the backend and the relay.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope errorEnvelope
	_ = json.Unmarshal(body, &envelope)

	switch envelope.Error {
	case "gateway_timeout":
		return fmt.Errorf("%w: %s", ErrGatewayTimeout, envelope.Message)
	case "upstream_unavailable":
		return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, envelope.Message)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if envelope.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, envelope.Error)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}
