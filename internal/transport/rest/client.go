package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anteros-labs/domus/internal/domain"
)

// APIError is a non-2xx response decoded from the backend's error envelope.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// MessagePage is one page of conversation history, oldest first.
type MessagePage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// Client talks to the condominium backend's REST API with bearer auth.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListConversations fetches the conversation snapshot, newest-active first.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	if out.Conversations == nil {
		out.Conversations = []domain.Conversation{}
	}
	return out.Conversations, nil
}

// ListMessages fetches one history page. An empty before cursor means the
// newest page; otherwise messages strictly older than that message id.
func (c *Client) ListMessages(ctx context.Context, conversationID, before string, limit int) (*MessagePage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()

	var page MessagePage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	return &page, nil
}

// CreateDirectConversation finds or creates the direct conversation with the
// given counterpart.
func (c *Client) CreateDirectConversation(ctx context.Context, otherUserID string) (*domain.Conversation, error) {
	input := struct {
		UserID string `json:"user_id"`
	}{UserID: otherUserID}

	var conv domain.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations", input, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrUnauthorized)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "UNKNOWN"}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
