// Package backend is the REST backing-store client. Every call carries the
// session's bearer credential; non-success responses surface as
// RequestFailedError and are never retried here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/openline-chat/openline/pkg/chatsync"
)

const defaultRequestTimeout = 15 * time.Second

// TokenSource supplies the current session token. Returning "" means no
// session exists and authenticated calls are refused locally instead of
// being issued without a credential.
type TokenSource func() string

// StaticToken adapts a fixed token string into a TokenSource.
func StaticToken(token string) TokenSource {
	return func() string { return token }
}

// Config describes a backing-store client.
type Config struct {
	BaseURL    string
	Token      TokenSource   // optional for Login/Register-only use
	HTTPClient *http.Client  // optional
	Timeout    time.Duration // per-request; zero means defaultRequestTimeout
	Logger     zerolog.Logger
}

// Client talks to the chat backing store.
type Client struct {
	baseURL string
	token   TokenSource
	http    *http.Client
	log     zerolog.Logger
}

var _ chatsync.Backend = &Client{}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base URL is empty")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    httpClient,
		log:     cfg.Logger.With().Str("component", "backend").Logger(),
	}, nil
}

// ListChats lists the session's conversations.
func (c *Client) ListChats(ctx context.Context) ([]chatsync.Conversation, error) {
	var chats []chatsync.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chat", nil, &chats, true); err != nil {
		return nil, err
	}
	return chats, nil
}

// Messages returns the ordered history for a conversation, ascending by
// creation time.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]chatsync.Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is empty")
	}
	var msgs []chatsync.Message
	path := "/api/chat/message/" + url.PathEscape(conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs, true); err != nil {
		return nil, err
	}
	return msgs, nil
}

// AccessChat creates or returns the one-to-one conversation with userID.
func (c *Client) AccessChat(ctx context.Context, userID string) (chatsync.Conversation, error) {
	if userID == "" {
		return chatsync.Conversation{}, errors.New("user id is empty")
	}
	var conv chatsync.Conversation
	body := map[string]string{"userId": userID}
	if err := c.do(ctx, http.MethodPost, "/api/chat", body, &conv, true); err != nil {
		return chatsync.Conversation{}, err
	}
	return conv, nil
}

// CreateGroup creates a group conversation.
func (c *Client) CreateGroup(ctx context.Context, name string, userIDs []string) (chatsync.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return chatsync.Conversation{}, errors.New("group name is empty")
	}
	if len(userIDs) < 2 {
		return chatsync.Conversation{}, errors.New("a group needs at least two other users")
	}
	var conv chatsync.Conversation
	body := map[string]any{"name": name, "users": userIDs}
	if err := c.do(ctx, http.MethodPost, "/api/chat/group", body, &conv, true); err != nil {
		return chatsync.Conversation{}, err
	}
	return conv, nil
}

// SendMessage persists a new message and returns the canonical stored copy,
// including the store-assigned id.
func (c *Client) SendMessage(ctx context.Context, req chatsync.SendMessageRequest) (chatsync.Message, error) {
	if req.ConversationID == "" {
		return chatsync.Message{}, errors.New("conversation id is empty")
	}
	if req.Kind == "" {
		req.Kind = chatsync.KindText
	}
	var msg chatsync.Message
	if err := c.do(ctx, http.MethodPost, "/api/chat/message", req, &msg, true); err != nil {
		return chatsync.Message{}, err
	}
	return msg, nil
}

// SearchUsers runs the identity search used to start conversations.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]chatsync.Identity, error) {
	var users []chatsync.Identity
	path := "/api/users?search=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &users, true); err != nil {
		return nil, err
	}
	return users, nil
}

// Login authenticates and returns the full identity payload, token included.
func (c *Client) Login(ctx context.Context, email, password string) (chatsync.Identity, error) {
	var self chatsync.Identity
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &self, false); err != nil {
		return chatsync.Identity{}, err
	}
	return self, nil
}

// Register creates an account and returns the identity payload.
func (c *Client) Register(ctx context.Context, name, email, password string) (chatsync.Identity, error) {
	var self chatsync.Identity
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", body, &self, false); err != nil {
		return chatsync.Identity{}, err
	}
	return self, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.token == nil {
			return chatsync.ErrNotLoggedIn
		}
		token := c.token()
		if token == "" {
			return chatsync.ErrNotLoggedIn
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("request failed")
		return &chatsync.RequestFailedError{
			Op:     method + " " + path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}
