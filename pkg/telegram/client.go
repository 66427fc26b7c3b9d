package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	parseModeMarkdown           = "Markdown"
	responseBodyReadLimit int64 = 2048
)

var errBotTokenRequired = errors.New("telegram bot token is required")

// Client wraps the Bot API sendMessage endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the Bot API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a Bot API client for token.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errBotTokenRequired
	}
	client := &Client{
		token:      trimmed,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendMarkdown posts text to chatID with legacy Markdown parsing.
func (c *Client) SendMarkdown(ctx context.Context, chatID, text string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "telegram client not configured")
	}
	if strings.TrimSpace(chatID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "chat id is required")
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: parseModeMarkdown})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal telegram request")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(c.baseURL, "/"), c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute telegram request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	var decoded apiResponse
	_ = json.Unmarshal(raw, &decoded)
	if resp.StatusCode != http.StatusOK || !decoded.OK {
		msg := decoded.Description
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		code := pkgerrors.CodeDependency
		if resp.StatusCode == http.StatusBadRequest {
			// Bad markup or chat: redelivery will not help.
			code = pkgerrors.CodeValidation
		}
		return pkgerrors.Newf(code, "telegram sendMessage failed: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown escapes the characters legacy Markdown treats as markup.
func EscapeMarkdown(value string) string {
	return markdownEscaper.Replace(value)
}
