// Package telegram sends messages through the Telegram Bot API and reads
// recent updates so operators can discover their chat ID.
//
// Without a bot token or chat ID the client runs in demo mode: Send logs
// the message it would have sent and reports message ID "demo".
package telegram

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
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/orquesta/orquesta"
)

// DefaultBaseURL is the Telegram Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// DemoMessageID is reported by Send when no credentials are configured.
const DemoMessageID = "demo"

// Delivery is the outcome of one sent message.
type Delivery struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId"`
}

// Chat identifies the conversation an update came from.
type Chat struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Message is the part of an update that carries text.
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text,omitempty"`
	Chat      *Chat  `json:"chat,omitempty"`
}

// Update is one entry returned by getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// apiResponse is the envelope of every Bot API response.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to one bot and one chat.
type Client struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client. Either credential may be empty; see Demo.
func New(token, chatID string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		chatID:  chatID,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Demo reports whether Send only logs messages.
func (c *Client) Demo() bool { return c.token == "" || c.chatID == "" }

// Send posts text to the configured chat with Markdown formatting.
// Transport failures and non-OK responses yield *orquesta.DeliveryError.
func (c *Client) Send(ctx context.Context, text string) (Delivery, error) {
	if c.Demo() {
		c.logger.Warn("TELEGRAM_BOT_TOKEN o TELEGRAM_CHAT_ID no configurados")
		c.logger.Info("mensaje que se enviaría", slog.String("mensaje", text))
		return Delivery{OK: true, MessageID: DemoMessageID}, nil
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return Delivery{}, &orquesta.DeliveryError{Err: err}
	}

	var msg Message
	if err := c.call(ctx, http.MethodPost, "sendMessage", body, &msg); err != nil {
		c.logger.Error("error enviando mensaje a Telegram", slog.String("error", err.Error()))
		return Delivery{}, err
	}
	return Delivery{OK: true, MessageID: strconv.FormatInt(msg.MessageID, 10)}, nil
}

// FetchRecent returns the bot's pending updates. It needs only the token.
func (c *Client) FetchRecent(ctx context.Context) ([]Update, error) {
	if c.token == "" {
		return nil, &orquesta.ConfigError{Key: "TELEGRAM_BOT_TOKEN"}
	}
	var updates []Update
	if err := c.call(ctx, http.MethodGet, "getUpdates", nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) call(ctx context.Context, method, apiMethod string, body []byte, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, apiMethod)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &orquesta.DeliveryError{Err: fmt.Errorf("build request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of the message.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return &orquesta.DeliveryError{Err: fmt.Errorf("%s: %w", apiMethod, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &orquesta.DeliveryError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env apiResponse
	if err := json.Unmarshal(data, &env); err != nil {
		return &orquesta.DeliveryError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK || !env.OK {
		desc := env.Description
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return &orquesta.DeliveryError{Status: resp.StatusCode, Err: errors.New(desc)}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &orquesta.DeliveryError{Status: resp.StatusCode, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}
