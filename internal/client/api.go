// Package client talks to the chat backend over HTTP and WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/pairchat/backend/internal/service/chat"
)

// APIError is a non-2xx response. Err is the matching domain sentinel when
// the server message identifies one.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

var knownErrors = []error{
	chatService.ErrInvalidIdentifier,
	chatService.ErrEmptyMessage,
	chatService.ErrStoreUnavailable,
	attachment.ErrInvalidAttachment,
	attachment.ErrAttachmentUploadFailed,
}

func sentinelFor(message string) error {
	for _, known := range knownErrors {
		if strings.HasPrefix(message, known.Error()) {
			return known
		}
	}
	return nil
}

// Client calls the REST endpoints as one authenticated participant.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a Client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History fetches the conversation with partnerID, oldest first.
func (c *Client) History(ctx context.Context, partnerID string) ([]chat.Message, error) {
	var messages []chat.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(partnerID), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

type sendBody struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Send posts a message to partnerID. Raw image bytes travel as a data URI.
func (c *Client) Send(ctx context.Context, partnerID, text string, image *attachment.Payload) (chat.Message, error) {
	body := sendBody{Text: text}
	if !image.Empty() {
		if len(image.Data) > 0 {
			body.Image = dataURI(image.Data)
		} else {
			body.Image = image.URL
		}
	}

	var msg chat.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(partnerID), body, &msg); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// dataURI labels data with the same detector the server validates with.
func dataURI(data []byte) string {
	return "data:" + mimetype.Detect(data).String() + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error, Err: sentinelFor(payload.Error)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
