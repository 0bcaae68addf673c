// Package backend is the typed chat API client. Every call goes through
// the request pipeline, so it inherits retries and failure notifications.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/pipeline"
)

// API paths relative to the versioned root.
const (
	PathDepartments = "/departments"
	PathMessages    = "/messages"
)

// Sender is the part of the pipeline the client needs.
type Sender interface {
	Send(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Client talks to the chat API.
type Client struct {
	sender Sender
}

// NewClient wraps a pipeline.
func NewClient(sender Sender) *Client {
	return &Client{sender: sender}
}

// ListDepartments returns the departments the user can chat with.
func (c *Client) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	res, err := c.sender.Send(ctx, pipeline.Request{Method: http.MethodGet, Path: PathDepartments})
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	var out []domain.Department
	if err := decodeList(res.Body, &out); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return out, nil
}

// FetchMessages returns the history for departmentID, newest first.
func (c *Client) FetchMessages(ctx context.Context, departmentID domain.ID) ([]*domain.Message, error) {
	q := url.Values{}
	q.Set("departmentId", departmentID.String())
	req := pipeline.Request{Method: http.MethodGet, Path: PathMessages + "?" + q.Encode()}

	res, err := c.sender.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", departmentID, err)
	}
	var out []*domain.Message
	if err := decodeList(res.Body, &out); err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", departmentID, err)
	}
	return out, nil
}

// PostMessage sends m through the HTTP API.
func (c *Client) PostMessage(ctx context.Context, m *domain.Message) error {
	req, err := pipeline.NewJSONRequest(http.MethodPost, PathMessages, m)
	if err != nil {
		return err
	}
	if _, err := c.sender.Send(ctx, req); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// decodeList accepts a bare JSON array or an object wrapping it in "data".
func decodeList(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil
	}
	if body[0] == '{' {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		body = envelope.Data
		if len(body) == 0 {
			return nil
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
