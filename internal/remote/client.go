package remote

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

	"github.com/hpungsan/switchboard/internal/capability"
)

// Client is a JSON-over-HTTP Source.
//
// Routes:
//
//	GET    /assistants/{id}/tools          -> {"tools": [...]}
//	POST   /assistants/{id}/tools          -> {"added": bool, "name": "..."}
//	DELETE /assistants/{id}/tools/{name}
//	PUT    /assistants/{id}/tools          -> {"added": [...], "removed": [...]}
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	logger *slog.Logger
}

// NewClient creates a client. A zero timeout means 10 seconds.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   strings.TrimSpace(token),
		HTTP:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type toolsBody struct {
	Tools []string `json:"tools"`
}

type addBody struct {
	CapabilityID string `json:"capability_id"`
	Name         string `json:"name"`
}

// ListActive implements Source.
func (c *Client) ListActive(ctx context.Context, assistantID string) ([]string, error) {
	var out toolsBody
	if err := c.do(ctx, http.MethodGet, toolsPath(assistantID), nil, &out); err != nil {
		return nil, err
	}
	if out.Tools == nil {
		out.Tools = []string{}
	}
	return out.Tools, nil
}

// AddOne implements Source.
func (c *Client) AddOne(ctx context.Context, assistantID string, item capability.Capability) (AddResult, error) {
	body := addBody{CapabilityID: item.ID, Name: capability.Canonicalize(item.Name)}
	var out AddResult
	if err := c.do(ctx, http.MethodPost, toolsPath(assistantID), body, &out); err != nil {
		return AddResult{}, err
	}
	if out.Name == "" {
		out.Name = body.Name
	}
	c.logger.Debug("remote add", "assistant_id", assistantID, "name", out.Name, "added", out.Added)
	return out, nil
}

// RemoveByName implements Source.
func (c *Client) RemoveByName(ctx context.Context, assistantID, name string) error {
	err := c.do(ctx, http.MethodDelete, toolsPath(assistantID)+"/"+url.PathEscape(name), nil, nil)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("remote remove of absent name", "assistant_id", assistantID, "name", name)
		return nil
	}
	return err
}

// ReplaceAll implements Source.
func (c *Client) ReplaceAll(ctx context.Context, assistantID string, names []string) (ReplaceResult, error) {
	if names == nil {
		names = []string{}
	}
	var out ReplaceResult
	if err := c.do(ctx, http.MethodPut, toolsPath(assistantID), toolsBody{Tools: names}, &out); err != nil {
		return ReplaceResult{}, err
	}
	if out.Added == nil {
		out.Added = []string{}
	}
	if out.Removed == nil {
		out.Removed = []string{}
	}
	c.logger.Info("remote replace-all", "assistant_id", assistantID, "added", len(out.Added), "removed", len(out.Removed))
	return out, nil
}

func toolsPath(assistantID string) string {
	return "/assistants/" + url.PathEscape(assistantID) + "/tools"
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(raw))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, msg)
		default:
			return fmt.Errorf("remote status=%d body=%s", resp.StatusCode, msg)
		}
	}

	if result == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
