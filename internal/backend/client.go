// Package backend is the REST client for the companion backend: history,
// companion listing, creation and deletion.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/companion/internal/config"
	"github.com/zhouzirui/z-tavern/companion/internal/model/chat"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
)

// ErrAPI wraps responses whose envelope code is not CodeOK.
var ErrAPI = errors.New("backend api error")

const (
	headerUserID = "x-user-id"
	headerToken  = "x-token"
)

// Client 后端接口客户端
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a client for cfg.BaseURL.
func NewClient(cfg config.BackendConfig, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", cfg.BaseURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("backend"),
	}, nil
}

// History fetches the persisted conversation for a pair in server order.
func (c *Client) History(ctx context.Context, userID, companionID string) ([]chat.Message, error) {
	query := url.Values{"user_id": {userID}, "lover_id": {companionID}}

	var items []MessageDTO
	if err := c.do(ctx, http.MethodGet, "lovers/history", query, userID, nil, &items); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	messages := make([]chat.Message, 0, len(items))
	for _, item := range items {
		msg := item.ToMessage()
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		messages = append(messages, msg)
	}

	c.logger.Debug("history fetched", zap.String("companion", companionID), zap.Int("count", len(messages)))
	return messages, nil
}

// ListCompanions 获取用户的全部伴侣
func (c *Client) ListCompanions(ctx context.Context, userID string) ([]companion.Profile, error) {
	var items []ProfileDTO
	if err := c.do(ctx, http.MethodGet, "lovers/list", url.Values{"user_id": {userID}}, userID, nil, &items); err != nil {
		return nil, fmt.Errorf("list companions: %w", err)
	}

	profiles := make([]companion.Profile, 0, len(items))
	for _, item := range items {
		profiles = append(profiles, item.ToProfile())
	}
	return profiles, nil
}

// CreateCompanion 创建伴侣
func (c *Client) CreateCompanion(ctx context.Context, req CreateRequest) (companion.Profile, error) {
	var created ProfileDTO
	if err := c.do(ctx, http.MethodPost, "lovers/create", nil, req.UserID, req, &created); err != nil {
		return companion.Profile{}, fmt.Errorf("create companion: %w", err)
	}
	return created.ToProfile(), nil
}

// DeleteCompanion 删除伴侣
func (c *Client) DeleteCompanion(ctx context.Context, userID, companionID string) error {
	body := PairRequest{UserID: userID, LoverID: companionID}
	if err := c.do(ctx, http.MethodPost, "lovers/delete", nil, userID, body, nil); err != nil {
		return fmt.Errorf("delete companion: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, userID string, body, out any) error {
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: path})
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	if c.token != "" {
		req.Header.Set(headerToken, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if env.Code != CodeOK {
		c.logger.Warn("api error", zap.String("path", path), zap.Int("code", env.Code), zap.String("message", env.Message))
		return fmt.Errorf("%w: code %d: %s", ErrAPI, env.Code, env.Message)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
