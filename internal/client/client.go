package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client is a thin JSON client for the board API. It is safe for concurrent
// use; calls made from different goroutines may reach the server in any
// order.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login signs in by display name and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, name string) (Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/api/session/login", map[string]string{"name": name}, &session); err != nil {
		return Session{}, err
	}
	c.mu.Lock()
	c.token = session.Token
	c.mu.Unlock()
	return session, nil
}

func (c *Client) Boards(ctx context.Context) ([]Board, error) {
	var out struct {
		Boards []Board `json:"boards"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/boards", nil, &out); err != nil {
		return nil, err
	}
	return out.Boards, nil
}

func (c *Client) CreateBoard(ctx context.Context, name string, columns []string) (Board, error) {
	var out struct {
		Board Board `json:"board"`
	}
	body := map[string]any{"name": name, "columns": columns}
	if err := c.do(ctx, http.MethodPost, "/api/boards", body, &out); err != nil {
		return Board{}, err
	}
	return out.Board, nil
}

// Board fetches a board with its ordered columns and cards.
func (c *Client) Board(ctx context.Context, boardID string) (Board, error) {
	var out struct {
		Board Board `json:"board"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID), nil, &out); err != nil {
		return Board{}, err
	}
	return out.Board, nil
}

// Cards lists a board's cards. filter accepts q, priority, creator, column
// and archived.
func (c *Client) Cards(ctx context.Context, boardID string, filter url.Values) ([]Card, error) {
	path := "/api/boards/" + url.PathEscape(boardID) + "/cards"
	if encoded := filter.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out struct {
		Cards []Card `json:"cards"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Cards, nil
}

func (c *Client) CreateCard(ctx context.Context, req CreateCardRequest) (Card, error) {
	var out struct {
		Card Card `json:"card"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/cards", req, &out); err != nil {
		return Card{}, err
	}
	return out.Card, nil
}

// MoveCard calls the move RPC.
func (c *Client) MoveCard(ctx context.Context, req MoveRequest) (MoveResult, error) {
	var out struct {
		Success bool `json:"success"`
		MoveResult
	}
	if err := c.do(ctx, http.MethodPost, "/api/cards/reorder", req, &out); err != nil {
		return MoveResult{}, err
	}
	if !out.Success {
		return MoveResult{}, &APIError{Status: http.StatusOK, Code: "UNEXPECTED_RESPONSE", Message: "move response without success"}
	}
	return out.MoveResult, nil
}

func (c *Client) ToggleVote(ctx context.Context, cardID string) (VoteResult, error) {
	var out VoteResult
	if err := c.do(ctx, http.MethodPost, "/api/cards/"+url.PathEscape(cardID)+"/vote", nil, &out); err != nil {
		return VoteResult{}, err
	}
	return out, nil
}

func (c *Client) Integrity(ctx context.Context, boardID string) (IntegrityReport, error) {
	var out IntegrityReport
	if err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID)+"/integrity", nil, &out); err != nil {
		return IntegrityReport{}, err
	}
	return out, nil
}

// Repair renumbers every column of a board and returns how many cards moved.
func (c *Client) Repair(ctx context.Context, boardID string) (int, error) {
	var out struct {
		Repaired int `json:"repaired"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/repair", nil, &out); err != nil {
		return 0, err
	}
	return out.Repaired, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: strings.TrimSpace(string(raw))}
	}
	return &APIError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Error}
}
