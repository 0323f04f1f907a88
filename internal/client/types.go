// Package client talks to the idea board API and keeps an optimistic local
// projection of board state.
package client

import (
	"fmt"
	"time"
)

type Card struct {
	ID           string    `json:"id"`
	BoardID      string    `json:"board_id"`
	ColumnID     string    `json:"column_id"`
	CreatorID    string    `json:"creator_id"`
	Title        string    `json:"title"`
	Description  *string   `json:"description"`
	Position     int       `json:"position"`
	Priority     string    `json:"priority"`
	Status       string    `json:"status"`
	Tags         []string  `json:"tags"`
	VoteCount    int       `json:"vote_count"`
	CommentCount int       `json:"comment_count"`
	UserHasVoted bool      `json:"user_has_voted"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Column is a board lane with its active cards sorted by position.
type Column struct {
	ID        string `json:"id"`
	BoardID   string `json:"board_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Position  int    `json:"position"`
	CardLimit *int   `json:"card_limit"`
	Version   int64  `json:"version"`
	Cards     []Card `json:"cards"`
}

type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Columns     []Column  `json:"columns"`
}

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type Session struct {
	Token     string `json:"token"`
	User      User   `json:"user"`
	ExpiresAt string `json:"expiresAt"`
}

type CreateCardRequest struct {
	ColumnID    string   `json:"columnId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// MoveRequest is the body of the move RPC. Nil fields keep the card's
// current column or position.
type MoveRequest struct {
	CardID        string  `json:"cardId"`
	NewColumnID   *string `json:"newColumnId,omitempty"`
	NewPosition   *int    `json:"newPosition,omitempty"`
	ColumnVersion *int64  `json:"columnVersion,omitempty"`
}

type MoveResult struct {
	Card           Card             `json:"data"`
	ColumnVersions map[string]int64 `json:"columnVersions"`
	NoOp           bool             `json:"noop"`
}

type VoteResult struct {
	Action       string `json:"action"`
	VoteCount    int    `json:"voteCount"`
	UserHasVoted bool   `json:"userHasVoted"`
}

type Violation struct {
	ColumnID string   `json:"columnId"`
	Position int      `json:"position"`
	Kind     string   `json:"kind"`
	CardIDs  []string `json:"cardIds"`
}

type ColumnIntegrity struct {
	ColumnID   string      `json:"columnId"`
	Name       string      `json:"name"`
	Version    int64       `json:"version"`
	Cards      int         `json:"cards"`
	Violations []Violation `json:"violations"`
}

type IntegrityReport struct {
	BoardID string            `json:"boardId"`
	OK      bool              `json:"ok"`
	Columns []ColumnIntegrity `json:"columns"`
}

// Event is a change notification. Receivers refetch; the payload carries no
// card state.
type Event struct {
	Table   string    `json:"table"`
	Kind    string    `json:"event"`
	BoardID string    `json:"boardId"`
	CardID  string    `json:"cardId,omitempty"`
	At      time.Time `json:"at"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}
