package store

import "time"

const (
	StatusActive   = "active"
	StatusArchived = "archived"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

type Board struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Column is a board lane. Version increases on every reconciliation that
// touches the column's card positions.
type Column struct {
	ID        string
	BoardID   string
	Name      string
	Color     string
	Position  int
	CardLimit *int
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Card struct {
	ID          string
	ColumnID    string
	CreatorID   string
	Title       string
	Description *string
	Position    int
	Priority    string
	Status      string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CardDetails is a card as a viewer sees it, with derived fields computed at
// read time.
type CardDetails struct {
	Card
	BoardID      string
	CreatorName  string
	VoteCount    int
	CommentCount int
	UserHasVoted bool
}

type CardFilter struct {
	Query           string
	Priority        string
	Creator         string
	ColumnID        string
	IncludeArchived bool
}

// CardPatch carries the editable card fields. Nil fields are left unchanged.
type CardPatch struct {
	Title       *string
	Description *string
	Priority    *string
	Tags        []string
	SetTags     bool
}

type MoveInput struct {
	CardID         string
	TargetColumnID string
	TargetPosition *int
	ColumnVersion  *int64
}

type VoteResult struct {
	CardID       string
	BoardID      string
	Action       string
	VoteCount    int
	UserHasVoted bool
}

type Comment struct {
	ID        string
	CardID    string
	UserID    string
	UserName  string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
