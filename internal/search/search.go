package search

import "context"

// Result is a single card hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text            string
	BoardID         string // empty = every board
	Priority        string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push cards into a search index.
type Indexer interface {
	IndexCard(card CardRecord) error
	IndexCards(cards []CardRecord) error
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID          string   `json:"id"`
	BoardID     string   `json:"boardId"`
	ColumnID    string   `json:"columnId"`
	CreatorID   string   `json:"creatorId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags"`
}

func normalize(q Query) Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
