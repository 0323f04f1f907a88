package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks cards by ts_rank over the generated fts column and builds
// snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalize(q)

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := []string{"c.fts @@ " + tsQuery}
	if q.BoardID != "" {
		args = append(args, q.BoardID)
		where = append(where, fmt.Sprintf("col.board_id = $%d", len(args)))
	}
	if q.Priority != "" {
		args = append(args, q.Priority)
		where = append(where, fmt.Sprintf("c.priority = $%d", len(args)))
	}
	if !q.IncludeArchived {
		where = append(where, "c.status = 'active'")
	}
	from := `
		FROM cards c
		JOIN board_columns col ON col.id = c.column_id
		WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*)"+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, col.board_id, c.column_id, c.title,
			ts_headline('english', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			c.priority, c.status
		%s
		ORDER BY ts_rank(c.fts, %s) DESC, c.id ASC
		LIMIT %d OFFSET %d`, tsQuery, from, tsQuery, q.Limit, q.Offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.BoardID, &r.ColumnID, &r.Title, &r.Snippet, &r.Priority, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every card for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CardRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, col.board_id, c.column_id, c.creator_id, c.title, coalesce(c.description, ''),
			c.priority, c.status, COALESCE(to_json(c.tags)::text, '[]')
		FROM cards c
		JOIN board_columns col ON col.id = c.column_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	defer rows.Close()

	cards := make([]CardRecord, 0)
	for rows.Next() {
		var card CardRecord
		var tags string
		if err := rows.Scan(&card.ID, &card.BoardID, &card.ColumnID, &card.CreatorID, &card.Title, &card.Description, &card.Priority, &card.Status, &tags); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &card.Tags); err != nil {
			return nil, fmt.Errorf("decode card tags: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}
