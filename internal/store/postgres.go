package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ideaboard/api/internal/reorder"
	"ideaboard/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// CardChange is the outcome of a write that may reposition cards.
type CardChange struct {
	Card    Card
	BoardID string
	// Shifts lists every other card whose position the write changed.
	Shifts []reorder.Update
	// ColumnVersions holds the new version of each column the write touched.
	ColumnVersions map[string]int64
	NoOp           bool
}

type scanner interface {
	Scan(dest ...any) error
}

const cardFields = `c.id, c.column_id, c.creator_id, c.title, c.description, c.position, c.priority, c.status,
	COALESCE(to_json(c.tags)::text, '[]'), c.created_at, c.updated_at`

const columnFields = `id, board_id, name, color, position, card_limit, version, created_at, updated_at`

func scanCard(row scanner, extra ...any) (Card, error) {
	var card Card
	var description sql.NullString
	var tagsJSON string
	dest := []any{
		&card.ID, &card.ColumnID, &card.CreatorID, &card.Title, &description, &card.Position,
		&card.Priority, &card.Status, &tagsJSON, &card.CreatedAt, &card.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Card{}, err
	}
	if description.Valid {
		value := description.String
		card.Description = &value
	}
	card.Tags = []string{}
	if err := json.Unmarshal([]byte(tagsJSON), &card.Tags); err != nil {
		return Card{}, fmt.Errorf("decode tags: %w", err)
	}
	return card, nil
}

func scanColumn(row scanner) (Column, error) {
	var column Column
	var limit sql.NullInt64
	if err := row.Scan(&column.ID, &column.BoardID, &column.Name, &column.Color, &column.Position, &limit, &column.Version, &column.CreatedAt, &column.UpdatedAt); err != nil {
		return Column{}, err
	}
	if limit.Valid {
		value := int(limit.Int64)
		column.CardLimit = &value
	}
	return column, nil
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)
	return string(encoded)
}

// withTx runs fn inside a transaction. Errors returned by fn are passed through
// untouched so domain sentinels survive; fn wraps its own database failures.
func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin " + op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit " + op, Err: err}
	}
	return nil
}

// Users

// EnsureUserByName returns the user with the given display name, creating it
// on first login. The very first user of an installation becomes admin.
func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, role)
		VALUES ($1, $2, CASE WHEN EXISTS (SELECT 1 FROM users) THEN 'member' ELSE 'admin' END)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, role, created_at
	`, util.NewID(""), name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, wrapErr("upsert user", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, wrapErr("get user", err)
	}
	return user, nil
}

// Boards

func (s *PostgresStore) ListBoards(ctx context.Context) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM boards
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, wrapErr("list boards", err)
	}
	defer rows.Close()

	boards := make([]Board, 0)
	for rows.Next() {
		var board Board
		if err := rows.Scan(&board.ID, &board.Name, &board.Description, &board.CreatedBy, &board.CreatedAt, &board.UpdatedAt); err != nil {
			return nil, wrapErr("scan board", err)
		}
		boards = append(boards, board)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate boards", err)
	}
	return boards, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM boards WHERE id=$1
	`, boardID).Scan(&board.ID, &board.Name, &board.Description, &board.CreatedBy, &board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		return Board{}, wrapErr("get board", err)
	}
	return board, nil
}

// InsertBoard creates a board together with its initial columns, in order.
func (s *PostgresStore) InsertBoard(ctx context.Context, board Board, columnNames []string) (Board, []Column, error) {
	columns := make([]Column, 0, len(columnNames))
	err := s.withTx(ctx, "insert board", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO boards (id, name, description, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at
		`, board.ID, board.Name, board.Description, board.CreatedBy).Scan(&board.CreatedAt, &board.UpdatedAt)
		if err != nil {
			return wrapErr("insert board", err)
		}
		for i, name := range columnNames {
			column, err := scanColumn(tx.QueryRowContext(ctx, `
				INSERT INTO board_columns (id, board_id, name, position)
				VALUES ($1, $2, $3, $4)
				RETURNING `+columnFields,
				util.NewID(""), board.ID, name, i))
			if err != nil {
				return wrapErr("insert board column", err)
			}
			columns = append(columns, column)
		}
		return nil
	})
	if err != nil {
		return Board{}, nil, err
	}
	return board, columns, nil
}

// Columns

func (s *PostgresStore) ListColumns(ctx context.Context, boardID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columnFields+` FROM board_columns WHERE board_id=$1 ORDER BY position ASC, id ASC`, boardID)
	if err != nil {
		return nil, wrapErr("list columns", err)
	}
	defer rows.Close()

	columns := make([]Column, 0)
	for rows.Next() {
		column, err := scanColumn(rows)
		if err != nil {
			return nil, wrapErr("scan column", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate columns", err)
	}
	return columns, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	column, err := scanColumn(s.db.QueryRowContext(ctx, `SELECT `+columnFields+` FROM board_columns WHERE id=$1`, columnID))
	if err != nil {
		return Column{}, wrapErr("get column", err)
	}
	return column, nil
}

// InsertColumn appends a column to the board's column order.
func (s *PostgresStore) InsertColumn(ctx context.Context, column Column) (Column, error) {
	err := s.withTx(ctx, "insert column", func(tx *sql.Tx) error {
		var boardID string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM boards WHERE id=$1 FOR UPDATE`, column.BoardID).Scan(&boardID); err != nil {
			return wrapErr("lock board", err)
		}
		var limit any
		if column.CardLimit != nil {
			limit = *column.CardLimit
		}
		inserted, err := scanColumn(tx.QueryRowContext(ctx, `
			INSERT INTO board_columns (id, board_id, name, color, position, card_limit)
			VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(position) + 1, 0) FROM board_columns WHERE board_id=$2), $5)
			RETURNING `+columnFields,
			column.ID, column.BoardID, column.Name, column.Color, limit))
		if err != nil {
			return wrapErr("insert column", err)
		}
		column = inserted
		return nil
	})
	if err != nil {
		return Column{}, err
	}
	return column, nil
}

// lockColumns takes row locks on the given columns in id order, so two
// transactions locking overlapping column sets never wait on each other in a
// cycle.
func lockColumns(ctx context.Context, tx *sql.Tx, ids ...string) (map[string]Column, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	sort.Strings(unique)

	columns := make(map[string]Column, len(unique))
	for _, id := range unique {
		column, err := scanColumn(tx.QueryRowContext(ctx, `SELECT `+columnFields+` FROM board_columns WHERE id=$1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("column %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, wrapErr("lock column", err)
		}
		columns[id] = column
	}
	return columns, nil
}

// lockCard locks the card's column (plus any extra columns), then the card.
// Every writer that changes positions takes column locks first, so once they
// are held the card cannot change column underneath us.
func lockCard(ctx context.Context, tx *sql.Tx, cardID string, extraColumns ...string) (Card, map[string]Column, error) {
	var columnID string
	if err := tx.QueryRowContext(ctx, `SELECT column_id FROM cards WHERE id=$1`, cardID).Scan(&columnID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Card{}, nil, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		return Card{}, nil, wrapErr("lookup card", err)
	}
	columns, err := lockColumns(ctx, tx, append([]string{columnID}, extraColumns...)...)
	if err != nil {
		return Card{}, nil, err
	}
	card, err := scanCard(tx.QueryRowContext(ctx, `SELECT `+cardFields+` FROM cards c WHERE c.id=$1 FOR UPDATE`, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, nil, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	if err != nil {
		return Card{}, nil, wrapErr("lock card", err)
	}
	if card.ColumnID != columnID {
		return Card{}, nil, fmt.Errorf("card %s moved concurrently: %w", cardID, ErrStaleColumn)
	}
	return card, columns, nil
}

func activeSlots(ctx context.Context, tx *sql.Tx, columnID string) ([]reorder.Slot, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, position FROM cards
		WHERE column_id=$1 AND status='active'
		ORDER BY position ASC, id ASC
	`, columnID)
	if err != nil {
		return nil, wrapErr("list column slots", err)
	}
	defer rows.Close()

	slots := make([]reorder.Slot, 0)
	for rows.Next() {
		slot := reorder.Slot{ColumnID: columnID}
		if err := rows.Scan(&slot.CardID, &slot.Position); err != nil {
			return nil, wrapErr("scan column slot", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate column slots", err)
	}
	return slots, nil
}

// applyShifts writes the updates in the order given. Each update must find the
// card exactly where the plan expects it; anything else means the column
// changed outside the locks and the transaction is abandoned.
func applyShifts(ctx context.Context, tx *sql.Tx, updates []reorder.Update) error {
	for _, update := range updates {
		result, err := tx.ExecContext(ctx, `
			UPDATE cards SET position=$1
			WHERE id=$2 AND column_id=$3 AND position=$4 AND status='active'
		`, update.Position, update.CardID, update.ColumnID, update.From)
		if err != nil {
			return wrapErr("shift card", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return wrapErr("shift card rows", err)
		}
		if affected != 1 {
			return &StorageError{Op: "shift card", Err: fmt.Errorf("card %s not found at position %d", update.CardID, update.From)}
		}
	}
	return nil
}

func parkCard(ctx context.Context, tx *sql.Tx, cardID string, position int) error {
	if _, err := tx.ExecContext(ctx, `UPDATE cards SET position=$1 WHERE id=$2`, position, cardID); err != nil {
		return wrapErr("park card", err)
	}
	return nil
}

func bumpVersions(ctx context.Context, tx *sql.Tx, columnIDs ...string) (map[string]int64, error) {
	versions := make(map[string]int64, len(columnIDs))
	for _, id := range columnIDs {
		if _, done := versions[id]; done {
			continue
		}
		var version int64
		if err := tx.QueryRowContext(ctx, `
			UPDATE board_columns SET version = version + 1, updated_at = NOW()
			WHERE id=$1 RETURNING version
		`, id).Scan(&version); err != nil {
			return nil, wrapErr("bump column version", err)
		}
		versions[id] = version
	}
	return versions, nil
}

// Cards

// InsertCard appends the card to the end of its column.
func (s *PostgresStore) InsertCard(ctx context.Context, card Card) (CardChange, error) {
	var change CardChange
	err := s.withTx(ctx, "insert card", func(tx *sql.Tx) error {
		columns, err := lockColumns(ctx, tx, card.ColumnID)
		if err != nil {
			return err
		}
		column := columns[card.ColumnID]
		slots, err := activeSlots(ctx, tx, card.ColumnID)
		if err != nil {
			return err
		}
		if column.CardLimit != nil && len(slots) >= *column.CardLimit {
			return fmt.Errorf("column %s holds %d cards: %w", column.ID, len(slots), ErrColumnFull)
		}

		inserted, err := scanCard(tx.QueryRowContext(ctx, `
			INSERT INTO cards AS c (id, column_id, creator_id, title, description, position, priority, tags)
			VALUES ($1, $2, $3, $4, $5, $6, $7, ARRAY(SELECT jsonb_array_elements_text($8::jsonb)))
			RETURNING `+cardFields,
			card.ID, card.ColumnID, card.CreatorID, card.Title, card.Description, reorder.Append(slots), card.Priority, encodeTags(card.Tags)))
		if err != nil {
			return wrapErr("insert card", err)
		}
		versions, err := bumpVersions(ctx, tx, column.ID)
		if err != nil {
			return err
		}
		change = CardChange{Card: inserted, BoardID: column.BoardID, ColumnVersions: versions}
		return nil
	})
	if err != nil {
		return CardChange{}, err
	}
	return change, nil
}

// UpdateCard edits the card's content fields. Position is never touched.
func (s *PostgresStore) UpdateCard(ctx context.Context, cardID string, patch CardPatch) (CardChange, error) {
	var change CardChange
	err := s.withTx(ctx, "update card", func(tx *sql.Tx) error {
		var boardID string
		card, err := scanCard(tx.QueryRowContext(ctx, `
			SELECT `+cardFields+`, col.board_id
			FROM cards c JOIN board_columns col ON col.id = c.column_id
			WHERE c.id=$1 FOR UPDATE OF c
		`, cardID), &boardID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		if err != nil {
			return wrapErr("lock card", err)
		}
		if patch.Title != nil {
			card.Title = *patch.Title
		}
		if patch.Description != nil {
			if *patch.Description == "" {
				card.Description = nil
			} else {
				card.Description = patch.Description
			}
		}
		if patch.Priority != nil {
			card.Priority = *patch.Priority
		}
		if patch.SetTags {
			card.Tags = patch.Tags
		}
		updated, err := scanCard(tx.QueryRowContext(ctx, `
			UPDATE cards AS c
			SET title=$2, description=$3, priority=$4, tags=ARRAY(SELECT jsonb_array_elements_text($5::jsonb)), updated_at=NOW()
			WHERE c.id=$1
			RETURNING `+cardFields,
			card.ID, card.Title, card.Description, card.Priority, encodeTags(card.Tags)))
		if err != nil {
			return wrapErr("update card", err)
		}
		change = CardChange{Card: updated, BoardID: boardID}
		return nil
	})
	if err != nil {
		return CardChange{}, err
	}
	return change, nil
}

// MoveCard reconciles positions for a card move in one transaction: the
// moved card is parked at -1, displaced cards are shifted in the plan's
// collision-free order, then the card takes its final slot.
func (s *PostgresStore) MoveCard(ctx context.Context, input MoveInput) (CardChange, error) {
	var change CardChange
	err := s.withTx(ctx, "move card", func(tx *sql.Tx) error {
		card, columns, err := lockCard(ctx, tx, input.CardID, input.TargetColumnID)
		if err != nil {
			return err
		}
		if card.Status != StatusActive {
			return fmt.Errorf("card %s: %w", card.ID, ErrArchivedCard)
		}
		targetID := input.TargetColumnID
		if targetID == "" {
			targetID = card.ColumnID
		}
		source := columns[card.ColumnID]
		target := columns[targetID]
		if target.BoardID != source.BoardID {
			return fmt.Errorf("column %s: %w", target.ID, ErrCrossBoardMove)
		}
		if input.ColumnVersion != nil && *input.ColumnVersion != target.Version {
			return fmt.Errorf("column %s at version %d, request saw %d: %w", target.ID, target.Version, *input.ColumnVersion, ErrStaleColumn)
		}

		sourceSlots, err := activeSlots(ctx, tx, source.ID)
		if err != nil {
			return err
		}
		destSlots := sourceSlots
		if target.ID != source.ID {
			if destSlots, err = activeSlots(ctx, tx, target.ID); err != nil {
				return err
			}
		}
		plan, err := reorder.ComputeReindex(sourceSlots, destSlots, reorder.Request{
			CardID:         card.ID,
			TargetColumnID: target.ID,
			TargetPosition: input.TargetPosition,
		})
		if err != nil {
			return &StorageError{Op: "plan move", Err: err}
		}

		change.BoardID = source.BoardID
		if plan.NoOp {
			change.Card = card
			change.NoOp = true
			change.Shifts = []reorder.Update{}
			change.ColumnVersions = map[string]int64{source.ID: source.Version}
			return nil
		}
		if plan.CrossColumn() && target.CardLimit != nil && len(destSlots) >= *target.CardLimit {
			return fmt.Errorf("column %s holds %d cards: %w", target.ID, len(destSlots), ErrColumnFull)
		}

		if err := parkCard(ctx, tx, card.ID, -1); err != nil {
			return err
		}
		if err := applyShifts(ctx, tx, plan.Shifts); err != nil {
			return err
		}
		moved, err := scanCard(tx.QueryRowContext(ctx, `
			UPDATE cards AS c SET column_id=$2, position=$3, updated_at=NOW()
			WHERE c.id=$1
			RETURNING `+cardFields,
			card.ID, plan.TargetColumnID, plan.TargetPosition))
		if err != nil {
			return wrapErr("place card", err)
		}
		versions, err := bumpVersions(ctx, tx, source.ID, target.ID)
		if err != nil {
			return err
		}
		change.Card = moved
		change.Shifts = plan.Shifts
		change.ColumnVersions = versions
		return nil
	})
	if err != nil {
		return CardChange{}, err
	}
	return change, nil
}

// ArchiveCard takes the card out of its column's ranking and closes the gap.
// Archiving an archived card is a no-op.
func (s *PostgresStore) ArchiveCard(ctx context.Context, cardID string) (CardChange, error) {
	var change CardChange
	err := s.withTx(ctx, "archive card", func(tx *sql.Tx) error {
		card, columns, err := lockCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		column := columns[card.ColumnID]
		change.BoardID = column.BoardID
		if card.Status == StatusArchived {
			change.Card = card
			change.NoOp = true
			return nil
		}
		slots, err := activeSlots(ctx, tx, column.ID)
		if err != nil {
			return err
		}
		shifts, err := reorder.Removal(slots, card.ID)
		if err != nil {
			return &StorageError{Op: "plan archive", Err: err}
		}
		archived, err := scanCard(tx.QueryRowContext(ctx, `
			UPDATE cards AS c SET status='archived', updated_at=NOW()
			WHERE c.id=$1
			RETURNING `+cardFields, card.ID))
		if err != nil {
			return wrapErr("archive card", err)
		}
		if err := applyShifts(ctx, tx, shifts); err != nil {
			return err
		}
		versions, err := bumpVersions(ctx, tx, column.ID)
		if err != nil {
			return err
		}
		change.Card = archived
		change.Shifts = shifts
		change.ColumnVersions = versions
		return nil
	})
	if err != nil {
		return CardChange{}, err
	}
	return change, nil
}

// RestoreCard reactivates an archived card at the end of its column.
func (s *PostgresStore) RestoreCard(ctx context.Context, cardID string) (CardChange, error) {
	var change CardChange
	err := s.withTx(ctx, "restore card", func(tx *sql.Tx) error {
		card, columns, err := lockCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		column := columns[card.ColumnID]
		change.BoardID = column.BoardID
		if card.Status == StatusActive {
			change.Card = card
			change.NoOp = true
			return nil
		}
		slots, err := activeSlots(ctx, tx, column.ID)
		if err != nil {
			return err
		}
		if column.CardLimit != nil && len(slots) >= *column.CardLimit {
			return fmt.Errorf("column %s holds %d cards: %w", column.ID, len(slots), ErrColumnFull)
		}
		restored, err := scanCard(tx.QueryRowContext(ctx, `
			UPDATE cards AS c SET status='active', position=$2, updated_at=NOW()
			WHERE c.id=$1
			RETURNING `+cardFields, card.ID, reorder.Append(slots)))
		if err != nil {
			return wrapErr("restore card", err)
		}
		versions, err := bumpVersions(ctx, tx, column.ID)
		if err != nil {
			return err
		}
		change.Card = restored
		change.Shifts = []reorder.Update{}
		change.ColumnVersions = versions
		return nil
	})
	if err != nil {
		return CardChange{}, err
	}
	return change, nil
}

const detailFields = `col.board_id, u.display_name,
	(SELECT COUNT(*)::int FROM votes v WHERE v.card_id = c.id),
	(SELECT COUNT(*)::int FROM comments cm WHERE cm.card_id = c.id),
	EXISTS (SELECT 1 FROM votes v WHERE v.card_id = c.id AND v.user_id = $2)`

// GetCardDetails returns one card with its derived fields for viewerID.
func (s *PostgresStore) GetCardDetails(ctx context.Context, cardID, viewerID string) (CardDetails, error) {
	var details CardDetails
	card, err := scanCard(s.db.QueryRowContext(ctx, `
		SELECT `+cardFields+`, `+detailFields+`
		FROM cards c
		JOIN board_columns col ON col.id = c.column_id
		JOIN users u ON u.id = c.creator_id
		WHERE c.id=$1
	`, cardID, viewerID), &details.BoardID, &details.CreatorName, &details.VoteCount, &details.CommentCount, &details.UserHasVoted)
	if err != nil {
		return CardDetails{}, wrapErr("get card", err)
	}
	details.Card = card
	return details, nil
}

// ListCards returns a board's cards ordered by column then position, with
// vote_count, comment_count and user_has_voted computed for viewerID. The
// counts come from the same statement as the cards so they share a snapshot.
func (s *PostgresStore) ListCards(ctx context.Context, boardID, viewerID string, filter CardFilter) ([]CardDetails, error) {
	where := []string{"col.board_id = $1"}
	args := []any{boardID, viewerID}
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.IncludeArchived {
		where = append(where, "c.status = 'active'")
	}
	if query := strings.TrimSpace(filter.Query); query != "" {
		placeholder := next("%" + query + "%")
		where = append(where, fmt.Sprintf("(c.title ILIKE %s OR COALESCE(c.description, '') ILIKE %s)", placeholder, placeholder))
	}
	if filter.Priority != "" {
		where = append(where, "c.priority = "+next(filter.Priority))
	}
	if creator := strings.TrimSpace(filter.Creator); creator != "" {
		placeholder := next(creator)
		where = append(where, fmt.Sprintf("(c.creator_id = %s OR u.display_name ILIKE %s)", placeholder, placeholder))
	}
	if filter.ColumnID != "" {
		where = append(where, "c.column_id = "+next(filter.ColumnID))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardFields+`, `+detailFields+`
		FROM cards c
		JOIN board_columns col ON col.id = c.column_id
		JOIN users u ON u.id = c.creator_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY col.position ASC, c.status ASC, c.position ASC, c.id ASC
	`, args...)
	if err != nil {
		return nil, wrapErr("list cards", err)
	}
	defer rows.Close()

	cards := make([]CardDetails, 0)
	for rows.Next() {
		var details CardDetails
		card, err := scanCard(rows, &details.BoardID, &details.CreatorName, &details.VoteCount, &details.CommentCount, &details.UserHasVoted)
		if err != nil {
			return nil, wrapErr("scan card", err)
		}
		details.Card = card
		cards = append(cards, details)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate cards", err)
	}
	return cards, nil
}

// Votes

// ToggleVote removes the user's vote when present and adds it otherwise.
// Toggles on the same card run one at a time.
func (s *PostgresStore) ToggleVote(ctx context.Context, cardID, userID string) (VoteResult, error) {
	result := VoteResult{CardID: cardID}
	err := s.withTx(ctx, "toggle vote", func(tx *sql.Tx) error {
		// The card row lock serializes toggles on one card, so two concurrent
		// toggles by the same user cannot both insert.
		err := tx.QueryRowContext(ctx, `
			SELECT col.board_id
			FROM cards c JOIN board_columns col ON col.id = c.column_id
			WHERE c.id=$1
			FOR UPDATE OF c
		`, cardID).Scan(&result.BoardID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		if err != nil {
			return wrapErr("lookup card", err)
		}

		deleted, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE card_id=$1 AND user_id=$2`, cardID, userID)
		if err != nil {
			return wrapErr("delete vote", err)
		}
		affected, err := deleted.RowsAffected()
		if err != nil {
			return wrapErr("delete vote rows", err)
		}
		if affected > 0 {
			result.Action = "removed"
		} else {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO votes (card_id, user_id) VALUES ($1, $2)
				ON CONFLICT (card_id, user_id) DO NOTHING
			`, cardID, userID); err != nil {
				return wrapErr("insert vote", err)
			}
			result.Action = "added"
			result.UserHasVoted = true
		}

		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*)::int FROM votes WHERE card_id=$1`, cardID).Scan(&result.VoteCount); err != nil {
			return wrapErr("count votes", err)
		}
		return nil
	})
	if err != nil {
		return VoteResult{}, err
	}
	return result, nil
}

// Comments

func (s *PostgresStore) ListComments(ctx context.Context, cardID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cm.id, cm.card_id, cm.user_id, u.display_name, cm.content, cm.created_at, cm.updated_at
		FROM comments cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.card_id=$1
		ORDER BY cm.created_at ASC, cm.id ASC
	`, cardID)
	if err != nil {
		return nil, wrapErr("list comments", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.CardID, &comment.UserID, &comment.UserName, &comment.Content, &comment.CreatedAt, &comment.UpdatedAt); err != nil {
			return nil, wrapErr("scan comment", err)
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate comments", err)
	}
	return comments, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO comments (id, card_id, user_id, content)
			VALUES ($1, $2, $3, $4)
			RETURNING id, card_id, user_id, content, created_at, updated_at
		)
		SELECT i.id, i.card_id, i.user_id, u.display_name, i.content, i.created_at, i.updated_at
		FROM inserted i JOIN users u ON u.id = i.user_id
	`, comment.ID, comment.CardID, comment.UserID, comment.Content).
		Scan(&comment.ID, &comment.CardID, &comment.UserID, &comment.UserName, &comment.Content, &comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		return Comment{}, wrapErr("insert comment", err)
	}
	return comment, nil
}

// Integrity

// BoardSlots returns the board's columns and the active card slots of each.
func (s *PostgresStore) BoardSlots(ctx context.Context, boardID string) ([]Column, map[string][]reorder.Slot, error) {
	columns, err := s.ListColumns(ctx, boardID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.column_id, c.position
		FROM cards c JOIN board_columns col ON col.id = c.column_id
		WHERE col.board_id=$1 AND c.status='active'
		ORDER BY c.column_id ASC, c.position ASC, c.id ASC
	`, boardID)
	if err != nil {
		return nil, nil, wrapErr("list board slots", err)
	}
	defer rows.Close()

	slots := make(map[string][]reorder.Slot, len(columns))
	for _, column := range columns {
		slots[column.ID] = []reorder.Slot{}
	}
	for rows.Next() {
		var slot reorder.Slot
		if err := rows.Scan(&slot.CardID, &slot.ColumnID, &slot.Position); err != nil {
			return nil, nil, wrapErr("scan board slot", err)
		}
		slots[slot.ColumnID] = append(slots[slot.ColumnID], slot)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapErr("iterate board slots", err)
	}
	return columns, slots, nil
}

// RepairBoard renumbers every column of the board to 0..n-1, keeping the
// current relative order. Cards that move are first parked on distinct
// positions below every existing one so the final writes cannot collide.
func (s *PostgresStore) RepairBoard(ctx context.Context, boardID string) ([]reorder.Update, error) {
	repaired := make([]reorder.Update, 0)
	err := s.withTx(ctx, "repair board", func(tx *sql.Tx) error {
		var id string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM boards WHERE id=$1`, boardID).Scan(&id); err != nil {
			return wrapErr("get board", err)
		}
		rows, err := tx.QueryContext(ctx, `SELECT id FROM board_columns WHERE board_id=$1 ORDER BY id FOR UPDATE`, boardID)
		if err != nil {
			return wrapErr("lock board columns", err)
		}
		columnIDs := make([]string, 0)
		for rows.Next() {
			var columnID string
			if err := rows.Scan(&columnID); err != nil {
				rows.Close()
				return wrapErr("scan board column", err)
			}
			columnIDs = append(columnIDs, columnID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return wrapErr("iterate board columns", err)
		}

		for _, columnID := range columnIDs {
			slots, err := activeSlots(ctx, tx, columnID)
			if err != nil {
				return err
			}
			updates := reorder.Normalize(slots)
			if len(updates) == 0 {
				continue
			}
			floor := 0
			for _, slot := range slots {
				if slot.Position < floor {
					floor = slot.Position
				}
			}
			for i, update := range updates {
				if err := parkCard(ctx, tx, update.CardID, floor-(i+1)); err != nil {
					return err
				}
			}
			for _, update := range updates {
				if _, err := tx.ExecContext(ctx, `UPDATE cards SET position=$1 WHERE id=$2`, update.Position, update.CardID); err != nil {
					return wrapErr("renumber card", err)
				}
			}
			if _, err := bumpVersions(ctx, tx, columnID); err != nil {
				return err
			}
			repaired = append(repaired, updates...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repaired, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
