package client

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"ideaboard/api/internal/reorder"
)

const (
	cardsPrefix   = "cards:"
	columnsPrefix = "columns:"
)

// CardsKey names the unfiltered card list of a board.
func CardsKey(boardID string) string {
	return cardsPrefix + boardID
}

// FilteredCardsKey names a filtered card list. An empty filter is the
// unfiltered list.
func FilteredCardsKey(boardID string, filter url.Values) string {
	if encoded := filter.Encode(); encoded != "" {
		return CardsKey(boardID) + "?" + encoded
	}
	return CardsKey(boardID)
}

// ColumnsKey names the column view of a board.
func ColumnsKey(boardID string) string {
	return columnsPrefix + boardID
}

// parseKey splits a cache key into its board id and, for card lists, the
// filter.
func parseKey(key string) (boardID string, filter url.Values, columns bool) {
	if strings.HasPrefix(key, columnsPrefix) {
		return strings.TrimPrefix(key, columnsPrefix), nil, true
	}
	rest := strings.TrimPrefix(key, cardsPrefix)
	boardID, query, _ := strings.Cut(rest, "?")
	filter, _ = url.ParseQuery(query)
	return boardID, filter, false
}

// Cache holds the client's views of board state. Card lists and column views
// carry the same position values; the projector rewrites them together.
// Every write to a board's views bumps that board's generation.
type Cache struct {
	mu      sync.Mutex
	lists   map[string][]Card
	columns map[string][]Column
	stale   map[string]bool
	gens    map[string]uint64
}

func NewCache() *Cache {
	return &Cache{
		lists:   map[string][]Card{},
		columns: map[string][]Column{},
		stale:   map[string]bool{},
		gens:    map[string]uint64{},
	}
}

func (c *Cache) touchLocked(boardID string) {
	c.gens[boardID]++
}

func (c *Cache) SetCards(key string, cards []Card) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[key] = cloneCards(cards)
	delete(c.stale, key)
	boardID, _, _ := parseKey(key)
	c.touchLocked(boardID)
}

func (c *Cache) Cards(key string) ([]Card, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cards, ok := c.lists[key]
	return cloneCards(cards), ok
}

// SetColumns stores a board's column view with every column's cards sorted
// by position.
func (c *Cache) SetColumns(boardID string, columns []Column) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cloned := cloneColumns(columns)
	for i := range cloned {
		sortByPosition(cloned[i].Cards)
	}
	c.columns[boardID] = cloned
	delete(c.stale, ColumnsKey(boardID))
	c.touchLocked(boardID)
}

func (c *Cache) Columns(boardID string) ([]Column, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	columns, ok := c.columns[boardID]
	return cloneColumns(columns), ok
}

// MarkBoardStale flags every view of a board for refetch.
func (c *Cache) MarkBoardStale(boardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markStaleLocked(boardID)
}

func (c *Cache) markStaleLocked(boardID string) {
	for _, key := range c.keysLocked(boardID) {
		c.stale[key] = true
	}
}

func (c *Cache) Stale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale[key]
}

// StaleKeys returns the stale views of a board in sorted order.
func (c *Cache) StaleKeys(boardID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0)
	for _, key := range c.keysLocked(boardID) {
		if c.stale[key] {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *Cache) keysLocked(boardID string) []string {
	keys := make([]string, 0, len(c.lists)+1)
	for key := range c.lists {
		if owner, _, _ := parseKey(key); owner == boardID {
			keys = append(keys, key)
		}
	}
	if _, ok := c.columns[boardID]; ok {
		keys = append(keys, ColumnsKey(boardID))
	}
	sort.Strings(keys)
	return keys
}

// snapshot is a deep copy of every view of one board.
type snapshot struct {
	boardID    string
	lists      map[string][]Card
	columns    []Column
	hasColumns bool
	stale      map[string]bool
}

func (c *Cache) snapshotLocked(boardID string) snapshot {
	snap := snapshot{boardID: boardID, lists: map[string][]Card{}, stale: map[string]bool{}}
	for _, key := range c.keysLocked(boardID) {
		if list, ok := c.lists[key]; ok {
			snap.lists[key] = cloneCards(list)
		}
		if c.stale[key] {
			snap.stale[key] = true
		}
	}
	if columns, ok := c.columns[boardID]; ok {
		snap.columns = cloneColumns(columns)
		snap.hasColumns = true
	}
	return snap
}

// restoreLocked puts every view of the snapshot's board back verbatim.
func (c *Cache) restoreLocked(snap snapshot) {
	for _, key := range c.keysLocked(snap.boardID) {
		delete(c.lists, key)
		delete(c.stale, key)
	}
	delete(c.columns, snap.boardID)
	for key, list := range snap.lists {
		c.lists[key] = cloneCards(list)
	}
	if snap.hasColumns {
		c.columns[snap.boardID] = cloneColumns(snap.columns)
	}
	for key := range snap.stale {
		c.stale[key] = true
	}
	c.touchLocked(snap.boardID)
}

// project snapshots a board's views and runs fn over them under one lock. It
// returns the snapshot and the board's generation after fn. fn runs with the
// lock held and must leave the views untouched when it fails.
func (c *Cache) project(boardID string, fn func() error) (snapshot, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshotLocked(boardID)
	if err := fn(); err != nil {
		return snapshot{}, 0, err
	}
	return snap, c.gens[boardID], nil
}

// rollback undoes a projection. While the board's generation still equals
// gen the snapshot goes back verbatim. Once anything else has written the
// board, undo reverts only the projection's own change and every view of the
// board is marked stale. undo runs with the lock held. It reports whether the
// snapshot was restored.
func (c *Cache) rollback(snap snapshot, gen uint64, undo func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[snap.boardID] == gen {
		c.restoreLocked(snap)
		return true
	}
	undo()
	c.markStaleLocked(snap.boardID)
	return false
}

// locate finds a cached card and the board it belongs to.
func (c *Cache) locate(cardID string) (string, Card, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for boardID, columns := range c.columns {
		for _, column := range columns {
			for _, card := range column.Cards {
				if card.ID == cardID {
					return boardID, card, true
				}
			}
		}
	}
	for key, list := range c.lists {
		for _, card := range list {
			if card.ID == cardID {
				boardID, _, _ := parseKey(key)
				return boardID, card, true
			}
		}
	}
	return "", Card{}, false
}

// cardLocked finds a card among one board's views, column view first.
func (c *Cache) cardLocked(boardID, cardID string) (Card, bool) {
	for _, column := range c.columns[boardID] {
		for _, card := range column.Cards {
			if card.ID == cardID {
				return card, true
			}
		}
	}
	for _, key := range c.keysLocked(boardID) {
		for _, card := range c.lists[key] {
			if card.ID == cardID {
				return card, true
			}
		}
	}
	return Card{}, false
}

// planLocked resolves req against the board's cached columns.
func (c *Cache) planLocked(boardID string, req reorder.Request) (reorder.Plan, error) {
	card, ok := c.cardLocked(boardID, req.CardID)
	if !ok {
		return reorder.Plan{}, fmt.Errorf("card %s: %w", req.CardID, ErrCardNotCached)
	}
	source, ok := c.slotsLocked(boardID, card.ColumnID)
	if !ok {
		return reorder.Plan{}, fmt.Errorf("column %s: %w", card.ColumnID, ErrCardNotCached)
	}
	var dest []reorder.Slot
	if req.TargetColumnID != "" && req.TargetColumnID != card.ColumnID {
		dest, _ = c.slotsLocked(boardID, req.TargetColumnID)
	}
	return reorder.ComputeReindex(source, dest, req)
}

// slots returns the active cards of one column. The column view is
// authoritative when cached, then the unfiltered card list. ok is false when
// neither is cached.
func (c *Cache) slots(boardID, columnID string) ([]reorder.Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slotsLocked(boardID, columnID)
}

func (c *Cache) slotsLocked(boardID, columnID string) ([]reorder.Slot, bool) {
	if columns, ok := c.columns[boardID]; ok {
		out := make([]reorder.Slot, 0)
		for _, column := range columns {
			if column.ID != columnID {
				continue
			}
			for _, card := range column.Cards {
				if card.Status == "" || card.Status == "active" {
					out = append(out, reorder.Slot{CardID: card.ID, ColumnID: columnID, Position: card.Position})
				}
			}
		}
		return out, true
	}
	if list, ok := c.lists[CardsKey(boardID)]; ok {
		out := make([]reorder.Slot, 0)
		for _, card := range list {
			if card.ColumnID == columnID && (card.Status == "" || card.Status == "active") {
				out = append(out, reorder.Slot{CardID: card.ID, ColumnID: columnID, Position: card.Position})
			}
		}
		return out, true
	}
	return nil, false
}

// columnVersion returns the cached version of a column, if the column view
// is cached.
func (c *Cache) columnVersion(boardID, columnID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, column := range c.columns[boardID] {
		if column.ID == columnID {
			return column.Version, true
		}
	}
	return 0, false
}

// applyPlanLocked rewrites every view of a board as if plan had been
// executed.
func (c *Cache) applyPlanLocked(boardID string, plan reorder.Plan) {
	c.touchLocked(boardID)
	for _, key := range c.keysLocked(boardID) {
		list, ok := c.lists[key]
		if !ok {
			continue
		}
		for i := range list {
			if slot, moved := plan.Lookup(list[i].ID); moved {
				list[i].ColumnID = slot.ColumnID
				list[i].Position = slot.Position
			}
		}
	}
	if columns, ok := c.columns[boardID]; ok {
		c.columns[boardID] = regroup(columns, func(card *Card) {
			if slot, moved := plan.Lookup(card.ID); moved {
				card.ColumnID = slot.ColumnID
				card.Position = slot.Position
			}
		})
	}
}

// updateCard applies fn to every cached copy of a card across a board's
// views. Column views are regrouped afterwards in case the card changed
// column.
func (c *Cache) updateCard(boardID, cardID string, fn func(*Card)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCardLocked(boardID, cardID, fn)
}

func (c *Cache) updateCardLocked(boardID, cardID string, fn func(*Card)) {
	c.touchLocked(boardID)
	for _, key := range c.keysLocked(boardID) {
		list, ok := c.lists[key]
		if !ok {
			continue
		}
		for i := range list {
			if list[i].ID == cardID {
				fn(&list[i])
			}
		}
	}
	if columns, ok := c.columns[boardID]; ok {
		c.columns[boardID] = regroup(columns, func(card *Card) {
			if card.ID == cardID {
				fn(card)
			}
		})
	}
}

func (c *Cache) setColumnVersions(boardID string, versions map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked(boardID)
	columns := c.columns[boardID]
	for i := range columns {
		if version, ok := versions[columns[i].ID]; ok {
			columns[i].Version = version
		}
	}
}

// regroup applies fn to every card, then moves cards to the column their
// ColumnID names and sorts each column by position. Cards pointing at an
// unknown column stay where they were.
func regroup(columns []Column, fn func(*Card)) []Column {
	index := make(map[string]int, len(columns))
	for i, column := range columns {
		index[column.ID] = i
	}
	buckets := make([][]Card, len(columns))
	for i, column := range columns {
		for _, card := range column.Cards {
			fn(&card)
			target, ok := index[card.ColumnID]
			if !ok {
				target = i
			}
			buckets[target] = append(buckets[target], card)
		}
	}
	out := make([]Column, len(columns))
	for i, column := range columns {
		column.Cards = buckets[i]
		if column.Cards == nil {
			column.Cards = []Card{}
		}
		sortByPosition(column.Cards)
		out[i] = column
	}
	return out
}

func sortByPosition(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].Position < cards[j].Position
	})
}

func cloneCard(card Card) Card {
	if card.Description != nil {
		description := *card.Description
		card.Description = &description
	}
	if card.Tags != nil {
		card.Tags = append([]string(nil), card.Tags...)
	}
	return card
}

func cloneCards(cards []Card) []Card {
	if cards == nil {
		return nil
	}
	out := make([]Card, len(cards))
	for i, card := range cards {
		out[i] = cloneCard(card)
	}
	return out
}

func cloneColumns(columns []Column) []Column {
	if columns == nil {
		return nil
	}
	out := make([]Column, len(columns))
	for i, column := range columns {
		if column.CardLimit != nil {
			limit := *column.CardLimit
			column.CardLimit = &limit
		}
		column.Cards = cloneCards(column.Cards)
		out[i] = column
	}
	return out
}
