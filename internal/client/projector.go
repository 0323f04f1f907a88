package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"

	"ideaboard/api/internal/reorder"
)

var (
	ErrMoveInFlight  = errors.New("a move for this card is already in flight")
	ErrCardNotCached = errors.New("card is not in any cached view")
	ErrTxState       = errors.New("move transaction is not in the required state")
)

// TxState is the lifecycle of a MoveTx.
type TxState int

const (
	TxIdle TxState = iota
	TxPredicted
	TxConfirmed
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxPredicted:
		return "predicted"
	case TxConfirmed:
		return "confirmed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

type boardAPI interface {
	Board(ctx context.Context, boardID string) (Board, error)
	Cards(ctx context.Context, boardID string, filter url.Values) ([]Card, error)
	MoveCard(ctx context.Context, req MoveRequest) (MoveResult, error)
	ToggleVote(ctx context.Context, cardID string) (VoteResult, error)
}

// Projector applies moves and votes to the cache before the server confirms
// them and undoes them when the server refuses. It never persists anything.
type Projector struct {
	cache *Cache
	api   boardAPI

	mu       sync.Mutex
	inflight map[string]*MoveTx
}

func NewProjector(cache *Cache, api boardAPI) *Projector {
	return &Projector{cache: cache, api: api, inflight: map[string]*MoveTx{}}
}

func (p *Projector) Cache() *Cache {
	return p.cache
}

// MoveTx is one optimistic move. It goes Idle -> Predicted -> Confirmed or
// RolledBack, and releases the card when it resolves.
type MoveTx struct {
	p       *Projector
	cardID  string
	boardID string

	mu       sync.Mutex
	state    TxState
	snap     snapshot
	gen      uint64
	plan     reorder.Plan
	released bool
}

// BeginMove opens a move transaction for a cached card. Only one transaction
// per card may be open at a time.
func (p *Projector) BeginMove(cardID string) (*MoveTx, error) {
	boardID, _, ok := p.cache.locate(cardID)
	if !ok {
		return nil, fmt.Errorf("card %s: %w", cardID, ErrCardNotCached)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[cardID]; busy {
		return nil, fmt.Errorf("card %s: %w", cardID, ErrMoveInFlight)
	}
	tx := &MoveTx{p: p, cardID: cardID, boardID: boardID, state: TxIdle}
	p.inflight[cardID] = tx
	return tx, nil
}

func (tx *MoveTx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *MoveTx) Plan() reorder.Plan {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.plan
}

func (tx *MoveTx) BoardID() string {
	return tx.boardID
}

// Predict snapshots every view of the card's board, computes the move with
// the same reindexing the server runs and rewrites the views with it.
func (tx *MoveTx) Predict(req reorder.Request) (reorder.Plan, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxIdle {
		return reorder.Plan{}, fmt.Errorf("predict in state %s: %w", tx.state, ErrTxState)
	}
	req.CardID = tx.cardID

	cache := tx.p.cache
	var plan reorder.Plan
	snap, gen, err := cache.project(tx.boardID, func() error {
		var err error
		if plan, err = cache.planLocked(tx.boardID, req); err != nil {
			return err
		}
		if !plan.NoOp {
			cache.applyPlanLocked(tx.boardID, plan)
		}
		return nil
	})
	if err != nil {
		return reorder.Plan{}, err
	}
	tx.snap = snap
	tx.gen = gen
	tx.plan = plan
	tx.state = TxPredicted
	return plan, nil
}

// Commit merges the server's card into every view and marks the board's
// views for refetch.
func (tx *MoveTx) Commit(result MoveResult) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxPredicted {
		return fmt.Errorf("commit in state %s: %w", tx.state, ErrTxState)
	}
	server := result.Card
	tx.p.cache.updateCard(tx.boardID, tx.cardID, func(card *Card) {
		card.ColumnID = server.ColumnID
		card.Position = server.Position
		card.Status = server.Status
		card.UpdatedAt = server.UpdatedAt
	})
	tx.p.cache.setColumnVersions(tx.boardID, result.ColumnVersions)
	tx.p.cache.MarkBoardStale(tx.boardID)
	tx.state = TxConfirmed
	tx.releaseLocked()
	return nil
}

// Abort restores every view captured by Predict when nothing else has
// touched the board since. Otherwise it moves the card back to where Predict
// found it, leaving other writes in place, and marks the board stale.
// Aborting an Idle transaction only releases the card.
func (tx *MoveTx) Abort() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	switch tx.state {
	case TxPredicted:
		tx.p.cache.rollback(tx.snap, tx.gen, tx.undoLocked)
		tx.state = TxRolledBack
	case TxIdle:
		tx.state = TxRolledBack
	}
	tx.releaseLocked()
}

// undoLocked runs under the cache lock. It reverses the predicted move
// against the views as they are now, unless fresher data has already put the
// card somewhere else.
func (tx *MoveTx) undoLocked() {
	if tx.plan.NoOp {
		return
	}
	cache := tx.p.cache
	card, ok := cache.cardLocked(tx.boardID, tx.cardID)
	if !ok || card.ColumnID != tx.plan.TargetColumnID || card.Position != tx.plan.TargetPosition {
		return
	}
	plan, err := cache.planLocked(tx.boardID, reorder.Request{
		CardID:         tx.cardID,
		TargetColumnID: tx.plan.SourceColumnID,
		TargetPosition: reorder.Position(tx.plan.SourcePosition),
	})
	if err != nil || plan.NoOp {
		return
	}
	cache.applyPlanLocked(tx.boardID, plan)
}

func (tx *MoveTx) releaseLocked() {
	if tx.released {
		return
	}
	tx.released = true
	tx.p.mu.Lock()
	delete(tx.p.inflight, tx.cardID)
	tx.p.mu.Unlock()
}

// Move runs a full optimistic move: predict, send, then commit or roll back,
// and finally refetch the board either way. The column version sent with
// the request is the cached version of the destination column, when known.
func (p *Projector) Move(ctx context.Context, req reorder.Request) (Card, error) {
	tx, err := p.BeginMove(req.CardID)
	if err != nil {
		return Card{}, err
	}
	plan, err := tx.Predict(req)
	if err != nil {
		tx.Abort()
		return Card{}, err
	}

	moveReq := MoveRequest{CardID: req.CardID, NewPosition: req.TargetPosition}
	if req.TargetColumnID != "" {
		target := req.TargetColumnID
		moveReq.NewColumnID = &target
	}
	if version, ok := p.cache.columnVersion(tx.BoardID(), plan.TargetColumnID); ok {
		moveReq.ColumnVersion = &version
	}

	result, err := p.api.MoveCard(ctx, moveReq)
	if err != nil {
		tx.Abort()
		p.settle(ctx, tx.BoardID())
		return Card{}, err
	}
	if err := tx.Commit(result); err != nil {
		return Card{}, err
	}
	p.settle(ctx, tx.BoardID())
	return result.Card, nil
}

// settle marks a board stale and refetches it. A failed refetch leaves the
// views stale for the next Refresh.
func (p *Projector) settle(ctx context.Context, boardID string) {
	p.cache.MarkBoardStale(boardID)
	if err := p.Refresh(ctx, boardID); err != nil {
		log.WithError(err).WithField("board", boardID).Warn("refetch after write failed")
	}
}

// ToggleVote flips the viewer's vote in every view, then asks the server.
// A failure undoes the flip and refetches the board; on success the server's
// counts win.
func (p *Projector) ToggleVote(ctx context.Context, cardID string) (VoteResult, error) {
	boardID, card, ok := p.cache.locate(cardID)
	if !ok {
		return p.api.ToggleVote(ctx, cardID)
	}
	voted := !card.UserHasVoted
	snap, gen, _ := p.cache.project(boardID, func() error {
		p.cache.updateCardLocked(boardID, cardID, flipVote)
		return nil
	})

	result, err := p.api.ToggleVote(ctx, cardID)
	if err != nil {
		p.cache.rollback(snap, gen, func() {
			p.cache.updateCardLocked(boardID, cardID, func(card *Card) {
				if card.UserHasVoted == voted {
					flipVote(card)
				}
			})
		})
		p.settle(ctx, boardID)
		return VoteResult{}, err
	}
	p.cache.updateCard(boardID, cardID, func(card *Card) {
		card.VoteCount = result.VoteCount
		card.UserHasVoted = result.UserHasVoted
	})
	return result, nil
}

func flipVote(card *Card) {
	if card.UserHasVoted {
		card.UserHasVoted = false
		card.VoteCount--
		return
	}
	card.UserHasVoted = true
	card.VoteCount++
}

// Load fetches the column view and the unfiltered card list of a board.
func (p *Projector) Load(ctx context.Context, boardID string) error {
	board, err := p.api.Board(ctx, boardID)
	if err != nil {
		return err
	}
	p.cache.SetColumns(boardID, board.Columns)
	cards, err := p.api.Cards(ctx, boardID, nil)
	if err != nil {
		return err
	}
	p.cache.SetCards(CardsKey(boardID), cards)
	return nil
}

// Refresh refetches every stale view of a board.
func (p *Projector) Refresh(ctx context.Context, boardID string) error {
	for _, key := range p.cache.StaleKeys(boardID) {
		owner, filter, columns := parseKey(key)
		if columns {
			board, err := p.api.Board(ctx, owner)
			if err != nil {
				return fmt.Errorf("refetch %s: %w", key, err)
			}
			p.cache.SetColumns(owner, board.Columns)
			continue
		}
		cards, err := p.api.Cards(ctx, owner, filter)
		if err != nil {
			return fmt.Errorf("refetch %s: %w", key, err)
		}
		p.cache.SetCards(key, cards)
	}
	return nil
}
