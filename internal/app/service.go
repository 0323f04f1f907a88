package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ideaboard/api/internal/auth"
	"ideaboard/api/internal/cache"
	"ideaboard/api/internal/config"
	"ideaboard/api/internal/notify"
	"ideaboard/api/internal/rbac"
	"ideaboard/api/internal/reorder"
	"ideaboard/api/internal/search"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/util"
)

const tracerName = "ideaboard/api/internal/app"

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type CreateBoardInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
}

type CreateColumnInput struct {
	Name      string `json:"name"`
	Color     string `json:"color"`
	CardLimit *int   `json:"cardLimit"`
}

type CreateCardInput struct {
	ColumnID    string   `json:"columnId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
}

type UpdateCardInput struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Priority    *string   `json:"priority"`
	Tags        *[]string `json:"tags"`
}

// MoveCardInput is the move RPC body. Omitted fields keep the card's current
// column and position.
type MoveCardInput struct {
	CardID        string  `json:"cardId"`
	NewColumnID   *string `json:"newColumnId"`
	NewPosition   *int    `json:"newPosition"`
	ColumnVersion *int64  `json:"columnVersion"`
}

type SearchInput struct {
	Text            string
	BoardID         string
	Priority        string
	IncludeArchived bool
	Limit           int
	Offset          int
}

var defaultColumns = []string{"To Do", "In Progress", "Done"}

var allowedPriorities = map[string]struct{}{
	store.PriorityLow:    {},
	store.PriorityMedium: {},
	store.PriorityHigh:   {},
}

const (
	maxTitleLength   = 200
	maxCommentLength = 2000
	maxTags          = 10
)

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListBoards(context.Context) ([]store.Board, error)
	GetBoard(context.Context, string) (store.Board, error)
	InsertBoard(context.Context, store.Board, []string) (store.Board, []store.Column, error)
	ListColumns(context.Context, string) ([]store.Column, error)
	InsertColumn(context.Context, store.Column) (store.Column, error)
	ListCards(context.Context, string, string, store.CardFilter) ([]store.CardDetails, error)
	GetCardDetails(context.Context, string, string) (store.CardDetails, error)
	InsertCard(context.Context, store.Card) (store.CardChange, error)
	UpdateCard(context.Context, string, store.CardPatch) (store.CardChange, error)
	MoveCard(context.Context, store.MoveInput) (store.CardChange, error)
	ArchiveCard(context.Context, string) (store.CardChange, error)
	RestoreCard(context.Context, string) (store.CardChange, error)
	ToggleVote(context.Context, string, string) (store.VoteResult, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	BoardSlots(context.Context, string) ([]store.Column, map[string][]reorder.Slot, error)
	RepairBoard(context.Context, string) ([]reorder.Update, error)
	Ping(ctx context.Context) error
}

type cardCache interface {
	Get(context.Context, string, string, store.CardFilter) (cache.Lookup, error)
	Put(context.Context, string, string, store.CardFilter, int64, []store.CardDetails) (bool, error)
	Evict(context.Context, string) error
	Ping(context.Context) error
}

type eventHub interface {
	Publish(context.Context, notify.Event) error
	Subscribe(string) (<-chan notify.Event, func())
}

type cardSearch interface {
	Search(context.Context, search.Query) search.Response
	IndexCard(search.CardRecord)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	cache  cardCache
	events eventHub
	search cardSearch
}

type Option func(*Service)

// WithCardCache serves card lists from Redis between writes.
func WithCardCache(cards cardCache) Option {
	return func(s *Service) {
		s.cache = cards
	}
}

// WithEvents replaces the in-process event hub.
func WithEvents(hub eventHub) Option {
	return func(s *Service) {
		s.events = hub
	}
}

// WithSearch enables card search and indexing.
func WithSearch(svc cardSearch) Option {
	return func(s *Service) {
		s.search = svc
	}
}

func New(cfg config.Config, dataStore dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		events: notify.NewHub(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, validationError("name is required", nil)
	}
	if len(userName) > 80 {
		return Session{}, validationError("name must be at most 80 characters", nil)
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, translateStoreError(err)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken resolves a bearer token. The role always comes from the
// user row so role changes apply without reissuing tokens.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ping checks Postgres and, when configured, Redis.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Boards

func (s *Service) ListBoards(ctx context.Context) (map[string]any, error) {
	boards, err := s.store.ListBoards(ctx)
	if err != nil {
		return nil, translateStoreError(err)
	}
	items := make([]map[string]any, 0, len(boards))
	for _, board := range boards {
		items = append(items, boardPayload(board))
	}
	return map[string]any{"boards": items}, nil
}

func (s *Service) CreateBoard(ctx context.Context, session Session, input CreateBoardInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}
	columns := make([]string, 0, len(input.Columns))
	for _, column := range input.Columns {
		if trimmed := strings.TrimSpace(column); trimmed != "" {
			columns = append(columns, trimmed)
		}
	}
	if len(columns) == 0 {
		columns = defaultColumns
	}

	board, created, err := s.store.InsertBoard(ctx, store.Board{
		ID:          util.NewID(""),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		CreatedBy:   session.UserID,
	}, columns)
	if err != nil {
		return nil, translateStoreError(err)
	}
	payload := boardPayload(board)
	columnItems := make([]map[string]any, 0, len(created))
	for _, column := range created {
		columnItems = append(columnItems, columnPayload(column))
	}
	payload["columns"] = columnItems
	return map[string]any{"board": payload}, nil
}

// GetBoard returns the board with its ordered columns, each holding its
// ordered active cards.
func (s *Service) GetBoard(ctx context.Context, session Session, boardID string) (map[string]any, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	var (
		columns []store.Column
		cards   []store.CardDetails
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		if columns, err = s.store.ListColumns(groupCtx, boardID); err != nil {
			return translateStoreError(err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		cards, err = s.cards(groupCtx, boardID, session.UserID, store.CardFilter{})
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	byColumn := make(map[string][]map[string]any, len(columns))
	for _, card := range cards {
		byColumn[card.ColumnID] = append(byColumn[card.ColumnID], cardDetailsPayload(card))
	}
	columnItems := make([]map[string]any, 0, len(columns))
	for _, column := range columns {
		item := columnPayload(column)
		item["cards"] = nonNilItems(byColumn[column.ID])
		columnItems = append(columnItems, item)
	}
	payload := boardPayload(board)
	payload["columns"] = columnItems
	return map[string]any{"board": payload}, nil
}

func (s *Service) CreateColumn(ctx context.Context, boardID string, input CreateColumnInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}
	if input.CardLimit != nil && *input.CardLimit < 1 {
		return nil, validationError("cardLimit must be positive", map[string]any{"cardLimit": *input.CardLimit})
	}
	if _, err := s.store.GetBoard(ctx, boardID); err != nil {
		return nil, translateStoreError(err)
	}
	color := strings.TrimSpace(input.Color)
	if color == "" {
		color = "#64748b"
	}
	column, err := s.store.InsertColumn(ctx, store.Column{
		ID:        util.NewID(""),
		BoardID:   boardID,
		Name:      name,
		Color:     color,
		CardLimit: input.CardLimit,
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	s.afterWrite(ctx, boardID, notify.Event{Table: notify.TableColumns, Kind: notify.KindInsert, BoardID: boardID})
	return map[string]any{"column": columnPayload(column)}, nil
}

// Cards

// ListCards returns a board's cards with derived fields for the session user.
func (s *Service) ListCards(ctx context.Context, session Session, boardID string, filter store.CardFilter) (map[string]any, error) {
	if _, err := s.store.GetBoard(ctx, boardID); err != nil {
		return nil, translateStoreError(err)
	}
	if filter.Priority != "" {
		if _, ok := allowedPriorities[filter.Priority]; !ok {
			return nil, validationError("priority must be one of low, medium, high", nil)
		}
	}
	cards, err := s.cards(ctx, boardID, session.UserID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(cards))
	for _, card := range cards {
		items = append(items, cardDetailsPayload(card))
	}
	return map[string]any{"cards": items}, nil
}

func (s *Service) cards(ctx context.Context, boardID, viewerID string, filter store.CardFilter) ([]store.CardDetails, error) {
	entry := log.WithFields(log.Fields{"board": boardID, "viewer": viewerID})
	// Only a list loaded after a successful lookup may be cached; the lookup's
	// generation keeps a write that lands mid-load from being overwritten.
	var lookup cache.Lookup
	cacheable := false
	if s.cache != nil {
		var err error
		lookup, err = s.cache.Get(ctx, boardID, viewerID, filter)
		switch {
		case err != nil:
			entry.WithError(err).Warn("card cache read failed")
		case lookup.Hit:
			return lookup.Cards, nil
		default:
			cacheable = true
		}
	}
	cards, err := s.store.ListCards(ctx, boardID, viewerID, filter)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if cacheable {
		stored, err := s.cache.Put(ctx, boardID, viewerID, filter, lookup.Generation, cards)
		if err != nil {
			entry.WithError(err).Warn("card cache write failed")
		} else if !stored {
			entry.Debug("board changed while loading cards, not caching")
		}
	}
	return cards, nil
}

func (s *Service) GetCard(ctx context.Context, session Session, cardID string) (map[string]any, error) {
	card, err := s.store.GetCardDetails(ctx, cardID, session.UserID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return map[string]any{"card": cardDetailsPayload(card)}, nil
}

// CreateCard appends a card to the end of its column.
func (s *Service) CreateCard(ctx context.Context, session Session, input CreateCardInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.ColumnID) == "" {
		return nil, validationError("columnId is required", nil)
	}
	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = store.PriorityMedium
	}
	if _, ok := allowedPriorities[priority]; !ok {
		return nil, validationError("priority must be one of low, medium, high", nil)
	}
	tags, err := cleanTags(input.Tags)
	if err != nil {
		return nil, err
	}
	var description *string
	if trimmed := strings.TrimSpace(input.Description); trimmed != "" {
		description = &trimmed
	}

	change, err := s.store.InsertCard(ctx, store.Card{
		ID:          util.NewID(""),
		ColumnID:    input.ColumnID,
		CreatorID:   session.UserID,
		Title:       title,
		Description: description,
		Priority:    priority,
		Tags:        tags,
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	s.afterCardWrite(ctx, change, notify.KindInsert)
	return map[string]any{"card": cardChangePayload(change), "columnVersions": change.ColumnVersions}, nil
}

// UpdateCard edits title, description, priority and tags. Position is not
// editable here; only reconciliation moves cards.
func (s *Service) UpdateCard(ctx context.Context, cardID string, input UpdateCardInput) (map[string]any, error) {
	patch := store.CardPatch{Priority: input.Priority}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if input.Description != nil {
		description := strings.TrimSpace(*input.Description)
		patch.Description = &description
	}
	if input.Priority != nil {
		if _, ok := allowedPriorities[*input.Priority]; !ok {
			return nil, validationError("priority must be one of low, medium, high", nil)
		}
	}
	if input.Tags != nil {
		tags, err := cleanTags(*input.Tags)
		if err != nil {
			return nil, err
		}
		patch.Tags = tags
		patch.SetTags = true
	}

	change, err := s.store.UpdateCard(ctx, cardID, patch)
	if err != nil {
		return nil, translateStoreError(err)
	}
	s.afterCardWrite(ctx, change, notify.KindUpdate)
	return map[string]any{"card": cardChangePayload(change)}, nil
}

func (s *Service) ArchiveCard(ctx context.Context, cardID string) (map[string]any, error) {
	change, err := s.store.ArchiveCard(ctx, cardID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !change.NoOp {
		s.afterCardWrite(ctx, change, notify.KindUpdate)
	}
	return map[string]any{"card": cardChangePayload(change), "columnVersions": change.ColumnVersions}, nil
}

func (s *Service) RestoreCard(ctx context.Context, cardID string) (map[string]any, error) {
	change, err := s.store.RestoreCard(ctx, cardID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !change.NoOp {
		s.afterCardWrite(ctx, change, notify.KindUpdate)
	}
	return map[string]any{"card": cardChangePayload(change), "columnVersions": change.ColumnVersions}, nil
}

// MoveCard reconciles positions for a drag-and-drop move. A negative
// position is clamped to 0 and an oversized one to the end of the column.
func (s *Service) MoveCard(ctx context.Context, input MoveCardInput) (store.CardChange, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "reorder.move_card", trace.WithAttributes(
		attribute.String("ideaboard.card_id", input.CardID),
	))
	defer span.End()

	change, err := s.moveCard(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return store.CardChange{}, err
	}
	span.SetAttributes(
		attribute.String("ideaboard.board_id", change.BoardID),
		attribute.String("ideaboard.column_id", change.Card.ColumnID),
		attribute.Int("ideaboard.position", change.Card.Position),
		attribute.Int("ideaboard.shifted_cards", len(change.Shifts)),
		attribute.Bool("ideaboard.noop", change.NoOp),
	)
	return change, nil
}

func (s *Service) moveCard(ctx context.Context, input MoveCardInput) (store.CardChange, error) {
	cardID := strings.TrimSpace(input.CardID)
	if cardID == "" {
		return store.CardChange{}, validationError("cardId is required", nil)
	}
	move := store.MoveInput{CardID: cardID, TargetPosition: input.NewPosition, ColumnVersion: input.ColumnVersion}
	if input.NewColumnID != nil {
		move.TargetColumnID = strings.TrimSpace(*input.NewColumnID)
	}

	change, err := s.store.MoveCard(ctx, move)
	if err != nil {
		return store.CardChange{}, translateStoreError(err)
	}
	if !change.NoOp {
		s.afterCardWrite(ctx, change, notify.KindUpdate)
	}
	return change, nil
}

// ToggleVote adds the session user's vote or removes it when present.
func (s *Service) ToggleVote(ctx context.Context, session Session, cardID string) (map[string]any, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vote.toggle", trace.WithAttributes(
		attribute.String("ideaboard.card_id", cardID),
	))
	defer span.End()

	if session.UserID == "" {
		err := domainError(401, "UNAUTHORIZED", "Unauthorized", nil)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result, err := s.store.ToggleVote(ctx, cardID, session.UserID)
	if err != nil {
		err = translateStoreError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ideaboard.vote_action", result.Action), attribute.Int("ideaboard.vote_count", result.VoteCount))

	kind := notify.KindInsert
	if result.Action == "removed" {
		kind = notify.KindDelete
	}
	s.afterWrite(ctx, result.BoardID, notify.Event{Table: notify.TableVotes, Kind: kind, BoardID: result.BoardID, CardID: cardID})
	return map[string]any{
		"action":       result.Action,
		"voteCount":    result.VoteCount,
		"userHasVoted": result.UserHasVoted,
	}, nil
}

// Comments

func (s *Service) ListComments(ctx context.Context, session Session, cardID string) (map[string]any, error) {
	if _, err := s.store.GetCardDetails(ctx, cardID, session.UserID); err != nil {
		return nil, translateStoreError(err)
	}
	comments, err := s.store.ListComments(ctx, cardID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		items = append(items, commentPayload(comment))
	}
	return map[string]any{"comments": items}, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, cardID, content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationError("content is required", nil)
	}
	if len(content) > maxCommentLength {
		return nil, validationError(fmt.Sprintf("content must be at most %d characters", maxCommentLength), nil)
	}
	card, err := s.store.GetCardDetails(ctx, cardID, session.UserID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:      util.NewID(""),
		CardID:  cardID,
		UserID:  session.UserID,
		Content: content,
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	s.afterWrite(ctx, card.BoardID, notify.Event{Table: notify.TableComments, Kind: notify.KindInsert, BoardID: card.BoardID, CardID: cardID})
	return map[string]any{"comment": commentPayload(comment)}, nil
}

// Search

func (s *Service) Search(ctx context.Context, input SearchInput) (map[string]any, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, validationError("q is required", nil)
	}
	if s.search == nil {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": text}, nil
	}
	resp := s.search.Search(ctx, search.Query{
		Text:            text,
		BoardID:         input.BoardID,
		Priority:        input.Priority,
		IncludeArchived: input.IncludeArchived,
		Limit:           input.Limit,
		Offset:          input.Offset,
	})
	return map[string]any{"results": resp.Results, "total": resp.Total, "query": resp.Query}, nil
}

// Integrity

// CheckIntegrity reports every column whose active positions are not exactly
// 0..n-1.
func (s *Service) CheckIntegrity(ctx context.Context, boardID string) (map[string]any, error) {
	if _, err := s.store.GetBoard(ctx, boardID); err != nil {
		return nil, translateStoreError(err)
	}
	columns, slots, err := s.store.BoardSlots(ctx, boardID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	healthy := true
	items := make([]map[string]any, 0, len(columns))
	for _, column := range columns {
		violations := reorder.Check(column.ID, slots[column.ID])
		if len(violations) > 0 {
			healthy = false
		}
		items = append(items, map[string]any{
			"columnId":   column.ID,
			"name":       column.Name,
			"version":    column.Version,
			"cards":      len(slots[column.ID]),
			"violations": violations,
		})
	}
	return map[string]any{"boardId": boardID, "ok": healthy, "columns": items}, nil
}

// RepairBoard renumbers every column to 0..n-1 keeping the relative order.
func (s *Service) RepairBoard(ctx context.Context, boardID string) (map[string]any, error) {
	updates, err := s.store.RepairBoard(ctx, boardID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if len(updates) > 0 {
		log.WithFields(log.Fields{"board": boardID, "updates": len(updates)}).Warn("repaired card positions")
		s.afterWrite(ctx, boardID, notify.Event{Table: notify.TableCards, Kind: notify.KindUpdate, BoardID: boardID})
	}
	items := make([]map[string]any, 0, len(updates))
	for _, update := range updates {
		items = append(items, map[string]any{
			"cardId":   update.CardID,
			"columnId": update.ColumnID,
			"from":     update.From,
			"position": update.Position,
		})
	}
	return map[string]any{"boardId": boardID, "repaired": len(updates), "updates": items}, nil
}

// Subscribe streams change notifications for one board.
func (s *Service) Subscribe(ctx context.Context, boardID string) (<-chan notify.Event, func(), error) {
	if _, err := s.store.GetBoard(ctx, boardID); err != nil {
		return nil, nil, translateStoreError(err)
	}
	events, release := s.events.Subscribe(boardID)
	return events, release, nil
}

func (s *Service) afterCardWrite(ctx context.Context, change store.CardChange, kind string) {
	s.afterWrite(ctx, change.BoardID, notify.Event{Table: notify.TableCards, Kind: kind, BoardID: change.BoardID, CardID: change.Card.ID})
	if s.search != nil {
		description := ""
		if change.Card.Description != nil {
			description = *change.Card.Description
		}
		s.search.IndexCard(search.CardRecord{
			ID:          change.Card.ID,
			BoardID:     change.BoardID,
			ColumnID:    change.Card.ColumnID,
			CreatorID:   change.Card.CreatorID,
			Title:       change.Card.Title,
			Description: description,
			Priority:    change.Card.Priority,
			Status:      change.Card.Status,
			Tags:        change.Card.Tags,
		})
	}
}

// afterWrite evicts the board's cached card lists before the write's response
// is sent, then announces the change. Neither failure undoes the committed
// write, so both are logged.
func (s *Service) afterWrite(ctx context.Context, boardID string, ev notify.Event) {
	entry := log.WithFields(log.Fields{"board": boardID, "table": ev.Table, "event": ev.Kind})
	if s.cache != nil {
		if err := s.cache.Evict(ctx, boardID); err != nil {
			entry.WithError(err).Error("card cache eviction failed")
		}
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		entry.WithError(err).Warn("publish change event failed")
	}
}

func validateTitle(title string) error {
	if title == "" {
		return validationError("title is required", nil)
	}
	if len(title) > maxTitleLength {
		return validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength), nil)
	}
	return nil
}

func cleanTags(tags []string) ([]string, error) {
	cleaned := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		cleaned = append(cleaned, tag)
	}
	if len(cleaned) > maxTags {
		return nil, validationError(fmt.Sprintf("at most %d tags are allowed", maxTags), nil)
	}
	return cleaned, nil
}
