package client

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaboard/api/internal/reorder"
)

const testBoard = "board-1"

// fakeAPI keeps the authoritative board and reconciles moves with the same
// reindexing the server uses.
type fakeAPI struct {
	mu         sync.Mutex
	columns    []Column
	versions   map[string]int64
	moveErr    error
	voteErr    error
	readErr    error
	moves      []MoveRequest
	boardCalls int
	cardsCalls int
}

func newFakeAPI(columns []Column) *fakeAPI {
	versions := map[string]int64{}
	for _, column := range columns {
		versions[column.ID] = column.Version
	}
	return &fakeAPI{columns: cloneColumns(columns), versions: versions}
}

func (f *fakeAPI) Board(_ context.Context, boardID string) (Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boardCalls++
	if f.readErr != nil {
		return Board{}, f.readErr
	}
	columns := cloneColumns(f.columns)
	for i := range columns {
		columns[i].Version = f.versions[columns[i].ID]
	}
	return Board{ID: boardID, Columns: columns}, nil
}

func (f *fakeAPI) Cards(_ context.Context, _ string, filter url.Values) ([]Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cardsCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := []Card{}
	for _, column := range f.columns {
		if want := filter.Get("column"); want != "" && want != column.ID {
			continue
		}
		out = append(out, cloneCards(column.Cards)...)
	}
	return out, nil
}

func (f *fakeAPI) slots(columnID string) []reorder.Slot {
	out := []reorder.Slot{}
	for _, column := range f.columns {
		if column.ID != columnID {
			continue
		}
		for _, card := range column.Cards {
			out = append(out, reorder.Slot{CardID: card.ID, ColumnID: columnID, Position: card.Position})
		}
	}
	return out
}

func (f *fakeAPI) find(cardID string) (Card, bool) {
	for _, column := range f.columns {
		for _, card := range column.Cards {
			if card.ID == cardID {
				return card, true
			}
		}
	}
	return Card{}, false
}

func (f *fakeAPI) MoveCard(_ context.Context, req MoveRequest) (MoveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, req)
	if f.moveErr != nil {
		return MoveResult{}, f.moveErr
	}
	card, ok := f.find(req.CardID)
	if !ok {
		return MoveResult{}, &APIError{Status: 404, Code: "NOT_FOUND", Message: "Not found"}
	}
	request := reorder.Request{CardID: req.CardID, TargetPosition: req.NewPosition}
	if req.NewColumnID != nil {
		request.TargetColumnID = *req.NewColumnID
	}
	var dest []reorder.Slot
	if request.TargetColumnID != "" {
		dest = f.slots(request.TargetColumnID)
	}
	plan, err := reorder.ComputeReindex(f.slots(card.ColumnID), dest, request)
	if err != nil {
		return MoveResult{}, err
	}
	if plan.NoOp {
		return MoveResult{Card: card, NoOp: true}, nil
	}
	f.columns = regroup(f.columns, func(c *Card) {
		if slot, moved := plan.Lookup(c.ID); moved {
			c.ColumnID = slot.ColumnID
			c.Position = slot.Position
		}
	})
	versions := map[string]int64{}
	for _, columnID := range []string{plan.SourceColumnID, plan.TargetColumnID} {
		f.versions[columnID]++
		versions[columnID] = f.versions[columnID]
	}
	moved, _ := f.find(req.CardID)
	return MoveResult{Card: moved, ColumnVersions: versions}, nil
}

func (f *fakeAPI) ToggleVote(_ context.Context, cardID string) (VoteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voteErr != nil {
		return VoteResult{}, f.voteErr
	}
	var result VoteResult
	found := false
	f.columns = regroup(f.columns, func(c *Card) {
		if c.ID != cardID {
			return
		}
		found = true
		flipVote(c)
		result = VoteResult{Action: "removed", VoteCount: c.VoteCount, UserHasVoted: c.UserHasVoted}
		if c.UserHasVoted {
			result.Action = "added"
		}
	})
	if !found {
		return VoteResult{}, &APIError{Status: 404, Code: "NOT_FOUND", Message: "Not found"}
	}
	return result, nil
}

func testCard(id, columnID string, position int) Card {
	return Card{ID: id, BoardID: testBoard, ColumnID: columnID, Title: "Idea " + id, Position: position, Priority: "medium", Status: "active", Tags: []string{}}
}

// testColumns builds todo [A B C D], doing [E F] and an empty done column.
func testColumns() []Column {
	return []Column{
		{ID: "todo", BoardID: testBoard, Name: "To Do", Version: 1, Cards: []Card{
			testCard("A", "todo", 0), testCard("B", "todo", 1), testCard("C", "todo", 2), testCard("D", "todo", 3),
		}},
		{ID: "doing", BoardID: testBoard, Name: "Doing", Position: 1, Version: 1, Cards: []Card{
			testCard("E", "doing", 0), testCard("F", "doing", 1),
		}},
		{ID: "done", BoardID: testBoard, Name: "Done", Position: 2, Version: 1, Cards: []Card{}},
	}
}

func newTestProjector(t *testing.T) (*Projector, *fakeAPI) {
	t.Helper()
	api := newFakeAPI(testColumns())
	projector := NewProjector(NewCache(), api)
	require.NoError(t, projector.Load(context.Background(), testBoard))
	cards, err := api.Cards(context.Background(), testBoard, url.Values{"column": {"todo"}})
	require.NoError(t, err)
	projector.Cache().SetCards(FilteredCardsKey(testBoard, url.Values{"column": {"todo"}}), cards)
	return projector, api
}

// order returns "id@position" for every card of every column view.
func order(t *testing.T, cache *Cache) map[string][]string {
	t.Helper()
	columns, ok := cache.Columns(testBoard)
	require.True(t, ok)
	out := map[string][]string{}
	for _, column := range columns {
		ids := []string{}
		for _, card := range column.Cards {
			ids = append(ids, card.ID+"@"+string(rune('0'+card.Position)))
		}
		out[column.ID] = ids
	}
	return out
}

func listPositions(t *testing.T, cache *Cache, key string) map[string]string {
	t.Helper()
	cards, ok := cache.Cards(key)
	require.True(t, ok)
	out := map[string]string{}
	for _, card := range cards {
		out[card.ID] = card.ColumnID + "@" + string(rune('0'+card.Position))
	}
	return out
}

func predict(t *testing.T, projector *Projector, req reorder.Request) (*MoveTx, reorder.Plan) {
	t.Helper()
	tx, err := projector.BeginMove(req.CardID)
	require.NoError(t, err)
	plan, err := tx.Predict(req)
	require.NoError(t, err)
	return tx, plan
}

func TestPredictSameColumnMoveDown(t *testing.T) {
	projector, _ := newTestProjector(t)
	_, plan := predict(t, projector, reorder.Request{CardID: "A", TargetPosition: reorder.Position(2)})

	want := []reorder.Update{
		{CardID: "B", ColumnID: "todo", From: 1, Position: 0},
		{CardID: "C", ColumnID: "todo", From: 2, Position: 1},
	}
	if diff := cmp.Diff(want, plan.Shifts); diff != "" {
		t.Fatalf("shifts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"B@0", "C@1", "A@2", "D@3"}, order(t, projector.Cache())["todo"])
	list := listPositions(t, projector.Cache(), CardsKey(testBoard))
	assert.Equal(t, "todo@2", list["A"])
	assert.Equal(t, "todo@0", list["B"])
	assert.Equal(t, "todo@3", list["D"])
}

func TestPredictSameColumnMoveUp(t *testing.T) {
	projector, _ := newTestProjector(t)
	predict(t, projector, reorder.Request{CardID: "D", TargetPosition: reorder.Position(1)})

	assert.Equal(t, []string{"A@0", "D@1", "B@2", "C@3"}, order(t, projector.Cache())["todo"])
	filtered := listPositions(t, projector.Cache(), FilteredCardsKey(testBoard, url.Values{"column": {"todo"}}))
	assert.Equal(t, map[string]string{"A": "todo@0", "D": "todo@1", "B": "todo@2", "C": "todo@3"}, filtered)
}

func TestPredictCrossColumnMove(t *testing.T) {
	projector, _ := newTestProjector(t)
	_, plan := predict(t, projector, reorder.Request{CardID: "B", TargetColumnID: "doing", TargetPosition: reorder.Position(1)})

	assert.True(t, plan.CrossColumn())
	got := order(t, projector.Cache())
	assert.Equal(t, []string{"A@0", "C@1", "D@2"}, got["todo"])
	assert.Equal(t, []string{"E@0", "B@1", "F@2"}, got["doing"])
	assert.Equal(t, []string{}, got["done"])
	assert.Equal(t, "doing@1", listPositions(t, projector.Cache(), CardsKey(testBoard))["B"])
}

func TestPredictClampsOutOfRangePositions(t *testing.T) {
	cases := []struct {
		name   string
		req    reorder.Request
		column string
		want   []string
	}{
		{name: "past end of own column", req: reorder.Request{CardID: "A", TargetPosition: reorder.Position(99)}, column: "todo", want: []string{"B@0", "C@1", "D@2", "A@3"}},
		{name: "negative", req: reorder.Request{CardID: "C", TargetPosition: reorder.Position(-5)}, column: "todo", want: []string{"C@0", "A@1", "B@2", "D@3"}},
		{name: "past end of other column", req: reorder.Request{CardID: "A", TargetColumnID: "doing", TargetPosition: reorder.Position(99)}, column: "doing", want: []string{"E@0", "F@1", "A@2"}},
		{name: "into empty column", req: reorder.Request{CardID: "A", TargetColumnID: "done", TargetPosition: reorder.Position(3)}, column: "done", want: []string{"A@0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			projector, _ := newTestProjector(t)
			predict(t, projector, tc.req)
			assert.Equal(t, tc.want, order(t, projector.Cache())[tc.column])
		})
	}
}

func TestPredictNoOpLeavesViewsUntouched(t *testing.T) {
	projector, _ := newTestProjector(t)
	before, _ := projector.Cache().Columns(testBoard)

	_, plan := predict(t, projector, reorder.Request{CardID: "B", TargetPosition: reorder.Position(1)})
	assert.True(t, plan.NoOp)

	after, _ := projector.Cache().Columns(testBoard)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("no-op changed the column view (-before +after):\n%s", diff)
	}
}

func TestAbortRestoresEveryView(t *testing.T) {
	requests := []reorder.Request{
		{CardID: "A", TargetPosition: reorder.Position(3)},
		{CardID: "D", TargetPosition: reorder.Position(0)},
		{CardID: "B", TargetColumnID: "doing", TargetPosition: reorder.Position(0)},
		{CardID: "F", TargetColumnID: "done"},
	}
	for _, req := range requests {
		projector, _ := newTestProjector(t)
		cache := projector.Cache()
		filterKey := FilteredCardsKey(testBoard, url.Values{"column": {"todo"}})
		columnsBefore, _ := cache.Columns(testBoard)
		listBefore, _ := cache.Cards(CardsKey(testBoard))
		filteredBefore, _ := cache.Cards(filterKey)

		tx, _ := predict(t, projector, req)
		tx.Abort()
		assert.Equal(t, TxRolledBack, tx.State())

		columnsAfter, _ := cache.Columns(testBoard)
		listAfter, _ := cache.Cards(CardsKey(testBoard))
		filteredAfter, _ := cache.Cards(filterKey)
		if diff := cmp.Diff(columnsBefore, columnsAfter); diff != "" {
			t.Fatalf("%+v: column view not restored (-want +got):\n%s", req, diff)
		}
		if diff := cmp.Diff(listBefore, listAfter); diff != "" {
			t.Fatalf("%+v: card list not restored (-want +got):\n%s", req, diff)
		}
		if diff := cmp.Diff(filteredBefore, filteredAfter); diff != "" {
			t.Fatalf("%+v: filtered list not restored (-want +got):\n%s", req, diff)
		}
		assert.Empty(t, cache.StaleKeys(testBoard))
	}
}

func TestMoveRollsBackWhenServerRefuses(t *testing.T) {
	projector, api := newTestProjector(t)
	api.moveErr = &APIError{Status: 409, Code: "STALE_COLUMN", Message: "Column changed"}
	before, _ := projector.Cache().Columns(testBoard)

	_, err := projector.Move(context.Background(), reorder.Request{CardID: "A", TargetColumnID: "doing", TargetPosition: reorder.Position(0)})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "STALE_COLUMN", apiErr.Code)

	after, _ := projector.Cache().Columns(testBoard)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("failed move left changes behind (-want +got):\n%s", diff)
	}

	api.moveErr = nil
	_, err = projector.Move(context.Background(), reorder.Request{CardID: "A", TargetColumnID: "doing", TargetPosition: reorder.Position(0)})
	require.NoError(t, err, "card must be released after a rollback")
}

func TestMoveSendsDestinationVersionAndRefetches(t *testing.T) {
	projector, api := newTestProjector(t)
	boardCalls := api.boardCalls

	card, err := projector.Move(context.Background(), reorder.Request{CardID: "B", TargetColumnID: "doing", TargetPosition: reorder.Position(1)})
	require.NoError(t, err)
	assert.Equal(t, "doing", card.ColumnID)
	assert.Equal(t, 1, card.Position)

	require.Len(t, api.moves, 1)
	require.NotNil(t, api.moves[0].ColumnVersion)
	assert.Equal(t, int64(1), *api.moves[0].ColumnVersion)
	require.NotNil(t, api.moves[0].NewColumnID)
	assert.Equal(t, "doing", *api.moves[0].NewColumnID)

	assert.Greater(t, api.boardCalls, boardCalls)
	assert.Empty(t, projector.Cache().StaleKeys(testBoard))
	columns, _ := projector.Cache().Columns(testBoard)
	assert.Equal(t, int64(2), columns[1].Version)
}

func TestCommitMarksViewsStale(t *testing.T) {
	projector, _ := newTestProjector(t)
	tx, _ := predict(t, projector, reorder.Request{CardID: "C", TargetPosition: reorder.Position(0)})
	assert.Equal(t, TxPredicted, tx.State())

	server := testCard("C", "todo", 0)
	require.NoError(t, tx.Commit(MoveResult{Card: server, ColumnVersions: map[string]int64{"todo": 9}}))
	assert.Equal(t, TxConfirmed, tx.State())
	assert.ElementsMatch(t, []string{
		CardsKey(testBoard),
		FilteredCardsKey(testBoard, url.Values{"column": {"todo"}}),
		ColumnsKey(testBoard),
	}, projector.Cache().StaleKeys(testBoard))

	require.ErrorIs(t, tx.Commit(MoveResult{Card: server}), ErrTxState)
	_, err := tx.Predict(reorder.Request{CardID: "C"})
	require.ErrorIs(t, err, ErrTxState)
}

func TestBeginMoveAllowsOneTransactionPerCard(t *testing.T) {
	projector, _ := newTestProjector(t)
	tx, err := projector.BeginMove("A")
	require.NoError(t, err)

	_, err = projector.BeginMove("A")
	require.ErrorIs(t, err, ErrMoveInFlight)

	other, err := projector.BeginMove("B")
	require.NoError(t, err)
	other.Abort()

	tx.Abort()
	again, err := projector.BeginMove("A")
	require.NoError(t, err)
	again.Abort()

	_, err = projector.BeginMove("ghost")
	require.ErrorIs(t, err, ErrCardNotCached)
}

func TestMovesKeepColumnsContiguous(t *testing.T) {
	projector, api := newTestProjector(t)
	rng := rand.New(rand.NewSource(42))
	cardIDs := []string{"A", "B", "C", "D", "E", "F"}
	columnIDs := []string{"", "todo", "doing", "done"}

	for i := 0; i < 200; i++ {
		req := reorder.Request{
			CardID:         cardIDs[rng.Intn(len(cardIDs))],
			TargetColumnID: columnIDs[rng.Intn(len(columnIDs))],
			TargetPosition: reorder.Position(rng.Intn(9) - 2),
		}
		_, err := projector.Move(context.Background(), req)
		require.NoError(t, err, "move %d %+v", i, req)

		columns, _ := projector.Cache().Columns(testBoard)
		server, _ := api.Board(context.Background(), testBoard)
		total := 0
		for j, column := range columns {
			slots := make([]reorder.Slot, 0, len(column.Cards))
			for _, card := range column.Cards {
				slots = append(slots, reorder.Slot{CardID: card.ID, ColumnID: column.ID, Position: card.Position})
			}
			require.Empty(t, reorder.Check(column.ID, slots), "move %d left column %s broken", i, column.ID)
			if diff := cmp.Diff(server.Columns[j].Cards, column.Cards); diff != "" {
				t.Fatalf("move %d: cache diverged from server (-server +cache):\n%s", i, diff)
			}
			total += len(column.Cards)
		}
		require.Equal(t, len(cardIDs), total)
	}
}

func TestPredictionMatchesServer(t *testing.T) {
	requests := []reorder.Request{
		{CardID: "A", TargetPosition: reorder.Position(2)},
		{CardID: "D", TargetPosition: reorder.Position(0)},
		{CardID: "B", TargetColumnID: "doing", TargetPosition: reorder.Position(1)},
		{CardID: "E", TargetColumnID: "todo", TargetPosition: reorder.Position(10)},
		{CardID: "F", TargetColumnID: "done", TargetPosition: reorder.Position(-1)},
	}
	for _, req := range requests {
		projector, api := newTestProjector(t)
		tx, _ := predict(t, projector, req)
		predicted, _ := projector.Cache().Columns(testBoard)

		moveReq := MoveRequest{CardID: req.CardID, NewPosition: req.TargetPosition}
		if req.TargetColumnID != "" {
			target := req.TargetColumnID
			moveReq.NewColumnID = &target
		}
		_, err := api.MoveCard(context.Background(), moveReq)
		require.NoError(t, err)
		server, _ := api.Board(context.Background(), testBoard)
		for i := range predicted {
			if diff := cmp.Diff(server.Columns[i].Cards, predicted[i].Cards); diff != "" {
				t.Fatalf("%+v: prediction differs from server (-server +predicted):\n%s", req, diff)
			}
		}
		tx.Abort()
	}
}

func TestToggleVoteIsSelfInverse(t *testing.T) {
	projector, _ := newTestProjector(t)
	cache := projector.Cache()
	columnsBefore, _ := cache.Columns(testBoard)
	listBefore, _ := cache.Cards(CardsKey(testBoard))

	first, err := projector.ToggleVote(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, "added", first.Action)
	assert.Equal(t, VoteResult{Action: "added", VoteCount: 1, UserHasVoted: true}, first)
	list, _ := cache.Cards(CardsKey(testBoard))
	for _, card := range list {
		if card.ID == "C" {
			assert.Equal(t, 1, card.VoteCount)
			assert.True(t, card.UserHasVoted)
		}
	}

	second, err := projector.ToggleVote(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, "removed", second.Action)

	columnsAfter, _ := cache.Columns(testBoard)
	listAfter, _ := cache.Cards(CardsKey(testBoard))
	if diff := cmp.Diff(columnsBefore, columnsAfter); diff != "" {
		t.Fatalf("two toggles changed the column view (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(listBefore, listAfter); diff != "" {
		t.Fatalf("two toggles changed the card list (-want +got):\n%s", diff)
	}
}

func TestToggleVoteRestoresOnFailure(t *testing.T) {
	projector, api := newTestProjector(t)
	api.voteErr = errors.New("connection reset")
	before, _ := projector.Cache().Cards(CardsKey(testBoard))

	_, err := projector.ToggleVote(context.Background(), "A")
	require.Error(t, err)

	after, _ := projector.Cache().Cards(CardsKey(testBoard))
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("failed vote left changes behind (-want +got):\n%s", diff)
	}
}

func TestInterleavedAbortsReturnToServerState(t *testing.T) {
	projector, api := newTestProjector(t)
	cache := projector.Cache()

	txA, _ := predict(t, projector, reorder.Request{CardID: "A", TargetPosition: reorder.Position(2)})
	txE, _ := predict(t, projector, reorder.Request{CardID: "E", TargetColumnID: "done", TargetPosition: reorder.Position(0)})
	txA.Abort()
	assert.Equal(t, map[string][]string{
		"todo":  {"A@0", "B@1", "C@2", "D@3"},
		"doing": {"F@0"},
		"done":  {"E@0"},
	}, order(t, cache), "aborting A keeps E's pending move")

	txE.Abort()
	assert.Equal(t, map[string][]string{
		"todo":  {"A@0", "B@1", "C@2", "D@3"},
		"doing": {"E@0", "F@1"},
		"done":  {},
	}, order(t, cache))
	assert.Equal(t, "todo@0", listPositions(t, cache, CardsKey(testBoard))["A"])
	assert.Equal(t, "doing@0", listPositions(t, cache, CardsKey(testBoard))["E"])
	assert.NotEmpty(t, cache.StaleKeys(testBoard), "overlapping rollbacks leave the board for refetch")

	require.NoError(t, projector.Refresh(context.Background(), testBoard))
	columns, _ := cache.Columns(testBoard)
	server, _ := api.Board(context.Background(), testBoard)
	if diff := cmp.Diff(server.Columns, columns); diff != "" {
		t.Fatalf("cache differs from server after refetch (-server +cache):\n%s", diff)
	}
	assert.Empty(t, cache.StaleKeys(testBoard))
}

func TestAbortInReverseOrderKeepsOtherPrediction(t *testing.T) {
	projector, _ := newTestProjector(t)
	cache := projector.Cache()

	txA, _ := predict(t, projector, reorder.Request{CardID: "A", TargetPosition: reorder.Position(3)})
	txF, _ := predict(t, projector, reorder.Request{CardID: "F", TargetColumnID: "todo", TargetPosition: reorder.Position(0)})
	txF.Abort()
	assert.Equal(t, map[string][]string{
		"todo":  {"B@0", "C@1", "D@2", "A@3"},
		"doing": {"E@0", "F@1"},
		"done":  {},
	}, order(t, cache), "the newest prediction rolls back exactly")
	assert.Empty(t, cache.StaleKeys(testBoard))

	txA.Abort()
	assert.Equal(t, []string{"A@0", "B@1", "C@2", "D@3"}, order(t, cache)["todo"])
}

func TestFailedVoteKeepsPendingMove(t *testing.T) {
	projector, api := newTestProjector(t)
	cache := projector.Cache()
	api.voteErr = errors.New("connection reset")
	api.readErr = errors.New("connection reset")

	tx, _ := predict(t, projector, reorder.Request{CardID: "B", TargetColumnID: "done"})
	_, err := projector.ToggleVote(context.Background(), "C")
	require.Error(t, err)

	list := listPositions(t, cache, CardsKey(testBoard))
	assert.Equal(t, "done@0", list["B"], "the pending move survives the vote rollback")
	assert.Equal(t, "todo@1", list["C"])
	cards, _ := cache.Cards(CardsKey(testBoard))
	for _, card := range cards {
		if card.ID == "C" {
			assert.False(t, card.UserHasVoted)
			assert.Equal(t, 0, card.VoteCount)
		}
	}
	assert.NotEmpty(t, cache.StaleKeys(testBoard), "a failed refetch leaves the board stale")

	api.readErr = nil
	tx.Abort()
	assert.Equal(t, map[string][]string{
		"todo":  {"A@0", "B@1", "C@2", "D@3"},
		"doing": {"E@0", "F@1"},
		"done":  {},
	}, order(t, cache))
	require.NoError(t, projector.Refresh(context.Background(), testBoard))
	assert.Empty(t, cache.StaleKeys(testBoard))
}

func TestAbortAfterRefetchKeepsServerData(t *testing.T) {
	projector, api := newTestProjector(t)
	cache := projector.Cache()

	tx, _ := predict(t, projector, reorder.Request{CardID: "A", TargetColumnID: "doing", TargetPosition: reorder.Position(0)})

	// Another client moves D to the front while the prediction is pending.
	front := 0
	_, err := api.MoveCard(context.Background(), MoveRequest{CardID: "D", NewPosition: &front})
	require.NoError(t, err)
	cache.MarkBoardStale(testBoard)
	require.NoError(t, projector.Refresh(context.Background(), testBoard))

	tx.Abort()
	columns, _ := cache.Columns(testBoard)
	server, _ := api.Board(context.Background(), testBoard)
	if diff := cmp.Diff(server.Columns, columns); diff != "" {
		t.Fatalf("abort discarded refetched data (-server +cache):\n%s", diff)
	}
}

func TestTxStateString(t *testing.T) {
	assert.Equal(t, "idle", TxIdle.String())
	assert.Equal(t, "predicted", TxPredicted.String())
	assert.Equal(t, "confirmed", TxConfirmed.String())
	assert.Equal(t, "rolled_back", TxRolledBack.String())
}
