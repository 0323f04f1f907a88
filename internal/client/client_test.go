package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginKeepsToken(t *testing.T) {
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/session/login":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token": "tok-" + body["name"],
				"user":  map[string]any{"id": "user-1", "display_name": body["name"], "role": "member"},
			})
		case "/api/boards":
			authHeader = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(map[string]any{"boards": []map[string]any{{"id": "board-1", "name": "Ideas"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := New(server.URL + "/")
	session, err := c.Login(context.Background(), "Avery")
	require.NoError(t, err)
	assert.Equal(t, "tok-Avery", session.Token)
	assert.Equal(t, "member", session.User.Role)

	boards, err := c.Boards(context.Background())
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "Ideas", boards[0].Name)
	assert.Equal(t, "Bearer tok-Avery", authHeader)
}

func TestMoveCardDecodesEnvelope(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/cards/reorder", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":        true,
			"data":           map[string]any{"id": "card-1", "column_id": "col-2", "position": 1, "board_id": "board-1"},
			"columnVersions": map[string]int64{"col-1": 3, "col-2": 5},
		})
	}))
	defer server.Close()

	column := "col-2"
	position := 1
	version := int64(4)
	result, err := New(server.URL, WithToken("tok")).MoveCard(context.Background(), MoveRequest{
		CardID: "card-1", NewColumnID: &column, NewPosition: &position, ColumnVersion: &version,
	})
	require.NoError(t, err)
	assert.Equal(t, "col-2", result.Card.ColumnID)
	assert.Equal(t, 1, result.Card.Position)
	assert.Equal(t, map[string]int64{"col-1": 3, "col-2": 5}, result.ColumnVersions)
	assert.Equal(t, map[string]any{"cardId": "card-1", "newColumnId": "col-2", "newPosition": float64(1), "columnVersion": float64(4)}, got)
}

func TestMoveCardOmitsUnsetFields(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"id": "card-1"}, "noop": true})
	}))
	defer server.Close()

	result, err := New(server.URL).MoveCard(context.Background(), MoveRequest{CardID: "card-1"})
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assert.Equal(t, map[string]any{"cardId": "card-1"}, got)
}

func TestErrorsBecomeAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/cards/reorder":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Column changed", "code": "STALE_COLUMN"})
		case "/api/cards/card-1/vote":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": "NOT_FOUND", "error": "Not found"})
		default:
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream down")
		}
	}))
	defer server.Close()
	c := New(server.URL)

	_, err := c.MoveCard(context.Background(), MoveRequest{CardID: "card-1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "STALE_COLUMN", apiErr.Code)

	_, err = c.ToggleVote(context.Background(), "card-1")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)

	_, err = c.Boards(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP_ERROR", apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestCardsEncodesFilter(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_ = json.NewEncoder(w).Encode(map[string]any{"cards": []map[string]any{{"id": "a", "vote_count": 2, "user_has_voted": true}}})
	}))
	defer server.Close()

	cards, err := New(server.URL).Cards(context.Background(), "board-1", url.Values{"priority": {"high"}, "column": {"todo"}})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, 2, cards[0].VoteCount)
	assert.True(t, cards[0].UserHasVoted)
	assert.Equal(t, "high", query.Get("priority"))
	assert.Equal(t, "todo", query.Get("column"))
}

func TestWatchParsesChangeEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/boards/board-1/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: change\ndata: {\"table\":\"cards\",\"event\":\"UPDATE\",\"boardId\":\"board-1\",\"cardId\":\"a\"}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: other\ndata: {}\n\n")
		fmt.Fprint(w, "event: change\ndata: {\"table\":\"votes\",\"event\":\"INSERT\",\"boardId\":\"board-1\",\"cardId\":\"b\"}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []Event
	err := New(server.URL).Watch(ctx, "board-1", func(ev Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "cards", events[0].Table)
	assert.Equal(t, "UPDATE", events[0].Kind)
	assert.Equal(t, "b", events[1].CardID)
}

func TestWatchAndRefreshRefetchesStaleViews(t *testing.T) {
	boardCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/boards/board-1":
			boardCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{"board": map[string]any{
				"id":      "board-1",
				"columns": []map[string]any{{"id": "todo", "version": boardCalls, "cards": []map[string]any{}}},
			}})
		case "/api/boards/board-1/stream":
			fmt.Fprint(w, "event: change\ndata: {\"table\":\"cards\",\"event\":\"INSERT\",\"boardId\":\"board-1\"}\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := New(server.URL)
	projector := NewProjector(NewCache(), c)
	board, err := c.Board(context.Background(), "board-1")
	require.NoError(t, err)
	projector.Cache().SetColumns("board-1", board.Columns)

	var refreshErr error
	require.NoError(t, projector.WatchAndRefresh(context.Background(), c, "board-1", func(err error) { refreshErr = err }))
	require.NoError(t, refreshErr)
	assert.Equal(t, 2, boardCalls)
	columns, ok := projector.Cache().Columns("board-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), columns[0].Version)
	assert.False(t, projector.Cache().Stale(ColumnsKey("board-1")))
}

func TestClientIsSafeForConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/session/login" {
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-new", "user": map[string]any{"id": "user-1"}})
			return
		}
		mu.Lock()
		seen[r.Header.Get("Authorization")]++
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"boards": []map[string]any{}})
	}))
	defer server.Close()

	c := New(server.URL, WithToken("tok-old"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Boards(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Login(context.Background(), "Avery")
		assert.NoError(t, err)
	}()
	wg.Wait()

	total := 0
	for header, count := range seen {
		assert.Contains(t, []string{"Bearer tok-old", "Bearer tok-new"}, header)
		total += count
	}
	assert.Equal(t, 8, total)
}
