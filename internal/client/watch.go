package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Watch streams a board's change events to fn until ctx is done or the
// server closes the stream. Comment lines and unknown event types are
// skipped.
func (c *Client) Watch(ctx context.Context, boardID string, fn func(Event)) error {
	path := "/api/boards/" + url.PathEscape(boardID) + "/stream"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the regular request timeout.
	streamClient := *c.http
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	eventType := ""
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventType == "change" && data.Len() > 0 {
				var ev Event
				if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
					fn(ev)
				}
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return ctx.Err()
}

// WatchAndRefresh keeps the projector's views of a board current by
// refetching every time a change event arrives.
func (p *Projector) WatchAndRefresh(ctx context.Context, c *Client, boardID string, onError func(error)) error {
	return c.Watch(ctx, boardID, func(ev Event) {
		p.cache.MarkBoardStale(ev.BoardID)
		if err := p.Refresh(ctx, ev.BoardID); err != nil && onError != nil {
			onError(err)
		}
	})
}
