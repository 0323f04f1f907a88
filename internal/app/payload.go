package app

import (
	"ideaboard/api/internal/store"
)

func boardPayload(board store.Board) map[string]any {
	return map[string]any{
		"id":          board.ID,
		"name":        board.Name,
		"description": board.Description,
		"created_by":  board.CreatedBy,
		"created_at":  board.CreatedAt,
		"updated_at":  board.UpdatedAt,
	}
}

func columnPayload(column store.Column) map[string]any {
	return map[string]any{
		"id":         column.ID,
		"board_id":   column.BoardID,
		"name":       column.Name,
		"color":      column.Color,
		"position":   column.Position,
		"card_limit": column.CardLimit,
		"version":    column.Version,
		"created_at": column.CreatedAt,
		"updated_at": column.UpdatedAt,
	}
}

func cardPayload(card store.Card) map[string]any {
	tags := card.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"id":          card.ID,
		"column_id":   card.ColumnID,
		"creator_id":  card.CreatorID,
		"title":       card.Title,
		"description": card.Description,
		"position":    card.Position,
		"priority":    card.Priority,
		"status":      card.Status,
		"tags":        tags,
		"created_at":  card.CreatedAt,
		"updated_at":  card.UpdatedAt,
	}
}

func cardChangePayload(change store.CardChange) map[string]any {
	payload := cardPayload(change.Card)
	payload["board_id"] = change.BoardID
	return payload
}

func cardDetailsPayload(card store.CardDetails) map[string]any {
	payload := cardPayload(card.Card)
	payload["board_id"] = card.BoardID
	payload["creator"] = map[string]any{"id": card.CreatorID, "display_name": card.CreatorName}
	payload["vote_count"] = card.VoteCount
	payload["comment_count"] = card.CommentCount
	payload["user_has_voted"] = card.UserHasVoted
	return payload
}

func commentPayload(comment store.Comment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"card_id":    comment.CardID,
		"user_id":    comment.UserID,
		"user":       map[string]any{"id": comment.UserID, "display_name": comment.UserName},
		"content":    comment.Content,
		"created_at": comment.CreatedAt,
		"updated_at": comment.UpdatedAt,
	}
}

func nonNilItems(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}
