package reorder

import "sort"

// ViolationKind names a broken position invariant.
type ViolationKind string

const (
	ViolationGap       ViolationKind = "gap"
	ViolationDuplicate ViolationKind = "duplicate"
	ViolationNegative  ViolationKind = "negative"
)

// Violation reports one position that breaks the 0..n-1 sequence of a column.
type Violation struct {
	ColumnID string        `json:"columnId"`
	Position int           `json:"position"`
	Kind     ViolationKind `json:"kind"`
	CardIDs  []string      `json:"cardIds,omitempty"`
}

// Check returns every violation in one column's active cards. An empty result
// means the positions are exactly {0, 1, ..., len(column)-1}.
func Check(columnID string, column []Slot) []Violation {
	byPosition := make(map[int][]string, len(column))
	for _, slot := range column {
		byPosition[slot.Position] = append(byPosition[slot.Position], slot.CardID)
	}

	violations := make([]Violation, 0)
	positions := make([]int, 0, len(byPosition))
	for position := range byPosition {
		positions = append(positions, position)
	}
	sort.Ints(positions)

	for _, position := range positions {
		cards := byPosition[position]
		if position < 0 {
			violations = append(violations, Violation{ColumnID: columnID, Position: position, Kind: ViolationNegative, CardIDs: cards})
			continue
		}
		if len(cards) > 1 {
			violations = append(violations, Violation{ColumnID: columnID, Position: position, Kind: ViolationDuplicate, CardIDs: cards})
		}
	}
	for position := 0; position < len(column); position++ {
		if _, ok := byPosition[position]; !ok {
			violations = append(violations, Violation{ColumnID: columnID, Position: position, Kind: ViolationGap})
		}
	}
	return violations
}

// Normalize renumbers a column to 0..n-1 keeping the current relative order.
// Ties keep the order they were given in. Only cards whose position changes are
// returned.
func Normalize(column []Slot) []Update {
	ordered := sortedCopy(column)
	updates := make([]Update, 0)
	for i, slot := range ordered {
		if slot.Position == i {
			continue
		}
		updates = append(updates, Update{CardID: slot.CardID, ColumnID: slot.ColumnID, From: slot.Position, Position: i})
	}
	return updates
}
