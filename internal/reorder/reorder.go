// Package reorder computes card position reconciliation plans.
//
// A plan is pure data: the Postgres store executes it inside a transaction and
// the client cache applies it speculatively before the server answers. Both
// sides call ComputeReindex so their results cannot drift apart.
package reorder

import (
	"errors"
	"fmt"
	"sort"
)

// Slot is the placement of one active card.
type Slot struct {
	CardID   string
	ColumnID string
	Position int
}

// Request describes a card move. An empty TargetColumnID keeps the card in its
// column and a nil TargetPosition keeps its position.
type Request struct {
	CardID         string
	TargetColumnID string
	TargetPosition *int
}

// Update moves one displaced card from From to Position inside ColumnID.
type Update struct {
	CardID   string
	ColumnID string
	From     int
	Position int
}

// Plan is the full set of writes a move needs. Shifts are listed in an order
// that never places two active cards on the same position once the moved card
// has left its old slot.
type Plan struct {
	CardID         string
	SourceColumnID string
	SourcePosition int
	TargetColumnID string
	TargetPosition int
	Shifts         []Update
	NoOp           bool
}

var (
	ErrMissingCard  = errors.New("card id is required")
	ErrCardNotFound = errors.New("card is not in the source column")
)

// Position returns a pointer to p, for building requests.
func Position(p int) *int {
	return &p
}

// CrossColumn reports whether the plan moves the card to another column.
func (p Plan) CrossColumn() bool {
	return p.SourceColumnID != p.TargetColumnID
}

// Lookup returns the slot a card occupies once the plan is applied. ok is false
// for cards the plan does not touch.
func (p Plan) Lookup(cardID string) (Slot, bool) {
	if p.NoOp {
		return Slot{}, false
	}
	if cardID == p.CardID {
		return Slot{CardID: cardID, ColumnID: p.TargetColumnID, Position: p.TargetPosition}, true
	}
	for _, shift := range p.Shifts {
		if shift.CardID == cardID {
			return Slot{CardID: cardID, ColumnID: shift.ColumnID, Position: shift.Position}, true
		}
	}
	return Slot{}, false
}

// ComputeReindex resolves a move of req.CardID out of source into dest.
// source holds the active cards of the card's current column. dest holds the
// active cards of the target column and is ignored when the move stays in the
// same column. The target position is clamped to [0, len(dest)] across
// columns and to [0, len(source)-1] within one.
func ComputeReindex(source, dest []Slot, req Request) (Plan, error) {
	if req.CardID == "" {
		return Plan{}, ErrMissingCard
	}
	source = sortedCopy(source)

	moved, ok := find(source, req.CardID)
	if !ok {
		return Plan{}, fmt.Errorf("card %s: %w", req.CardID, ErrCardNotFound)
	}

	plan := Plan{
		CardID:         moved.CardID,
		SourceColumnID: moved.ColumnID,
		SourcePosition: moved.Position,
		TargetColumnID: req.TargetColumnID,
		TargetPosition: moved.Position,
	}
	if plan.TargetColumnID == "" {
		plan.TargetColumnID = moved.ColumnID
	}
	if req.TargetPosition != nil {
		plan.TargetPosition = *req.TargetPosition
	}

	if !plan.CrossColumn() {
		plan.TargetPosition = clamp(plan.TargetPosition, len(source)-1)
		if plan.TargetPosition == plan.SourcePosition {
			plan.NoOp = true
			return plan, nil
		}
		plan.Shifts = shiftWithinColumn(source, plan.SourcePosition, plan.TargetPosition)
		return plan, nil
	}

	dest = sortedCopy(dest)
	plan.TargetPosition = clamp(plan.TargetPosition, len(dest))

	shifts := make([]Update, 0, len(source)+len(dest))
	for _, slot := range source {
		if slot.Position > plan.SourcePosition {
			shifts = append(shifts, Update{CardID: slot.CardID, ColumnID: slot.ColumnID, From: slot.Position, Position: slot.Position - 1})
		}
	}
	for i := len(dest) - 1; i >= 0; i-- {
		slot := dest[i]
		if slot.CardID == plan.CardID {
			continue
		}
		if slot.Position >= plan.TargetPosition {
			shifts = append(shifts, Update{CardID: slot.CardID, ColumnID: slot.ColumnID, From: slot.Position, Position: slot.Position + 1})
		}
	}
	plan.Shifts = shifts
	return plan, nil
}

func shiftWithinColumn(column []Slot, from, to int) []Update {
	shifts := make([]Update, 0, abs(to-from))
	if from < to {
		for _, slot := range column {
			if slot.Position > from && slot.Position <= to {
				shifts = append(shifts, Update{CardID: slot.CardID, ColumnID: slot.ColumnID, From: slot.Position, Position: slot.Position - 1})
			}
		}
		return shifts
	}
	for i := len(column) - 1; i >= 0; i-- {
		slot := column[i]
		if slot.Position >= to && slot.Position < from {
			shifts = append(shifts, Update{CardID: slot.CardID, ColumnID: slot.ColumnID, From: slot.Position, Position: slot.Position + 1})
		}
	}
	return shifts
}

// Append returns the position a new card takes at the end of column.
func Append(column []Slot) int {
	next := 0
	for _, slot := range column {
		if slot.Position+1 > next {
			next = slot.Position + 1
		}
	}
	return next
}

// Removal returns the shifts that close the gap left when cardID leaves column,
// ordered ascending.
func Removal(column []Slot, cardID string) ([]Update, error) {
	column = sortedCopy(column)
	removed, ok := find(column, cardID)
	if !ok {
		return nil, fmt.Errorf("card %s: %w", cardID, ErrCardNotFound)
	}
	shifts := make([]Update, 0, len(column))
	for _, slot := range column {
		if slot.Position > removed.Position {
			shifts = append(shifts, Update{CardID: slot.CardID, ColumnID: slot.ColumnID, From: slot.Position, Position: slot.Position - 1})
		}
	}
	return shifts, nil
}

func sortedCopy(slots []Slot) []Slot {
	out := make([]Slot, len(slots))
	copy(out, slots)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

func find(slots []Slot, cardID string) (Slot, bool) {
	for _, slot := range slots {
		if slot.CardID == cardID {
			return slot, true
		}
	}
	return Slot{}, false
}

func clamp(value, upper int) int {
	if upper < 0 {
		upper = 0
	}
	if value < 0 {
		return 0
	}
	if value > upper {
		return upper
	}
	return value
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
