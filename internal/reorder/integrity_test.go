package reorder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCheck(t *testing.T) {
	cases := []struct {
		name   string
		column []Slot
		want   []Violation
	}{
		{name: "empty", column: nil, want: []Violation{}},
		{name: "contiguous", column: column("todo", "A", "B", "C"), want: []Violation{}},
		{
			name: "gap",
			column: []Slot{
				{CardID: "A", ColumnID: "todo", Position: 0},
				{CardID: "B", ColumnID: "todo", Position: 2},
			},
			want: []Violation{{ColumnID: "todo", Position: 1, Kind: ViolationGap}},
		},
		{
			name: "duplicate",
			column: []Slot{
				{CardID: "A", ColumnID: "todo", Position: 0},
				{CardID: "B", ColumnID: "todo", Position: 0},
			},
			want: []Violation{
				{ColumnID: "todo", Position: 0, Kind: ViolationDuplicate, CardIDs: []string{"A", "B"}},
				{ColumnID: "todo", Position: 1, Kind: ViolationGap},
			},
		},
		{
			name: "negative",
			column: []Slot{
				{CardID: "A", ColumnID: "todo", Position: -1},
			},
			want: []Violation{
				{ColumnID: "todo", Position: -1, Kind: ViolationNegative, CardIDs: []string{"A"}},
				{ColumnID: "todo", Position: 0, Kind: ViolationGap},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Check("todo", tc.column)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("Check() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	broken := []Slot{
		{CardID: "A", ColumnID: "todo", Position: 0},
		{CardID: "B", ColumnID: "todo", Position: 3},
		{CardID: "C", ColumnID: "todo", Position: 3},
		{CardID: "D", ColumnID: "todo", Position: 7},
	}
	want := []Update{
		{CardID: "B", ColumnID: "todo", From: 3, Position: 1},
		{CardID: "C", ColumnID: "todo", From: 3, Position: 2},
		{CardID: "D", ColumnID: "todo", From: 7, Position: 3},
	}
	if diff := cmp.Diff(want, Normalize(broken)); diff != "" {
		t.Fatalf("Normalize() mismatch (-want +got):\n%s", diff)
	}
	if got := Normalize(column("todo", "A", "B")); len(got) != 0 {
		t.Fatalf("expected no updates for a contiguous column, got %+v", got)
	}
}
