package app

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ideaboard/api/internal/reorder"
	"ideaboard/api/internal/store"
)

func TestMoveCardRecordsSpan(t *testing.T) {
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	svc := newTestService(&fakeStore{
		moveCardFn: func(_ context.Context, input store.MoveInput) (store.CardChange, error) {
			return store.CardChange{
				Card:    store.Card{ID: input.CardID, ColumnID: "col-2", Position: 1},
				BoardID: "board-1",
				Shifts: []reorder.Update{
					{CardID: "other", ColumnID: "col-2", From: 1, Position: 2},
				},
			}, nil
		},
	})

	if _, err := svc.MoveCard(context.Background(), MoveCardInput{CardID: "card-1"}); err != nil {
		t.Fatalf("move card: %v", err)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "reorder.move_card" {
		t.Fatalf("unexpected span name %q", span.Name)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["ideaboard.card_id"] != "card-1" {
		t.Fatalf("unexpected card attribute: %#v", attrs["ideaboard.card_id"])
	}
	if attrs["ideaboard.shifted_cards"] != int64(1) {
		t.Fatalf("unexpected shifted_cards attribute: %#v", attrs["ideaboard.shifted_cards"])
	}
	if attrs["ideaboard.position"] != int64(1) {
		t.Fatalf("unexpected position attribute: %#v", attrs["ideaboard.position"])
	}
}

func TestFailedMoveMarksSpanAsError(t *testing.T) {
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	svc := newTestService(&fakeStore{
		moveCardFn: func(context.Context, store.MoveInput) (store.CardChange, error) {
			return store.CardChange{}, store.ErrStaleColumn
		},
	})
	if _, err := svc.MoveCard(context.Background(), MoveCardInput{CardID: "card-1"}); err == nil {
		t.Fatal("expected stale column error")
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status.Code)
	}
}

func TestToggleVoteRecordsSpan(t *testing.T) {
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	svc := newTestService(&fakeStore{})
	if _, err := svc.ToggleVote(context.Background(), memberSession(), "card-1"); err != nil {
		t.Fatalf("toggle vote: %v", err)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "vote.toggle" {
		t.Fatalf("expected a vote.toggle span, got %+v", spans)
	}
	attrs := attributesToMap(spans[0].Attributes)
	if attrs["ideaboard.vote_action"] != "added" {
		t.Fatalf("unexpected vote action attribute: %#v", attrs["ideaboard.vote_action"])
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		out[string(attr.Key)] = attr.Value.AsInterface()
	}
	return out
}
