package search

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	loader   func(ctx context.Context) ([]CardRecord, error)
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.WithError(err).Warn("search: meilisearch error, falling back to pgfts")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.WithError(err).Error("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCard indexes a card (fire-and-forget to Meilisearch).
func (s *Service) IndexCard(card CardRecord) {
	if s.indexer == nil || !s.primaryReady() {
		return
	}
	go func() {
		if err := s.indexer.IndexCard(card); err != nil {
			log.WithError(err).WithField("card", card.ID).Warn("search: index card")
		}
	}()
}

// ReindexAll reads every card from PG and pushes it to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.indexer == nil || !s.primaryReady() || s.loader == nil {
		return
	}
	cards, err := s.loader(ctx)
	if err != nil {
		log.WithError(err).Warn("search: reindex load failed")
		return
	}
	if err := s.indexer.IndexCards(cards); err != nil {
		log.WithError(err).Warn("search: reindex cards")
		return
	}
	log.WithField("cards", len(cards)).Info("search: reindexed cards")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
