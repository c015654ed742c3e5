// Package usecase ties the orchestrator, the filter pipeline, the store and
// the notifiers into the operations the CLI exposes.
package usecase

import (
	"context"
	"log/slog"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/filter"
	"github.com/katerpii/issue-agent/internal/orchestrator"
)

// queryRunner is the slice of QueryService the subscription side needs.
type queryRunner interface {
	Execute(ctx context.Context, query domain.Query) (domain.FilteredResult, error)
}

// QueryService answers one-off queries.
type QueryService struct {
	orchestrator *orchestrator.Orchestrator
	pipeline     *filter.Pipeline
	log          *slog.Logger
}

var _ queryRunner = (*QueryService)(nil)

// NewQueryService wires the fan-out and reduce halves together.
func NewQueryService(o *orchestrator.Orchestrator, p *filter.Pipeline, log *slog.Logger) *QueryService {
	return &QueryService{orchestrator: o, pipeline: p, log: log}
}

// Run validates the raw request fields and executes the query.
func (s *QueryService) Run(ctx context.Context, keywords, sources []string, detail string, rng *domain.DateRange) (domain.FilteredResult, error) {
	query, err := domain.NewQuery(keywords, sources, detail, rng)
	if err != nil {
		return domain.FilteredResult{}, err
	}
	return s.Execute(ctx, query)
}

// Execute fans the query out to its sources and reduces the answers into
// one digest. Individual source failures are reported by the orchestrator
// and do not fail the query.
func (s *QueryService) Execute(ctx context.Context, query domain.Query) (domain.FilteredResult, error) {
	bundle, err := s.orchestrator.Dispatch(ctx, query)
	if err != nil {
		return domain.FilteredResult{}, err
	}
	return s.pipeline.Reduce(ctx, query, bundle), nil
}
