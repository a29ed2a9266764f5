package composite

import (
	"context"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// Repo fans writes out to several repositories and reads from the first one
// that answers. nil members are dropped at construction.
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) SaveOpportunity(ctx context.Context, opp *model.SpreadOpportunity) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveOpportunity(ctx, opp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) LatestOpportunity(ctx context.Context, symbol string) (*model.SpreadOpportunity, error) {
	var firstErr error
	for _, repo := range r.repos {
		opp, err := repo.LatestOpportunity(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if opp != nil {
			return opp, nil
		}
	}
	return nil, firstErr
}

func (r *Repo) SaveExecution(ctx context.Context, fill *port.ExecutionFill) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveExecution(ctx, fill); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) Close() error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.Repository = (*Repo)(nil)
