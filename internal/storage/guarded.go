package storage

import (
	"context"

	"safeguard/internal/breaker"
	"safeguard/internal/model"
)

// guardedStore routes writes through a Breaker. Reads and schema setup go
// straight to the backend.
type guardedStore struct {
	Store
	breaker *breaker.Breaker
}

// WithBreaker wraps s so a failing database does not stall the stream.
func WithBreaker(s Store, b *breaker.Breaker) Store {
	if s == nil || b == nil {
		return s
	}
	return &guardedStore{Store: s, breaker: b}
}

func (g *guardedStore) SaveAssessment(ctx context.Context, a model.Assessment) error {
	return g.breaker.Do(func() error { return g.Store.SaveAssessment(ctx, a) })
}

func (g *guardedStore) SaveAlert(ctx context.Context, rec model.AlertRecord) error {
	return g.breaker.Do(func() error { return g.Store.SaveAlert(ctx, rec) })
}
