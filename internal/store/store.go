package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns the Postgres connection pool. All persistence for calls,
// campaigns, hypotheses, claims, the webhook ledger and the checklist goes
// through it.
type Store struct {
	pool *pgxpool.Pool
}

// New opens the pool and verifies the database is reachable before anything
// else starts.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// vectorLiteral renders an embedding in the "[f1,f2,...]" text form the
// vector column type accepts as a bind parameter.
func vectorLiteral(embedding []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
