package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

type sequenceGenerator struct {
	db *sql.DB
	id string
}

// NewSequence создаёт счётчик номеров заказов в таблице order_counters.
func NewSequence(store *Store) domain.SequenceGenerator {
	return &sequenceGenerator{db: store.DB(), id: domain.OrderSequenceID}
}

func (g *sequenceGenerator) Init(ctx context.Context) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if _, err := g.db.ExecContext(ctx, `
		INSERT INTO order_counters (id, value) VALUES ($1, 0)
		ON CONFLICT (id) DO NOTHING
	`, g.id); err != nil {
		return fmt.Errorf("init order sequence: %w", err)
	}
	return nil
}

// Next увеличивает счётчик атомарно на стороне БД: строка блокируется на время UPDATE.
func (g *sequenceGenerator) Next(ctx context.Context) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var value int64
	err := g.db.QueryRowContext(ctx, `
		UPDATE order_counters
		SET value = value + 1
		WHERE id = $1
		RETURNING value
	`, g.id).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrSequenceNotInitialized
		}
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	return value, nil
}

var _ domain.SequenceGenerator = (*sequenceGenerator)(nil)
