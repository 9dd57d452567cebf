package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetCardByID(ctx context.Context, cardID int64) (*Card, error) {
	query := `
		SELECT id, title, description, base_points, created_at, updated_at
		FROM cards
		WHERE id = $1
	`

	card := &Card{}
	err := s.db.QueryRow(ctx, query, cardID).Scan(
		&card.ID,
		&card.Title,
		&card.Description,
		&card.BasePoints,
		&card.CreatedAt,
		&card.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to get card by ID: %w", err)
	}

	return card, nil
}

// GetCardsByIDs loads a deck's cards in one round trip.
func (s *Store) GetCardsByIDs(ctx context.Context, cardIDs []int64) ([]*Card, error) {
	query := `
		SELECT id, title, description, base_points, created_at, updated_at
		FROM cards
		WHERE id = ANY($1)
	`

	rows, err := s.db.Query(ctx, query, cardIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards: %w", err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		card := &Card{}
		if err := rows.Scan(
			&card.ID,
			&card.Title,
			&card.Description,
			&card.BasePoints,
			&card.CreatedAt,
			&card.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cards, nil
}
