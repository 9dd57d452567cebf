package catalog

import (
	"context"
	"errors"

	"github.com/avvvet/duel-services/internal/effect"
)

// ErrCardNotFound is returned when the catalog has no card for the id.
var ErrCardNotFound = errors.New("card not found")

// CardGetter is the read surface the resolution service needs.
type CardGetter interface {
	GetCardByID(ctx context.Context, cardID int64) (*Card, error)
}

// Service resolves chance-based effects for catalogued cards. The seed is
// derived from the match identifiers, so either peer calling ResolveEffect
// with the same arguments computes the same outcome.
type Service struct {
	cards CardGetter
}

func NewService(cards CardGetter) *Service {
	return &Service{cards: cards}
}

func (s *Service) GetCard(ctx context.Context, cardID int64) (*Card, error) {
	card, err := s.cards.GetCardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, ErrCardNotFound
	}
	return card, nil
}

// ResolveEffect resolves the card's effect for one play. A nil outcome with
// nil error means the card has no random component.
func (s *Service) ResolveEffect(ctx context.Context, matchID string, position, round int, cardID int64) (*effect.Outcome, error) {
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	src := effect.NewSource(matchID, position, round)
	return effect.Resolve(card.Description, card.Title, card.BasePoints, src), nil
}
