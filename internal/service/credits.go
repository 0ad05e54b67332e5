package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/events"
	"github.com/mmeshcher/cardbook/internal/metrics"
	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/repository"
	"github.com/mmeshcher/cardbook/internal/validation"
)

// ListCredits возвращает все кредиты в порядке истечения.
func (s *Service) ListCredits(ctx context.Context) ([]model.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.ListCredits(ctx, repository.CreditFilter{})
}

// GetCredit возвращает кредит по идентификатору.
func (s *Service) GetCredit(ctx context.Context, id uuid.UUID) (*model.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.GetCredit(ctx, id)
}

// CreditsForCard возвращает кредиты карты, отсортированные по названию.
func (s *Service) CreditsForCard(ctx context.Context, cardID uuid.UUID) ([]model.Credit, error) {
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.Credits == nil {
		return []model.Credit{}, nil
	}
	return card.Credits, nil
}

func (s *Service) filterCredits(ctx context.Context, keep func(model.Credit) bool) ([]model.Credit, error) {
	credits, err := s.ListCredits(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.Credit, 0, len(credits))
	for _, c := range credits {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// SearchCredits ищет кредиты по подстроке в названии или категории без учёта регистра.
// Пустой запрос возвращает все кредиты.
func (s *Service) SearchCredits(ctx context.Context, query string) ([]model.Credit, error) {
	return s.filterCredits(ctx, func(c model.Credit) bool {
		return query == "" || containsFold(c.Name, query) || containsFold(c.Category, query)
	})
}

// CreditsByCategory возвращает кредиты, категория которых содержит category.
func (s *Service) CreditsByCategory(ctx context.Context, category string) ([]model.Credit, error) {
	return s.filterCredits(ctx, func(c model.Credit) bool {
		return containsFold(c.Category, category)
	})
}

// CreditsByUsage возвращает использованные или доступные кредиты.
func (s *Service) CreditsByUsage(ctx context.Context, used bool) ([]model.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.ListCredits(ctx, repository.CreditFilter{IsUsed: &used})
}

// ExpiringCredits возвращает неиспользованные кредиты, которые скоро истекают.
func (s *Service) ExpiringCredits(ctx context.Context) ([]model.Credit, error) {
	return s.filterCredits(ctx, func(c model.Credit) bool {
		return !c.IsUsed && s.engine.IsExpiringSoon(c)
	})
}

// AddCredit добавляет кредит к карте cardID.
func (s *Service) AddCredit(ctx context.Context, cardID uuid.UUID, credit model.Credit) (*model.Credit, error) {
	credit.ID = uuid.Nil
	credit = s.prepareCredit(cardID, credit)
	if err := validation.Credit(credit); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.UpsertCredit(ctx, credit); err != nil {
		return nil, err
	}

	s.commit(ctx,
		events.CreditsChanged{CreditIDs: []uuid.UUID{credit.ID}, Reason: "added"},
		events.CardsChanged{CardIDs: []uuid.UUID{cardID}, Reason: "credits"},
	)
	return &credit, nil
}

// UpdateCredit сохраняет изменённый кредит. Принадлежность карте не меняется.
func (s *Service) UpdateCredit(ctx context.Context, credit model.Credit) (*model.Credit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetCredit(ctx, credit.ID)
	if err != nil {
		return nil, err
	}

	credit = s.prepareCredit(existing.CardID, credit)
	if err := validation.Credit(credit); err != nil {
		return nil, err
	}
	if err := s.store.UpsertCredit(ctx, credit); err != nil {
		return nil, err
	}

	s.commit(ctx, events.CreditsChanged{CreditIDs: []uuid.UUID{credit.ID}, Reason: "updated"})
	return &credit, nil
}

// DeleteCredit удаляет кредит.
func (s *Service) DeleteCredit(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteCredit(ctx, id); err != nil {
		return err
	}

	s.commit(ctx, events.CreditsChanged{CreditIDs: []uuid.UUID{id}, Reason: "deleted"})
	return nil
}

// ToggleUsage меняет отметку об использовании кредита на противоположную.
// Продление при этом не выполняется.
func (s *Service) ToggleUsage(ctx context.Context, id uuid.UUID) (*model.Credit, error) {
	return s.setUsage(ctx, id, func(c *model.Credit) {
		c.ToggleUsage(s.engine.Now())
	})
}

// MarkUsed отмечает кредит использованным.
func (s *Service) MarkUsed(ctx context.Context, id uuid.UUID) (*model.Credit, error) {
	return s.setUsage(ctx, id, func(c *model.Credit) {
		if !c.IsUsed {
			c.MarkUsed(s.engine.Now())
		}
	})
}

// MarkUnused снимает отметку об использовании.
func (s *Service) MarkUnused(ctx context.Context, id uuid.UUID) (*model.Credit, error) {
	return s.setUsage(ctx, id, func(c *model.Credit) {
		c.MarkUnused()
	})
}

func (s *Service) setUsage(ctx context.Context, id uuid.UUID, apply func(*model.Credit)) (*model.Credit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credit, err := s.store.GetCredit(ctx, id)
	if err != nil {
		return nil, err
	}

	apply(credit)
	if err := s.store.UpsertCredit(ctx, *credit); err != nil {
		s.logger.Error("save credit usage failed", zap.String("creditID", id.String()), zap.Error(err))
		return nil, err
	}

	state := "unused"
	if credit.IsUsed {
		state = "used"
	}
	metrics.UsageToggles.WithLabelValues(state).Inc()

	s.commit(ctx, events.CreditsChanged{CreditIDs: []uuid.UUID{id}, Reason: "usage"})
	return credit, nil
}

// CreditSummary возвращает сводную статистику по всем кредитам.
func (s *Service) CreditSummary(ctx context.Context) (model.CreditSummary, error) {
	credits, err := s.ListCredits(ctx)
	if err != nil {
		return model.CreditSummary{}, err
	}

	sum := model.CreditSummary{TotalCredits: len(credits)}
	for _, c := range credits {
		sum.TotalValue = sum.TotalValue.Add(c.Amount)
		if c.IsUsed {
			sum.UsedCredits++
			sum.UsedValue = sum.UsedValue.Add(c.Amount)
			continue
		}
		sum.AvailableCredits++
		sum.AvailableValue = sum.AvailableValue.Add(c.Amount)
		if s.engine.IsExpiringSoon(c) {
			sum.ExpiringCredits++
		}
	}
	sum.UtilizationRate = percentage(sum.UsedValue, sum.TotalValue)
	return sum, nil
}

// Dashboard возвращает агрегаты по картам для главного экрана.
func (s *Service) Dashboard(ctx context.Context) (model.DashboardSummary, error) {
	cards, err := s.ListCards(ctx)
	if err != nil {
		return model.DashboardSummary{}, err
	}

	d := model.DashboardSummary{TotalCards: len(cards)}
	for _, card := range cards {
		d.TotalCredits += len(card.Credits)
		for _, c := range card.Credits {
			if c.IsUsed {
				d.TotalUsedValue = d.TotalUsedValue.Add(c.Amount)
				continue
			}
			d.TotalAvailableValue = d.TotalAvailableValue.Add(c.Amount)
			if s.engine.IsExpiringSoon(c) {
				d.ExpiringCreditsCount++
			}
		}
	}
	d.UtilizationPercentage = percentage(d.TotalUsedValue, d.TotalAvailableValue.Add(d.TotalUsedValue))
	return d, nil
}

func percentage(part, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	return part.Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
