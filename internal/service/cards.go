package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/events"
	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/renewal"
	"github.com/mmeshcher/cardbook/internal/validation"
)

// ListCards возвращает все карты, новые первыми.
func (s *Service) ListCards(ctx context.Context) ([]model.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.ListCards(ctx)
}

// GetCard возвращает карту вместе с кредитами.
func (s *Service) GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.GetCard(ctx, id)
}

// SearchCards ищет карты по подстроке в названии, типе или эмитенте без учёта регистра.
func (s *Service) SearchCards(ctx context.Context, query string) ([]model.Card, error) {
	cards, err := s.ListCards(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return cards, nil
	}

	out := make([]model.Card, 0, len(cards))
	for _, c := range cards {
		if containsFold(c.Nickname, query) || containsFold(c.CardType, query) || containsFold(c.Issuer, query) {
			out = append(out, c)
		}
	}
	return out, nil
}

// AddCard сохраняет новую карту.
// Если у карты нет кредитов, а тип известен справочнику, кредиты и недостающие
// эмитент, платёжная система и вариант берутся из справочника.
func (s *Service) AddCard(ctx context.Context, card model.Card) (*model.Card, error) {
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	if card.AddedAt.IsZero() {
		card.AddedAt = s.engine.Now()
	}
	s.fillFromCatalog(&card)
	for i := range card.Credits {
		card.Credits[i] = s.prepareCredit(card.ID, card.Credits[i])
	}

	if err := validation.Card(card); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.CreateCard(ctx, card); err != nil {
		s.logger.Error("create card failed", zap.String("cardID", card.ID.String()), zap.Error(err))
		return nil, err
	}

	s.commit(ctx,
		events.CardsChanged{CardIDs: []uuid.UUID{card.ID}, Reason: "added"},
		events.CreditsChanged{CreditIDs: creditIDs(card.Credits), Reason: "added"},
	)
	return &card, nil
}

func (s *Service) fillFromCatalog(card *model.Card) {
	if s.catalog == nil {
		return
	}

	if info, ok := s.catalog.CardInfoForType(card.CardType); ok {
		if card.Issuer == "" {
			card.Issuer = info.Issuer
		}
		if card.Network == "" {
			card.Network = info.Network
		}
		if card.Variant == "" {
			card.Variant = info.Variant
		}
	}
	if len(card.Credits) == 0 {
		card.Credits = s.catalog.CreditsForCardType(card.CardType)
	}
}

// prepareCredit дополняет кредит значениями по умолчанию перед проверкой.
func (s *Service) prepareCredit(cardID uuid.UUID, c model.Credit) model.Credit {
	c.CardID = cardID
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Currency == "" {
		c.Currency = model.DefaultCurrency
	} else {
		c.Currency = strings.ToUpper(c.Currency)
	}
	// Вид периодичности всегда выводится из метки, присланный клиентом вид не учитывается.
	if strings.TrimSpace(c.FrequencyLabel) == "" {
		c.FrequencyLabel = string(c.Frequency)
	}
	c.Frequency = renewal.NormalizeFrequency(c.FrequencyLabel)
	if c.RenewalDate.IsZero() && c.ExpirationDate.IsZero() {
		c.RenewalDate, c.ExpirationDate = s.engine.InitialPeriod(c.Frequency)
	}
	return c
}

// UpdateCard сохраняет поля карты. Кредиты карты не затрагиваются.
func (s *Service) UpdateCard(ctx context.Context, card model.Card) (*model.Card, error) {
	fields := card
	fields.Credits = nil
	if err := validation.Card(fields); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.UpdateCard(ctx, fields); err != nil {
		return nil, err
	}
	updated, err := s.store.GetCard(ctx, card.ID)
	if err != nil {
		return nil, err
	}

	s.commit(ctx, events.CardsChanged{CardIDs: []uuid.UUID{card.ID}, Reason: "updated"})
	return updated, nil
}

// DeleteCard удаляет карту вместе с её кредитами.
func (s *Service) DeleteCard(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, err := s.store.GetCard(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, id); err != nil {
		s.logger.Error("delete card failed", zap.String("cardID", id.String()), zap.Error(err))
		return err
	}

	s.commit(ctx,
		events.CardsChanged{CardIDs: []uuid.UUID{id}, Reason: "deleted"},
		events.CreditsChanged{CreditIDs: creditIDs(card.Credits), Reason: "deleted"},
	)
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
