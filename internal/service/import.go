package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/events"
	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/repository"
	"github.com/mmeshcher/cardbook/internal/validation"
)

// ConflictResolution задаёт поведение импорта для карт, которые уже есть в хранилище.
type ConflictResolution string

const (
	// ConflictSkip оставляет существующую карту без изменений.
	ConflictSkip ConflictResolution = "skip"
	// ConflictReplace заменяет поля и кредиты существующей карты импортируемыми.
	ConflictReplace ConflictResolution = "replace"
	// ConflictMerge добавляет к существующей карте кредиты, которых у неё нет.
	ConflictMerge ConflictResolution = "merge"
)

// ParseConflictResolution разбирает название политики. Пустая строка означает skip.
func ParseConflictResolution(s string) (ConflictResolution, error) {
	switch r := ConflictResolution(s); r {
	case "":
		return ConflictSkip, nil
	case ConflictSkip, ConflictReplace, ConflictMerge:
		return r, nil
	default:
		return "", &validation.Error{Field: "conflict", Msg: fmt.Sprintf("unknown conflict resolution %q", s)}
	}
}

// ImportResult описывает, что импорт записал в хранилище.
type ImportResult struct {
	CardsImported     int      `json:"cardsImported"`
	CreditsImported   int      `json:"creditsImported"`
	DuplicatesSkipped int      `json:"duplicatesSkipped"`
	ConflictsResolved int      `json:"conflictsResolved"`
	Warnings          []string `json:"warnings"`
}

// ImportCards сохраняет импортированные карты, разрешая конфликты по идентификатору
// согласно resolution. Карты, не прошедшие проверку, пропускаются с предупреждением.
func (s *Service) ImportCards(ctx context.Context, cards []model.Card, resolution ConflictResolution) (ImportResult, error) {
	result := ImportResult{Warnings: []string{}}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := events.NewTransactionalBus(s.bus)
	defer tx.Flush(ctx)

	var changedCards []uuid.UUID
	var changedCredits []model.Credit
	defer func() {
		if len(changedCards) > 0 {
			tx.Publish(events.CardsChanged{CardIDs: changedCards, Reason: "imported"})
			tx.Publish(events.CreditsChanged{CreditIDs: creditIDs(changedCredits), Reason: "imported"})
		}
	}()

	for _, card := range cards {
		for i := range card.Credits {
			card.Credits[i] = s.prepareCredit(card.ID, card.Credits[i])
		}
		if err := validation.Card(card); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Card '%s' skipped: %v", card.Nickname, err))
			continue
		}

		existing, err := s.store.GetCard(ctx, card.ID)
		switch {
		case errors.Is(err, repository.ErrCardNotFound):
			if err := s.store.CreateCard(ctx, card); err != nil {
				return result, s.importFailed(card, err)
			}
			result.CardsImported++
			result.CreditsImported += len(card.Credits)
			changedCards = append(changedCards, card.ID)
			changedCredits = append(changedCredits, card.Credits...)
			continue
		case err != nil:
			return result, s.importFailed(card, err)
		}

		switch resolution {
		case ConflictReplace:
			if err := s.store.ReplaceCard(ctx, card); err != nil {
				return result, s.importFailed(card, err)
			}
			result.ConflictsResolved++
			result.CreditsImported += len(card.Credits)
			changedCards = append(changedCards, card.ID)
			changedCredits = append(changedCredits, card.Credits...)
		case ConflictMerge:
			added, err := s.mergeCredits(ctx, *existing, card.Credits)
			if err != nil {
				return result, s.importFailed(card, err)
			}
			result.ConflictsResolved++
			result.CreditsImported += len(added)
			if len(added) > 0 {
				changedCards = append(changedCards, card.ID)
				changedCredits = append(changedCredits, added...)
			}
		default:
			result.DuplicatesSkipped++
		}
	}
	return result, nil
}

// mergeCredits добавляет к карте кредиты, которых у неё нет ни по идентификатору, ни по названию.
func (s *Service) mergeCredits(ctx context.Context, existing model.Card, incoming []model.Credit) ([]model.Credit, error) {
	ids := make(map[uuid.UUID]struct{}, len(existing.Credits))
	names := make(map[string]struct{}, len(existing.Credits))
	for _, c := range existing.Credits {
		ids[c.ID] = struct{}{}
		names[c.Name] = struct{}{}
	}

	var added []model.Credit
	for _, c := range incoming {
		if _, ok := ids[c.ID]; ok {
			continue
		}
		if _, ok := names[c.Name]; ok {
			continue
		}
		// Идентификатор может принадлежать кредиту другой карты.
		switch _, err := s.store.GetCredit(ctx, c.ID); {
		case err == nil:
			c.ID = uuid.New()
		case !errors.Is(err, repository.ErrCreditNotFound):
			return added, err
		}
		if err := s.store.UpsertCredit(ctx, c); err != nil {
			return added, err
		}
		added = append(added, c)
	}
	return added, nil
}

func (s *Service) importFailed(card model.Card, err error) error {
	s.logger.Error("import card failed", zap.String("cardID", card.ID.String()), zap.Error(err))
	return fmt.Errorf("import card %s: %w", card.ID, err)
}
