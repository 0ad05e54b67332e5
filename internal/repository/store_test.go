package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cardbook/internal/model"
)

var base = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func testCredit(cardID uuid.UUID, name string, expiresIn time.Duration) model.Credit {
	desc := "Statement credit for " + name
	return model.Credit{
		ID:             uuid.New(),
		CardID:         cardID,
		Name:           name,
		FrequencyLabel: "Monthly",
		Frequency:      model.FrequencyMonthly,
		Amount:         decimal.RequireFromString("12.50"),
		Currency:       "USD",
		Category:       "Dining",
		RenewalDate:    base,
		ExpirationDate: base.Add(expiresIn),
		Description:    &desc,
	}
}

func testCard(nickname string, addedAt time.Time, credits ...string) model.Card {
	c := model.Card{
		ID:       uuid.New(),
		CardType: "American Express Gold",
		Nickname: nickname,
		Issuer:   "American Express",
		Network:  "Amex",
		Variant:  "Gold",
		AddedAt:  addedAt,
	}
	for i, name := range credits {
		c.Credits = append(c.Credits, testCredit(c.ID, name, time.Duration(i+1)*24*time.Hour))
	}
	return c
}

// storeSuite прогоняет общие сценарии для любой реализации Store.
func storeSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("cards round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		older := testCard("Older", base, "Uber Cash", "Dining Credit")
		newer := testCard("Newer", base.Add(time.Hour), "Airline Fee")
		require.NoError(t, s.CreateCard(ctx, older))
		require.NoError(t, s.CreateCard(ctx, newer))

		cards, err := s.ListCards(ctx)
		require.NoError(t, err)
		require.Len(t, cards, 2)
		assert.Equal(t, "Newer", cards[0].Nickname)
		assert.Equal(t, "Older", cards[1].Nickname)
		require.Len(t, cards[1].Credits, 2)
		assert.Equal(t, "Dining Credit", cards[1].Credits[0].Name)
		assert.Equal(t, "Uber Cash", cards[1].Credits[1].Name)

		got, err := s.GetCard(ctx, older.ID)
		require.NoError(t, err)
		assert.True(t, got.AddedAt.Equal(older.AddedAt))
		require.Len(t, got.Credits, 2)

		cr := got.Credits[1]
		assert.True(t, cr.Amount.Equal(decimal.RequireFromString("12.5")))
		assert.Equal(t, model.FrequencyMonthly, cr.Frequency)
		assert.Equal(t, "Monthly", cr.FrequencyLabel)
		require.NotNil(t, cr.Description)
		assert.Equal(t, "Statement credit for Uber Cash", *cr.Description)
		assert.Nil(t, cr.Terms)
		assert.Nil(t, cr.UsedAt)
		assert.True(t, cr.RenewalDate.Equal(base))
	})

	t.Run("duplicate card", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c := testCard("Gold", base)
		require.NoError(t, s.CreateCard(ctx, c))
		err := s.CreateCard(ctx, c)
		assert.ErrorIs(t, err, ErrCardExists)
	})

	t.Run("missing records", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetCard(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrCardNotFound)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetCredit(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrCreditNotFound)

		_, err = s.GetUser(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrUserNotFound)

		assert.ErrorIs(t, s.DeleteCard(ctx, uuid.New()), ErrCardNotFound)
		assert.ErrorIs(t, s.DeleteCredit(ctx, uuid.New()), ErrCreditNotFound)
		assert.ErrorIs(t, s.UpdateCard(ctx, testCard("x", base)), ErrCardNotFound)
		assert.ErrorIs(t, s.UpsertCredit(ctx, testCredit(uuid.New(), "Orphan", time.Hour)), ErrCardNotFound)
	})

	t.Run("credits ordering and filter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		card := testCard("Gold", base)
		late := testCredit(card.ID, "A Late", 72*time.Hour)
		early := testCredit(card.ID, "Z Early", 24*time.Hour)
		sameB := testCredit(card.ID, "B Same", 48*time.Hour)
		sameA := testCredit(card.ID, "A Same", 48*time.Hour)
		at := base.Add(time.Hour)
		sameA.MarkUsed(at)
		card.Credits = []model.Credit{late, early, sameB, sameA}
		require.NoError(t, s.CreateCard(ctx, card))

		other := testCard("Other", base, "Elsewhere")
		require.NoError(t, s.CreateCard(ctx, other))

		all, err := s.ListCredits(ctx, CreditFilter{CardID: &card.ID})
		require.NoError(t, err)
		names := make([]string, 0, len(all))
		for _, c := range all {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"Z Early", "A Same", "B Same", "A Late"}, names)

		used := true
		usedOnly, err := s.ListCredits(ctx, CreditFilter{IsUsed: &used})
		require.NoError(t, err)
		require.Len(t, usedOnly, 1)
		assert.Equal(t, "A Same", usedOnly[0].Name)
		require.NotNil(t, usedOnly[0].UsedAt)
		assert.True(t, usedOnly[0].UsedAt.Equal(at))

		everything, err := s.ListCredits(ctx, CreditFilter{})
		require.NoError(t, err)
		assert.Len(t, everything, 5)
	})

	t.Run("upsert and delete credit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		card := testCard("Gold", base)
		require.NoError(t, s.CreateCard(ctx, card))

		cr := testCredit(card.ID, "Dining", 24*time.Hour)
		require.NoError(t, s.UpsertCredit(ctx, cr))

		cr.Amount = decimal.NewFromInt(20)
		cr.Name = "Dining Plus"
		require.NoError(t, s.UpsertCredit(ctx, cr))

		got, err := s.GetCredit(ctx, cr.ID)
		require.NoError(t, err)
		assert.Equal(t, "Dining Plus", got.Name)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(20)))

		require.NoError(t, s.DeleteCredit(ctx, cr.ID))
		_, err = s.GetCredit(ctx, cr.ID)
		assert.ErrorIs(t, err, ErrCreditNotFound)
	})

	t.Run("update and replace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		card := testCard("Gold", base, "One", "Two")
		require.NoError(t, s.CreateCard(ctx, card))

		card.Nickname = "Renamed"
		require.NoError(t, s.UpdateCard(ctx, card))

		card.Nickname = "Replaced"
		card.Credits = []model.Credit{testCredit(uuid.Nil, "Three", time.Hour)}
		require.NoError(t, s.ReplaceCard(ctx, card))

		got, err := s.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.Equal(t, "Replaced", got.Nickname)
		require.Len(t, got.Credits, 1)
		assert.Equal(t, "Three", got.Credits[0].Name)
		assert.Equal(t, card.ID, got.Credits[0].CardID)

		missing := testCard("Missing", base)
		assert.ErrorIs(t, s.ReplaceCard(ctx, missing), ErrCardNotFound)
	})

	t.Run("failed replace leaves card untouched", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		card := testCard("Gold", base, "One", "Two")
		require.NoError(t, s.CreateCard(ctx, card))

		dup := testCredit(uuid.Nil, "Dup", time.Hour)
		edit := card
		edit.Nickname = "Half written"
		edit.Credits = []model.Credit{dup, dup}
		assert.ErrorIs(t, s.ReplaceCard(ctx, edit), ErrPersistenceFailed)

		got, err := s.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.Equal(t, "Gold", got.Nickname)
		assert.Len(t, got.Credits, 2)
	})

	t.Run("delete card cascades", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		card := testCard("Gold", base, "One", "Two")
		require.NoError(t, s.CreateCard(ctx, card))
		require.NoError(t, s.DeleteCard(ctx, card.ID))

		credits, err := s.ListCredits(ctx, CreditFilter{})
		require.NoError(t, err)
		assert.Empty(t, credits)

		for _, cr := range card.Credits {
			_, err := s.GetCredit(ctx, cr.ID)
			assert.ErrorIs(t, err, ErrCreditNotFound)
		}
	})

	t.Run("save credits is atomic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		card := testCard("Gold", base, "One", "Two")
		require.NoError(t, s.CreateCard(ctx, card))

		changed := make([]model.Credit, len(card.Credits))
		copy(changed, card.Credits)
		for i := range changed {
			changed[i].MarkUsed(base.Add(time.Minute))
		}
		missing := testCredit(card.ID, "Ghost", time.Hour)

		err := s.SaveCredits(ctx, append(changed, missing))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCreditNotFound))

		for _, cr := range card.Credits {
			got, err := s.GetCredit(ctx, cr.ID)
			require.NoError(t, err)
			assert.False(t, got.IsUsed, "credit %s must stay unchanged", cr.Name)
		}

		require.NoError(t, s.SaveCredits(ctx, changed))
		for _, cr := range card.Credits {
			got, err := s.GetCredit(ctx, cr.ID)
			require.NoError(t, err)
			assert.True(t, got.IsUsed)
		}

		assert.NoError(t, s.SaveCredits(ctx, nil))
	})

	t.Run("users", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u := model.User{
			ID:           uuid.New(),
			Username:     "swift-saver-123",
			PasswordHash: "0123456789abcdef0123456789abcdef",
			CreatedAt:    base,
			LastLoginAt:  base,
		}
		require.NoError(t, s.CreateUser(ctx, u))

		dup := u
		dup.ID = uuid.New()
		assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrUserExists)

		u.LastLoginAt = base.Add(time.Hour)
		u.IsCloudSyncEnabled = true
		require.NoError(t, s.UpdateUser(ctx, u))

		got, err := s.GetUserByUsername(ctx, "swift-saver-123")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.True(t, got.IsCloudSyncEnabled)
		assert.True(t, got.LastLoginAt.Equal(u.LastLoginAt))

		_, err = s.GetUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}
