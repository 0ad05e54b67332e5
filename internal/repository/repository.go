// Package repository содержит хранилища карт, кредитов и пользователей
// на SQLite и PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cardbook/internal/model"
)

//go:embed migrations
var migrationsFS embed.FS

const creditColumns = `id, card_id, name, frequency_label, frequency, amount_cents, currency, category,
	renewal_date, expiration_date, is_used, used_at, description, terms`

// ErrNotFound является базовой ошибкой для отсутствующих записей.
var (
	ErrNotFound = errors.New("not found")
	// ErrCardNotFound возвращается, если карта не найдена.
	ErrCardNotFound = fmt.Errorf("card %w", ErrNotFound)
	// ErrCreditNotFound возвращается, если кредит не найден.
	ErrCreditNotFound = fmt.Errorf("credit %w", ErrNotFound)
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrUserExists возвращается при попытке создать пользователя с занятым именем.
	ErrUserExists = errors.New("user already exists")
	ErrCardExists = errors.New("card already exists")
	// ErrPersistenceFailed оборачивает любые ошибки драйвера БД.
	ErrPersistenceFailed = errors.New("persistence failed")
)

// CreditFilter ограничивает выборку кредитов. Пустые поля не фильтруют.
type CreditFilter struct {
	CardID *uuid.UUID
	IsUsed *bool
}

// Store объединяет операции хранилища, общие для SQLite и PostgreSQL.
type Store interface {
	Close() error

	CreateUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateUser(ctx context.Context, u model.User) error

	ListCards(ctx context.Context) ([]model.Card, error)
	GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error)
	CreateCard(ctx context.Context, c model.Card) error
	UpdateCard(ctx context.Context, c model.Card) error
	ReplaceCard(ctx context.Context, c model.Card) error
	DeleteCard(ctx context.Context, id uuid.UUID) error

	ListCredits(ctx context.Context, f CreditFilter) ([]model.Credit, error)
	GetCredit(ctx context.Context, id uuid.UUID) (*model.Credit, error)
	UpsertCredit(ctx context.Context, c model.Credit) error
	DeleteCredit(ctx context.Context, id uuid.UUID) error
	SaveCredits(ctx context.Context, credits []model.Credit) error
}

// Open выбирает реализацию хранилища по строке подключения:
// postgres:// и postgresql:// открывают PostgreSQL, остальное считается путём к файлу SQLite.
func Open(ctx context.Context, uri string) (Store, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return NewPostgresStore(ctx, uri)
	default:
		return NewSQLiteStore(ctx, strings.TrimPrefix(uri, "sqlite://"))
	}
}

// goose хранит диалект и файловую систему в глобальном состоянии.
var migrateMu sync.Mutex

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceFailed, err)
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// attachCredits раскладывает кредиты по картам, сохраняя порядок выборки.
func attachCredits(cards []model.Card, credits []model.Credit) {
	idx := make(map[uuid.UUID]int, len(cards))
	for i := range cards {
		idx[cards[i].ID] = i
		cards[i].Credits = []model.Credit{}
	}
	for _, cr := range credits {
		if i, ok := idx[cr.CardID]; ok {
			cards[i].Credits = append(cards[i].Credits, cr)
		}
	}
}
