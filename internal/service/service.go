// Package service реализует бизнес-логику учёта карт и их кредитов.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/cardbook/internal/catalog"
	"github.com/mmeshcher/cardbook/internal/events"
	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/renewal"
	"github.com/mmeshcher/cardbook/internal/repository"
)

// ErrSyncNotImplemented возвращается при попытке облачной синхронизации.
var ErrSyncNotImplemented = errors.New("cloud sync is not implemented")

// ErrInvalidCredentials возвращается при неверной паре имя пользователя и мнемоника.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Store описывает контракт хранилища, используемый сервисом.
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

	ListCredits(ctx context.Context, filter repository.CreditFilter) ([]model.Credit, error)
	GetCredit(ctx context.Context, id uuid.UUID) (*model.Credit, error)
	UpsertCredit(ctx context.Context, c model.Credit) error
	DeleteCredit(ctx context.Context, id uuid.UUID) error
	SaveCredits(ctx context.Context, credits []model.Credit) error
}

// Catalog описывает справочник карт, из которого заполняются новые карты.
type Catalog interface {
	CreditsForCardType(cardType string) []model.Credit
	CardInfoForType(cardType string) (catalog.CardInfo, bool)
}

// Service содержит бизнес-логику учёта карт.
// Изменения хранилища и проход продления выполняются под блокировкой записи,
// чтения идут параллельно под блокировкой чтения.
type Service struct {
	mu sync.RWMutex

	store   Store
	engine  *renewal.Engine
	catalog Catalog
	bus     *events.Bus
	logger  *zap.Logger

	activation singleflight.Group
	background sync.WaitGroup
}

// NewService создаёт сервис поверх хранилища store.
// catalog может быть nil, тогда карты не дополняются шаблонами.
func NewService(store Store, engine *renewal.Engine, cat Catalog, bus *events.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = renewal.NewEngine(nil, nil)
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Service{
		store:   store,
		engine:  engine,
		catalog: cat,
		bus:     bus,
		logger:  logger,
	}
}

// Engine возвращает движок продления сервиса.
func (s *Service) Engine() *renewal.Engine {
	return s.engine
}

// Bus возвращает шину уведомлений сервиса.
func (s *Service) Bus() *events.Bus {
	return s.bus
}

// Wait дожидается завершения фоновых проходов продления.
func (s *Service) Wait() {
	s.background.Wait()
}

// Close дожидается фоновых проходов и закрывает хранилище.
func (s *Service) Close() error {
	s.Wait()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// commit отправляет накопленные уведомления после успешной записи.
func (s *Service) commit(ctx context.Context, evs ...events.Event) {
	tx := events.NewTransactionalBus(s.bus)
	for _, ev := range evs {
		tx.Publish(ev)
	}
	tx.Flush(ctx)
}

func (s *Service) fail(ctx context.Context, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	s.bus.Emit(context.WithoutCancel(ctx), events.Failed{Operation: op, Message: err.Error()})
}

func creditIDs(credits []model.Credit) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(credits))
	for _, c := range credits {
		ids = append(ids, c.ID)
	}
	return ids
}
