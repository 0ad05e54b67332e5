package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/repository"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) CreateUser(ctx context.Context, u model.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockStore) UpdateUser(ctx context.Context, u model.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockStore) ListCards(ctx context.Context) ([]model.Card, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Card), args.Error(1)
}

func (m *MockStore) GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Card), args.Error(1)
}

func (m *MockStore) CreateCard(ctx context.Context, c model.Card) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) UpdateCard(ctx context.Context, c model.Card) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) ReplaceCard(ctx context.Context, c model.Card) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) DeleteCard(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) ListCredits(ctx context.Context, filter repository.CreditFilter) ([]model.Credit, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Credit), args.Error(1)
}

func (m *MockStore) GetCredit(ctx context.Context, id uuid.UUID) (*model.Credit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credit), args.Error(1)
}

func (m *MockStore) UpsertCredit(ctx context.Context, c model.Credit) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) DeleteCredit(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) SaveCredits(ctx context.Context, credits []model.Credit) error {
	args := m.Called(ctx, credits)
	return args.Error(0)
}
