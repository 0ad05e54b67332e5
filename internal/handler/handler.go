// Package handler содержит HTTP-обработчики API сервиса cardbook.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/catalog"
	"github.com/mmeshcher/cardbook/internal/middleware"
	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/renewal"
	"github.com/mmeshcher/cardbook/internal/repository"
	"github.com/mmeshcher/cardbook/internal/service"
	"github.com/mmeshcher/cardbook/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListCards(ctx context.Context) ([]model.Card, error)
	GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error)
	SearchCards(ctx context.Context, query string) ([]model.Card, error)
	AddCard(ctx context.Context, card model.Card) (*model.Card, error)
	UpdateCard(ctx context.Context, card model.Card) (*model.Card, error)
	DeleteCard(ctx context.Context, id uuid.UUID) error

	ListCredits(ctx context.Context) ([]model.Credit, error)
	GetCredit(ctx context.Context, id uuid.UUID) (*model.Credit, error)
	CreditsForCard(ctx context.Context, cardID uuid.UUID) ([]model.Credit, error)
	SearchCredits(ctx context.Context, query string) ([]model.Credit, error)
	CreditsByCategory(ctx context.Context, category string) ([]model.Credit, error)
	CreditsByUsage(ctx context.Context, used bool) ([]model.Credit, error)
	ExpiringCredits(ctx context.Context) ([]model.Credit, error)
	AddCredit(ctx context.Context, cardID uuid.UUID, credit model.Credit) (*model.Credit, error)
	UpdateCredit(ctx context.Context, credit model.Credit) (*model.Credit, error)
	DeleteCredit(ctx context.Context, id uuid.UUID) error
	ToggleUsage(ctx context.Context, id uuid.UUID) (*model.Credit, error)
	MarkUsed(ctx context.Context, id uuid.UUID) (*model.Credit, error)
	MarkUnused(ctx context.Context, id uuid.UUID) (*model.Credit, error)

	CreditSummary(ctx context.Context) (model.CreditSummary, error)
	Dashboard(ctx context.Context) (model.DashboardSummary, error)

	ProcessAutomaticRenewals(ctx context.Context) (service.RenewalReport, error)
	Activate(ctx context.Context) <-chan service.Activation

	ImportCards(ctx context.Context, cards []model.Card, resolution service.ConflictResolution) (service.ImportResult, error)

	CreateLocalUser(ctx context.Context) (*model.User, string, error)
	Authenticate(ctx context.Context, username, mnemonic string) (*model.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	SetCloudSync(ctx context.Context, id uuid.UUID, enabled bool) (*model.User, error)
	SyncNow(ctx context.Context, id uuid.UUID) error
}

// Catalog определяет справочник карт, доступный через API.
type Catalog interface {
	Cards() []catalog.CardEntry
	Card(cardType string) (catalog.CardEntry, bool)
	Info() catalog.Info
	CreditsForCardType(cardType string) []model.Credit
}

// Handler реализует HTTP-обработчики API сервиса cardbook.
type Handler struct {
	service        Service
	catalog        Catalog
	engine         *renewal.Engine
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	hub            *Hub
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// engine задаёт часовой пояс и текущее время для экспорта.
func NewHandler(s Service, cat Catalog, engine *renewal.Engine, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	if engine == nil {
		engine = renewal.NewEngine(nil, nil)
	}
	return &Handler{
		service:        s,
		catalog:        cat,
		engine:         engine,
		logger:         logger,
		authMiddleware: auth,
	}
}

// SetEventHub подключает поток уведомлений /api/events.
func (h *Handler) SetEventHub(hub *Hub) {
	h.hub = hub
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку сервиса в код ответа.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, validation.ErrValidationFailed):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrCardExists), errors.Is(err, repository.ErrUserExists):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidCredentials):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, service.ErrSyncNotImplemented):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// maxBodySize ограничивает размер JSON-тела обычных запросов.
const maxBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBodyError(w, err)
		return false
	}
	return true
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}

// Activate запускает фоновый проход продления и сразу отвечает 202.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.service.Activate(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// RunRenewals выполняет проход продления синхронно и возвращает отчёт.
func (h *Handler) RunRenewals(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ProcessAutomaticRenewals(r.Context())
	if err != nil {
		h.writeError(w, err, "renewal pass")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetSummary возвращает сводку по кредитам.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.CreditSummary(r.Context())
	if err != nil {
		h.writeError(w, err, "credit summary")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetDashboard возвращает агрегаты главного экрана.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, err, "dashboard")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
