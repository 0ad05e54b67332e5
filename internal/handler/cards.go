package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/cardbook/internal/catalog"
	"github.com/mmeshcher/cardbook/internal/model"
)

// ListCards возвращает все карты с кредитами.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	var (
		cards []model.Card
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		cards, err = h.service.SearchCards(r.Context(), q)
	} else {
		cards, err = h.service.ListCards(r.Context())
	}
	if err != nil {
		h.writeError(w, err, "list cards")
		return
	}
	if cards == nil {
		cards = []model.Card{}
	}
	writeJSON(w, http.StatusOK, cards)
}

// CreateCard добавляет карту. Без кредитов карта заполняется по справочнику.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var card model.Card
	if !decodeBody(w, r, &card) {
		return
	}

	created, err := h.service.AddCard(r.Context(), card)
	if err != nil {
		h.writeError(w, err, "create card")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetCard возвращает карту по идентификатору.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	card, err := h.service.GetCard(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get card")
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// UpdateCard сохраняет поля карты.
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var card model.Card
	if !decodeBody(w, r, &card) {
		return
	}
	card.ID = id

	updated, err := h.service.UpdateCard(r.Context(), card)
	if err != nil {
		h.writeError(w, err, "update card")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteCard удаляет карту вместе с кредитами.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteCard(r.Context(), id); err != nil {
		h.writeError(w, err, "delete card")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCardCredits возвращает кредиты карты.
func (h *Handler) ListCardCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	credits, err := h.service.CreditsForCard(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "card credits")
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

// CreateCardCredit добавляет кредит к карте.
func (h *Handler) CreateCardCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var credit model.Credit
	if !decodeBody(w, r, &credit) {
		return
	}

	created, err := h.service.AddCredit(r.Context(), id, credit)
	if err != nil {
		h.writeError(w, err, "create credit")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type catalogResponse struct {
	Version     string              `json:"version"`
	LastUpdated string              `json:"lastUpdated"`
	Cards       []catalog.CardEntry `json:"cards"`
}

// GetCatalog возвращает справочник карт.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	info := h.catalog.Info()
	writeJSON(w, http.StatusOK, catalogResponse{
		Version:     info.Version,
		LastUpdated: info.LastUpdated,
		Cards:       h.catalog.Cards(),
	})
}

// GetCatalogCard возвращает тип карты из справочника.
func (h *Handler) GetCatalogCard(w http.ResponseWriter, r *http.Request) {
	cardType := chi.URLParam(r, "cardType")
	if unescaped, err := url.PathUnescape(cardType); err == nil {
		cardType = unescaped
	}

	entry, ok := h.catalog.Card(cardType)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
