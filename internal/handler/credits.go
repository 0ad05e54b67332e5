package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mmeshcher/cardbook/internal/model"
)

// ListCredits возвращает кредиты. Параметры used, category и q сужают выборку
// и могут сочетаться.
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var sets [][]model.Credit

	if v := query.Get("used"); v != "" {
		used, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		credits, err := h.service.CreditsByUsage(ctx, used)
		if err != nil {
			h.writeError(w, err, "credits by usage")
			return
		}
		sets = append(sets, credits)
	}

	if v := query.Get("category"); v != "" {
		credits, err := h.service.CreditsByCategory(ctx, v)
		if err != nil {
			h.writeError(w, err, "credits by category")
			return
		}
		sets = append(sets, credits)
	}

	if v := query.Get("q"); v != "" {
		credits, err := h.service.SearchCredits(ctx, v)
		if err != nil {
			h.writeError(w, err, "search credits")
			return
		}
		sets = append(sets, credits)
	}

	if len(sets) == 0 {
		credits, err := h.service.ListCredits(ctx)
		if err != nil {
			h.writeError(w, err, "list credits")
			return
		}
		sets = append(sets, credits)
	}

	writeJSON(w, http.StatusOK, intersect(sets))
}

// intersect оставляет кредиты первого набора, встречающиеся во всех остальных.
func intersect(sets [][]model.Credit) []model.Credit {
	out := make([]model.Credit, 0, len(sets[0]))
	for _, c := range sets[0] {
		if inAll(c.ID, sets[1:]) {
			out = append(out, c)
		}
	}
	return out
}

func inAll(id uuid.UUID, sets [][]model.Credit) bool {
	for _, set := range sets {
		found := false
		for _, c := range set {
			if c.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ListExpiringCredits возвращает неиспользованные кредиты, которые скоро истекают.
func (h *Handler) ListExpiringCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.service.ExpiringCredits(r.Context())
	if err != nil {
		h.writeError(w, err, "expiring credits")
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

// GetCredit возвращает кредит по идентификатору.
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	credit, err := h.service.GetCredit(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get credit")
		return
	}
	writeJSON(w, http.StatusOK, credit)
}

// UpdateCredit сохраняет изменения кредита.
func (h *Handler) UpdateCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var credit model.Credit
	if !decodeBody(w, r, &credit) {
		return
	}
	credit.ID = id

	updated, err := h.service.UpdateCredit(r.Context(), credit)
	if err != nil {
		h.writeError(w, err, "update credit")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteCredit удаляет кредит.
func (h *Handler) DeleteCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteCredit(r.Context(), id); err != nil {
		h.writeError(w, err, "delete credit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleCredit переключает отметку об использовании.
func (h *Handler) ToggleCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	credit, err := h.service.ToggleUsage(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "toggle credit")
		return
	}
	writeJSON(w, http.StatusOK, credit)
}

type usageRequest struct {
	IsUsed bool `json:"isUsed"`
}

// SetCreditUsage явно задаёт отметку об использовании.
func (h *Handler) SetCreditUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req usageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		credit *model.Credit
		err    error
	)
	if req.IsUsed {
		credit, err = h.service.MarkUsed(r.Context(), id)
	} else {
		credit, err = h.service.MarkUnused(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, err, "set credit usage")
		return
	}
	writeJSON(w, http.StatusOK, credit)
}
