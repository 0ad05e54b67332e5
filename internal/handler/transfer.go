package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/service"
	"github.com/mmeshcher/cardbook/internal/transfer"
)

// AppVersion записывается в метаданные экспорта.
const AppVersion = "1.0.0"

const maxImportSize = 10 << 20

func (h *Handler) exporter() transfer.Exporter {
	e := transfer.Exporter{
		AppVersion: AppVersion,
		Location:   h.engine.Location(),
		Now:        h.engine.Now,
	}
	if h.catalog != nil {
		e.DatabaseVersion = h.catalog.Info().Version
	}
	return e
}

// Export выгружает все карты в формате format (json, csv-cards, csv-credits).
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := transfer.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = transfer.FormatJSON
	}

	cards, err := h.service.ListCards(r.Context())
	if err != nil {
		h.writeError(w, err, "export")
		return
	}

	data, err := h.exporter().Export(format, cards)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	contentType := "text/csv"
	if format == transfer.FormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, transfer.Filename(format, h.engine.Now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type noCatalog struct{}

func (noCatalog) CreditsForCardType(string) []model.Credit { return []model.Credit{} }

type importResponse struct {
	CardsImported     int      `json:"cardsImported"`
	CreditsImported   int      `json:"creditsImported"`
	DuplicatesSkipped int      `json:"duplicatesSkipped"`
	ConflictsResolved int      `json:"conflictsResolved"`
	Warnings          []string `json:"warnings"`
}

type importErrorResponse struct {
	Kind    transfer.ErrorKind `json:"kind"`
	Message string             `json:"message"`
}

// Import разбирает тело запроса и сохраняет карты. Формат определяется по
// параметру format или по содержимому, конфликты разрешаются по параметру conflict.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	resolution, err := service.ParseConflictResolution(r.URL.Query().Get("conflict"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		writeBodyError(w, err)
		return
	}

	var source transfer.CreditSource = noCatalog{}
	if h.catalog != nil {
		source = h.catalog
	}

	importer := transfer.Importer{Location: h.engine.Location()}
	summary, err := importer.Import(transfer.Format(r.URL.Query().Get("format")), data, source)
	if err != nil {
		var ie *transfer.ImportError
		if errors.As(err, &ie) {
			status := http.StatusBadRequest
			if ie.Kind == transfer.KindValidationFailed {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, importErrorResponse{Kind: ie.Kind, Message: ie.Error()})
			return
		}
		h.writeError(w, err, "import")
		return
	}

	result, err := h.service.ImportCards(r.Context(), summary.Cards, resolution)
	if err != nil {
		h.writeError(w, err, "import")
		return
	}

	warnings := make([]string, 0, len(summary.Warnings)+len(result.Warnings))
	warnings = append(warnings, summary.Warnings...)
	warnings = append(warnings, result.Warnings...)

	writeJSON(w, http.StatusOK, importResponse{
		CardsImported:     result.CardsImported,
		CreditsImported:   result.CreditsImported,
		DuplicatesSkipped: result.DuplicatesSkipped,
		ConflictsResolved: result.ConflictsResolved,
		Warnings:          warnings,
	})
}
