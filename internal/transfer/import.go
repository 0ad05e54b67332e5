package transfer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/renewal"
)

const minCSVFields = 7

var (
	documentKeys = []string{"version", "exportDate", "userCards", "metadata"}
	metadataKeys = []string{"appVersion", "totalCards", "totalCredits", "exportFormat"}
	cardKeys     = []string{"id", "cardType", "nickname", "issuer", "network", "variant", "addedAt", "credits"}
	creditKeys   = []string{"id", "name", "amount", "currency", "category", "frequency", "renewalDate", "expirationDate", "isUsed"}
)

// Summary описывает результат разбора файла импорта.
type Summary struct {
	CardsImported     int          `json:"cardsImported"`
	CreditsImported   int          `json:"creditsImported"`
	DuplicatesSkipped int          `json:"duplicatesSkipped"`
	ConflictsResolved int          `json:"conflictsResolved"`
	Warnings          []string     `json:"warnings"`
	Cards             []model.Card `json:"-"`
}

func (s *Summary) warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

func (s *Summary) count() {
	s.CardsImported = len(s.Cards)
	s.CreditsImported = 0
	for _, c := range s.Cards {
		s.CreditsImported += len(c.Credits)
	}
}

// CreditSource создаёт кредиты по типу карты.
type CreditSource interface {
	CreditsForCardType(cardType string) []model.Credit
}

// Importer разбирает файлы экспорта в доменные модели.
type Importer struct {
	// Location задаёт часовой пояс дат без времени в CSV.
	Location *time.Location
}

func (im Importer) location() *time.Location {
	if im.Location != nil {
		return im.Location
	}
	return time.Local
}

func requireKeys(raw json.RawMessage, path string, keys []string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return importErr(KindInvalidFormat, path, err)
	}
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || string(bytes.TrimSpace(v)) == "null" {
			field := k
			if path != "" {
				field = path + "." + k
			}
			return importErr(KindMissingRequiredFields, field, nil)
		}
	}
	return nil
}

func checkStructure(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return importErr(KindCorruptedData, "", err)
		}
		return importErr(KindInvalidFormat, "", err)
	}

	if err := requireKeys(data, "", documentKeys); err != nil {
		return err
	}
	if err := requireKeys(top["metadata"], "metadata", metadataKeys); err != nil {
		return err
	}

	var cards []json.RawMessage
	if err := json.Unmarshal(top["userCards"], &cards); err != nil {
		return importErr(KindInvalidFormat, "userCards", err)
	}
	for i, raw := range cards {
		path := fmt.Sprintf("userCards[%d]", i)
		if err := requireKeys(raw, path, cardKeys); err != nil {
			return err
		}

		var card struct {
			Credits []json.RawMessage `json:"credits"`
		}
		if err := json.Unmarshal(raw, &card); err != nil {
			return importErr(KindInvalidFormat, path, err)
		}
		for j, cr := range card.Credits {
			if err := requireKeys(cr, fmt.Sprintf("%s.credits[%d]", path, j), creditKeys); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateDocument(doc document) error {
	if doc.Metadata.TotalCards != len(doc.UserCards) {
		return importErr(KindValidationFailed, "Card count mismatch", nil)
	}

	credits := 0
	for _, c := range doc.UserCards {
		credits += len(c.Credits)
	}
	if doc.Metadata.TotalCredits != credits {
		return importErr(KindValidationFailed, "Credit count mismatch", nil)
	}

	for _, c := range doc.UserCards {
		if c.CardType == "" || c.Nickname == "" {
			return importErr(KindValidationFailed, "Card missing required fields", nil)
		}
		for _, cr := range c.Credits {
			amount, err := decimal.NewFromString(cr.Amount.String())
			if cr.Name == "" || err != nil || amount.IsNegative() {
				return importErr(KindValidationFailed, fmt.Sprintf("Credit '%s' has invalid data", cr.Name), nil)
			}
		}
	}
	return nil
}

func parseID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.New()
	}
	return id
}

func normalizeCurrency(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return model.DefaultCurrency
	}
	return s
}

// JSON разбирает полный экспорт. Записи с некорректными датами пропускаются с предупреждением.
func (im Importer) JSON(data []byte) (*Summary, error) {
	if !utf8.Valid(data) {
		return nil, importErr(KindFileReadError, "", nil)
	}
	if err := checkStructure(data); err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, importErr(KindInvalidFormat, "", err)
	}

	if !strings.HasPrefix(doc.Version, "1.") {
		return nil, importErr(KindUnsupportedVersion, doc.Version, nil)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	summary := &Summary{Warnings: []string{}, Cards: []model.Card{}}
	for _, ic := range doc.UserCards {
		addedAt, err := time.Parse(timestampLayout, ic.AddedAt)
		if err != nil {
			summary.warn("Invalid date format for card '%s'", ic.Nickname)
			continue
		}

		card := model.Card{
			ID:       parseID(ic.ID),
			CardType: ic.CardType,
			Nickname: ic.Nickname,
			Issuer:   ic.Issuer,
			Network:  ic.Network,
			Variant:  ic.Variant,
			AddedAt:  addedAt,
			Credits:  make([]model.Credit, 0, len(ic.Credits)),
		}

		for _, x := range ic.Credits {
			cr, ok := im.creditFromExport(card.ID, x, summary)
			if ok {
				card.Credits = append(card.Credits, cr)
			}
		}
		summary.Cards = append(summary.Cards, card)
	}

	summary.count()
	return summary, nil
}

func (im Importer) creditFromExport(cardID uuid.UUID, x creditExport, summary *Summary) (model.Credit, bool) {
	renewalDate, err1 := time.Parse(timestampLayout, x.RenewalDate)
	expirationDate, err2 := time.Parse(timestampLayout, x.ExpirationDate)
	if err1 != nil || err2 != nil {
		summary.warn("Invalid date format for credit '%s'", x.Name)
		return model.Credit{}, false
	}
	if !expirationDate.After(renewalDate) {
		summary.warn("Credit '%s' expires before it renews", x.Name)
		return model.Credit{}, false
	}

	amount, _ := decimal.NewFromString(x.Amount.String())
	cr := model.Credit{
		ID:             parseID(x.ID),
		CardID:         cardID,
		Name:           x.Name,
		FrequencyLabel: x.Frequency,
		Frequency:      renewal.NormalizeFrequency(x.Frequency),
		Amount:         amount,
		Currency:       normalizeCurrency(x.Currency),
		Category:       x.Category,
		RenewalDate:    renewalDate,
		ExpirationDate: expirationDate,
		Description:    x.Description,
		Terms:          x.Terms,
	}

	if x.IsUsed {
		usedAt := renewalDate
		if x.UsedAt != nil {
			if t, err := time.Parse(timestampLayout, *x.UsedAt); err == nil {
				usedAt = t
			} else {
				summary.warn("Invalid usage date for credit '%s'", x.Name)
			}
		}
		cr.MarkUsed(usedAt)
	}
	return cr, true
}

// CSV разбирает экспорт карт в CSV. Кредиты каждой карты создаются заново по справочнику.
func (im Importer) CSV(data []byte, source CreditSource) (*Summary, error) {
	if !utf8.Valid(data) {
		return nil, importErr(KindFileReadError, "", nil)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, importErr(KindCorruptedData, "", err)
	}
	if len(records) <= 1 {
		return nil, importErr(KindInvalidFormat, "no data rows", nil)
	}

	loc := im.location()
	summary := &Summary{Warnings: []string{}, Cards: []model.Card{}}
	for i, fields := range records[1:] {
		line := i + 2
		if len(fields) < minCSVFields {
			summary.warn("Line %d: Insufficient data fields", line)
			continue
		}

		addedAt, err := time.ParseInLocation(dateLayout, strings.TrimSpace(fields[6]), loc)
		if err != nil {
			summary.warn("Line %d: Invalid date format", line)
			continue
		}

		card := model.Card{
			ID:       uuid.New(),
			CardType: fields[1],
			Nickname: fields[2],
			Issuer:   fields[3],
			Network:  fields[4],
			Variant:  fields[5],
			AddedAt:  addedAt,
			Credits:  []model.Credit{},
		}
		if source != nil {
			card.Credits = source.CreditsForCardType(card.CardType)
			for j := range card.Credits {
				card.Credits[j].CardID = card.ID
			}
		}
		summary.Cards = append(summary.Cards, card)
	}

	summary.count()
	return summary, nil
}

// Import определяет формат данных, если он не задан, и разбирает их.
func (im Importer) Import(f Format, data []byte, source CreditSource) (*Summary, error) {
	if f == "" {
		detected, ok := DetectFormat(data)
		if !ok {
			return nil, importErr(KindInvalidFormat, "unrecognized file type", nil)
		}
		f = detected
	}

	switch f {
	case FormatJSON:
		return im.JSON(data)
	case FormatCSV, FormatCSVCards:
		return im.CSV(data, source)
	default:
		return nil, importErr(KindInvalidFormat, fmt.Sprintf("unsupported format %q", f), nil)
	}
}
