package transfer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mmeshcher/cardbook/internal/model"
)

// Поля перечислены в алфавитном порядке ключей, поэтому вывод детерминирован.
type document struct {
	ExportDate string       `json:"exportDate"`
	Metadata   metadata     `json:"metadata"`
	UserCards  []cardExport `json:"userCards"`
	Version    string       `json:"version"`
}

type metadata struct {
	AppVersion      string  `json:"appVersion"`
	DatabaseVersion *string `json:"databaseVersion,omitempty"`
	ExportFormat    string  `json:"exportFormat"`
	TotalCards      int     `json:"totalCards"`
	TotalCredits    int     `json:"totalCredits"`
}

type cardExport struct {
	AddedAt  string         `json:"addedAt"`
	CardType string         `json:"cardType"`
	Credits  []creditExport `json:"credits"`
	ID       string         `json:"id"`
	Issuer   string         `json:"issuer"`
	Network  string         `json:"network"`
	Nickname string         `json:"nickname"`
	Variant  string         `json:"variant"`
}

type creditExport struct {
	Amount         json.Number `json:"amount"`
	Category       string      `json:"category"`
	Currency       string      `json:"currency"`
	Description    *string     `json:"description,omitempty"`
	ExpirationDate string      `json:"expirationDate"`
	Frequency      string      `json:"frequency"`
	ID             string      `json:"id"`
	IsUsed         bool        `json:"isUsed"`
	Name           string      `json:"name"`
	RenewalDate    string      `json:"renewalDate"`
	Terms          *string     `json:"terms,omitempty"`
	UsedAt         *string     `json:"usedAt,omitempty"`
}

var cardsHeader = []string{
	"Card ID", "Card Type", "Nickname", "Issuer", "Network", "Variant",
	"Added Date", "Total Credits", "Used Credits", "Available Credits",
}

var creditsHeader = []string{
	"Credit ID", "Card ID", "Card Nickname", "Credit Name", "Amount", "Currency",
	"Category", "Frequency", "Renewal Date", "Expiration Date", "Is Used", "Used Date",
}

// Exporter сериализует карты и кредиты.
type Exporter struct {
	AppVersion string
	// DatabaseVersion содержит версию справочника карт, если она известна.
	DatabaseVersion string
	// Location задаёт часовой пояс дат в CSV.
	Location *time.Location
	Now      func() time.Time
}

func (e Exporter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Exporter) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

func timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func frequencyLabel(c model.Credit) string {
	if c.FrequencyLabel != "" {
		return c.FrequencyLabel
	}
	return string(c.Frequency)
}

// JSON возвращает полный экспорт в формате JSON с отступами.
func (e Exporter) JSON(cards []model.Card) ([]byte, error) {
	doc := document{
		ExportDate: timestamp(e.now()),
		UserCards:  make([]cardExport, 0, len(cards)),
		Version:    ExportVersion,
		Metadata: metadata{
			AppVersion:   e.AppVersion,
			ExportFormat: "JSON",
			TotalCards:   len(cards),
		},
	}
	if e.DatabaseVersion != "" {
		v := e.DatabaseVersion
		doc.Metadata.DatabaseVersion = &v
	}

	for _, card := range cards {
		ce := cardExport{
			AddedAt:  timestamp(card.AddedAt),
			CardType: card.CardType,
			Credits:  make([]creditExport, 0, len(card.Credits)),
			ID:       card.ID.String(),
			Issuer:   card.Issuer,
			Network:  card.Network,
			Nickname: card.Nickname,
			Variant:  card.Variant,
		}
		for _, cr := range card.Credits {
			x := creditExport{
				Amount:         json.Number(cr.Amount.String()),
				Category:       cr.Category,
				Currency:       cr.Currency,
				Description:    cr.Description,
				ExpirationDate: timestamp(cr.ExpirationDate),
				Frequency:      frequencyLabel(cr),
				ID:             cr.ID.String(),
				IsUsed:         cr.IsUsed,
				Name:           cr.Name,
				RenewalDate:    timestamp(cr.RenewalDate),
				Terms:          cr.Terms,
			}
			if cr.UsedAt != nil {
				s := timestamp(*cr.UsedAt)
				x.UsedAt = &s
			}
			ce.Credits = append(ce.Credits, x)
		}
		doc.Metadata.TotalCredits += len(card.Credits)
		doc.UserCards = append(doc.UserCards, ce)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// CardsCSV возвращает по одной строке CSV на карту.
func (e Exporter) CardsCSV(cards []model.Card) ([]byte, error) {
	loc := e.location()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cardsHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for _, card := range cards {
		used := len(card.UsedCredits())
		record := []string{
			card.ID.String(),
			card.CardType,
			card.Nickname,
			card.Issuer,
			card.Network,
			card.Variant,
			card.AddedAt.In(loc).Format(dateLayout),
			strconv.Itoa(len(card.Credits)),
			strconv.Itoa(used),
			strconv.Itoa(len(card.Credits) - used),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write card row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// CreditsCSV возвращает по одной строке CSV на кредит.
func (e Exporter) CreditsCSV(cards []model.Card) ([]byte, error) {
	loc := e.location()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(creditsHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for _, card := range cards {
		for _, cr := range card.Credits {
			usedAt := ""
			if cr.UsedAt != nil {
				usedAt = cr.UsedAt.In(loc).Format(dateLayout)
			}
			record := []string{
				cr.ID.String(),
				card.ID.String(),
				card.Nickname,
				cr.Name,
				cr.Amount.StringFixed(2),
				cr.Currency,
				cr.Category,
				frequencyLabel(cr),
				cr.RenewalDate.In(loc).Format(dateLayout),
				cr.ExpirationDate.In(loc).Format(dateLayout),
				strconv.FormatBool(cr.IsUsed),
				usedAt,
			}
			if err := w.Write(record); err != nil {
				return nil, fmt.Errorf("write credit row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Export сериализует карты в формате f.
func (e Exporter) Export(f Format, cards []model.Card) ([]byte, error) {
	switch f {
	case FormatJSON:
		return e.JSON(cards)
	case FormatCSVCards:
		return e.CardsCSV(cards)
	case FormatCSVCredits:
		return e.CreditsCSV(cards)
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
}
