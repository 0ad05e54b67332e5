// Package catalog содержит справочник карт и шаблонов их кредитов.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/renewal"
)

//go:embed cards.json
var defaultCatalog []byte

// ErrInvalidCatalog возвращается, если справочник не прошёл проверку.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Database описывает JSON-справочник карт.
type Database struct {
	Version     string      `json:"version"`
	LastUpdated string      `json:"lastUpdated"`
	Cards       []CardEntry `json:"cards"`
}

// CardEntry описывает тип карты в справочнике.
type CardEntry struct {
	ID        string        `json:"id"`
	CardType  string        `json:"cardType"`
	Issuer    string        `json:"issuer"`
	Network   string        `json:"network"`
	Variant   string        `json:"variant"`
	Category  string        `json:"category"`
	AnnualFee int           `json:"annualFee"`
	Credits   []CreditEntry `json:"credits"`
}

// CreditEntry описывает шаблон кредита.
type CreditEntry struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Frequency   string          `json:"frequency"`
	Description *string         `json:"description,omitempty"`
	Terms       *string         `json:"terms,omitempty"`
}

// CardInfo содержит реквизиты типа карты.
type CardInfo struct {
	Issuer  string `json:"issuer"`
	Network string `json:"network"`
	Variant string `json:"variant"`
}

// Info содержит версию загруженного справочника.
type Info struct {
	Version     string `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	CardCount   int    `json:"cardCount"`
}

// Catalog предоставляет потокобезопасный доступ к справочнику.
type Catalog struct {
	mu     sync.RWMutex
	db     *Database
	engine *renewal.Engine
	logger *zap.Logger
}

// New создаёт справочник из встроенного файла cards.json.
func New(engine *renewal.Engine, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{engine: engine, logger: logger}
	if err := c.Load(defaultCatalog); err != nil {
		return nil, fmt.Errorf("load embedded catalog: %w", err)
	}
	return c, nil
}

// LoadFile заменяет справочник содержимым файла path.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog file: %w", err)
	}
	return c.Load(data)
}

// Load разбирает и проверяет JSON-справочник, затем атомарно заменяет текущий.
func (c *Catalog) Load(data []byte) error {
	db, err := Parse(data)
	if err != nil {
		return err
	}
	c.swap(db)
	return nil
}

func (c *Catalog) swap(db *Database) {
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()

	c.logger.Info("catalog loaded",
		zap.String("version", db.Version),
		zap.Int("cards", len(db.Cards)),
	)
}

// Parse разбирает JSON-справочник и проверяет его.
func Parse(data []byte) (*Database, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var db Database
	if err := dec.Decode(&db); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if err := db.validate(); err != nil {
		return nil, err
	}
	return &db, nil
}

func (db *Database) validate() error {
	if strings.TrimSpace(db.Version) == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidCatalog)
	}

	seen := make(map[string]struct{}, len(db.Cards))
	for _, card := range db.Cards {
		if strings.TrimSpace(card.CardType) == "" {
			return fmt.Errorf("%w: card %q has no type", ErrInvalidCatalog, card.ID)
		}
		if _, dup := seen[card.CardType]; dup {
			return fmt.Errorf("%w: duplicate card type %q", ErrInvalidCatalog, card.CardType)
		}
		seen[card.CardType] = struct{}{}

		for _, cr := range card.Credits {
			if strings.TrimSpace(cr.Name) == "" {
				return fmt.Errorf("%w: card %q has a credit without name", ErrInvalidCatalog, card.CardType)
			}
			if cr.Amount.IsNegative() {
				return fmt.Errorf("%w: credit %q has negative amount", ErrInvalidCatalog, cr.Name)
			}
		}
	}
	return nil
}

func (c *Catalog) find(cardType string) (CardEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, card := range c.db.Cards {
		if card.CardType == cardType {
			return card, true
		}
	}
	return CardEntry{}, false
}

// ListCardTypes возвращает названия типов карт в порядке справочника.
func (c *Catalog) ListCardTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.db.Cards))
	for _, card := range c.db.Cards {
		types = append(types, card.CardType)
	}
	return types
}

// Cards возвращает копию записей справочника.
func (c *Catalog) Cards() []CardEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cards := make([]CardEntry, len(c.db.Cards))
	copy(cards, c.db.Cards)
	return cards
}

// Card возвращает запись справочника для типа карты.
func (c *Catalog) Card(cardType string) (CardEntry, bool) {
	return c.find(cardType)
}

// CreditsForCardType создаёт кредиты по шаблонам типа карты.
// Каждый кредит получает новый идентификатор и даты текущего периода.
// Для неизвестного типа возвращается пустой список.
func (c *Catalog) CreditsForCardType(cardType string) []model.Credit {
	card, ok := c.find(cardType)
	if !ok {
		return []model.Credit{}
	}

	credits := make([]model.Credit, 0, len(card.Credits))
	for _, tpl := range card.Credits {
		freq := renewal.NormalizeFrequency(tpl.Frequency)
		start, end := c.engine.InitialPeriod(freq)

		currency := strings.ToUpper(tpl.Currency)
		if currency == "" {
			currency = model.DefaultCurrency
		}

		credits = append(credits, model.Credit{
			ID:             uuid.New(),
			Name:           tpl.Name,
			FrequencyLabel: tpl.Frequency,
			Frequency:      freq,
			Amount:         tpl.Amount,
			Currency:       currency,
			Category:       tpl.Category,
			RenewalDate:    start,
			ExpirationDate: end,
			Description:    tpl.Description,
			Terms:          tpl.Terms,
		})
	}
	return credits
}

// CardInfoForType возвращает эмитента, платёжную систему и вариант типа карты.
func (c *Catalog) CardInfoForType(cardType string) (CardInfo, bool) {
	card, ok := c.find(cardType)
	if !ok {
		return CardInfo{}, false
	}
	return CardInfo{Issuer: card.Issuer, Network: card.Network, Variant: card.Variant}, true
}

// Info возвращает версию и дату обновления справочника.
func (c *Catalog) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Info{Version: c.db.Version, LastUpdated: c.db.LastUpdated, CardCount: len(c.db.Cards)}
}
