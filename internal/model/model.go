// Package model содержит доменные сущности сервиса учёта бонусов кредитных карт.
package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency используется, если валюта кредита не указана.
const DefaultCurrency = "USD"

// Frequency описывает нормализованную периодичность обновления кредита.
type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiAnnual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
	// FrequencyManual обозначает кредит, который никогда не обновляется автоматически.
	FrequencyManual Frequency = "manual"
)

// Valid сообщает, что f входит в закрытый набор периодичностей.
func (f Frequency) Valid() bool {
	return f.IsAutomatic() || f == FrequencyManual
}

// IsAutomatic сообщает, выравнивается ли периодичность по границам календарных периодов.
func (f Frequency) IsAutomatic() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencySemiAnnual, FrequencyAnnual:
		return true
	default:
		return false
	}
}

// User представляет локального пользователя, подготовленного для облачной синхронизации.
type User struct {
	ID                 uuid.UUID `json:"id"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
	LastLoginAt        time.Time `json:"lastLoginAt"`
	IsCloudSyncEnabled bool      `json:"isCloudSyncEnabled"`
}

// Credit описывает периодический денежный бонус, привязанный к карте.
type Credit struct {
	ID     uuid.UUID `json:"id"`
	CardID uuid.UUID `json:"cardId"`
	Name   string    `json:"name"`
	// FrequencyLabel хранит периодичность в том виде, в каком её ввели или импортировали.
	FrequencyLabel string          `json:"frequency"`
	Frequency      Frequency       `json:"frequencyKind"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Category       string          `json:"category"`
	RenewalDate    time.Time       `json:"renewalDate"`
	ExpirationDate time.Time       `json:"expirationDate"`
	IsUsed         bool            `json:"isUsed"`
	UsedAt         *time.Time      `json:"usedAt,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Terms          *string         `json:"terms,omitempty"`
}

// MarkUsed отмечает кредит использованным в момент at.
func (c *Credit) MarkUsed(at time.Time) {
	c.IsUsed = true
	c.UsedAt = &at
}

// MarkUnused снимает отметку об использовании.
func (c *Credit) MarkUnused() {
	c.IsUsed = false
	c.UsedAt = nil
}

// ToggleUsage переключает состояние использования кредита.
func (c *Credit) ToggleUsage(at time.Time) {
	if c.IsUsed {
		c.MarkUnused()
		return
	}
	c.MarkUsed(at)
}

// Card описывает кредитную карту пользователя вместе с её кредитами.
type Card struct {
	ID       uuid.UUID  `json:"id"`
	UserID   *uuid.UUID `json:"userId,omitempty"`
	CardType string     `json:"cardType"`
	Nickname string     `json:"nickname"`
	Issuer   string     `json:"issuer"`
	Network  string     `json:"network"`
	Variant  string     `json:"variant"`
	AddedAt  time.Time  `json:"addedAt"`
	Credits  []Credit   `json:"credits"`
}

// TotalValue возвращает суммарную стоимость всех кредитов карты.
func (c Card) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, cr := range c.Credits {
		total = total.Add(cr.Amount)
	}
	return total
}

// AvailableCredits возвращает неиспользованные кредиты.
func (c Card) AvailableCredits() []Credit {
	res := make([]Credit, 0, len(c.Credits))
	for _, cr := range c.Credits {
		if !cr.IsUsed {
			res = append(res, cr)
		}
	}
	return res
}

// UsedCredits возвращает использованные кредиты.
func (c Card) UsedCredits() []Credit {
	res := make([]Credit, 0, len(c.Credits))
	for _, cr := range c.Credits {
		if cr.IsUsed {
			res = append(res, cr)
		}
	}
	return res
}

// PredominantCategory возвращает самую частую категорию кредитов карты.
// При равенстве выбирается категория, идущая раньше по алфавиту.
func (c Card) PredominantCategory() string {
	if len(c.Credits) == 0 {
		return "Other"
	}

	counts := make(map[string]int)
	for _, cr := range c.Credits {
		counts[cr.Category]++
	}

	categories := make([]string, 0, len(counts))
	for k := range counts {
		categories = append(categories, k)
	}
	sort.Strings(categories)

	best := categories[0]
	for _, k := range categories[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}

// CreditSummary содержит сводную статистику по кредитам.
type CreditSummary struct {
	TotalCredits     int             `json:"totalCredits"`
	AvailableCredits int             `json:"availableCredits"`
	UsedCredits      int             `json:"usedCredits"`
	ExpiringCredits  int             `json:"expiringCredits"`
	TotalValue       decimal.Decimal `json:"totalValue"`
	AvailableValue   decimal.Decimal `json:"availableValue"`
	UsedValue        decimal.Decimal `json:"usedValue"`
	UtilizationRate  float64         `json:"utilizationRate"`
}

// DashboardSummary содержит агрегаты для главного экрана.
type DashboardSummary struct {
	TotalCards            int             `json:"totalCards"`
	TotalCredits          int             `json:"totalCredits"`
	TotalAvailableValue   decimal.Decimal `json:"totalAvailableValue"`
	TotalUsedValue        decimal.Decimal `json:"totalUsedValue"`
	ExpiringCreditsCount  int             `json:"expiringCreditsCount"`
	UtilizationPercentage float64         `json:"utilizationPercentage"`
}
